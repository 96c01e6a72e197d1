// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package devicedb stores ingested devices, their records and the batch
// history in SQLite. The UNIQUE constraint on the device hash is what makes
// concurrent ingestion of the same device safe: the first commit wins.
package devicedb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/DCSO/dropwatch/records"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDeviceExists is returned by CommitDevice if the device hash is
// already stored.
var ErrDeviceExists = errors.New("device already exists")

// ErrNotFound is returned for unknown batch ids.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store on an already opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens or creates the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err = NewMigrator(db).Up(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Device database initialized: ", path)
	return NewStore(db), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DeviceExists reports whether a device with the given hash is stored.
func (s *Store) DeviceExists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM devices WHERE device_name_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query device")
	}
	return n > 0, nil
}

// CommitDevice stores a device and all of its records in one transaction
// and returns the new device id. Nothing is written if any insert fails.
func (s *Store) CommitDevice(ctx context.Context, dr records.DeviceRecords) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin tx commit device")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	d := dr.Device
	res, err := tx.ExecContext(ctx, `
		INSERT INTO devices(
			device_name_hash, device_name, hostname, ip, country, language,
			os_version, username, hwid, antivirus, stealer, infection_date,
			upload_batch, total_files, total_credentials, total_domains,
			total_urls, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Hash, d.Name, nullIfEmpty(d.Hostname), nullIfEmpty(d.IP),
		nullIfEmpty(d.Country), nullIfEmpty(d.Language), nullIfEmpty(d.OS),
		nullIfEmpty(d.Username), nullIfEmpty(d.HWID), nullIfEmpty(d.Antivirus),
		nullIfEmpty(d.Stealer), nullIfEmpty(d.InfectionDate), d.BatchID,
		d.TotalFiles, d.TotalCreds, d.TotalDomains, d.TotalURLs,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrDeviceExists
			return 0, err
		}
		return 0, errors.Wrap(err, "insert device")
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "device id")
	}

	if err = insertAll(ctx, tx, `
		INSERT INTO credentials(device_id, url, domain, tld, username, password, application, stealer, file_path)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(dr.Credentials), func(i int) []any {
		c := dr.Credentials[i]
		return []any{id, c.URL, nullIfEmpty(c.Domain), nullIfEmpty(c.TLD), c.Username,
			c.Password, nullIfEmpty(c.Application), nullIfEmpty(c.Stealer), c.FilePath}
	}); err != nil {
		return 0, errors.Wrap(err, "insert credentials")
	}

	if err = insertAll(ctx, tx, `
		INSERT INTO cards(device_id, card_number_masked, card_type, expiration, holder, source_file)
		VALUES(?, ?, ?, ?, ?, ?)`, len(dr.Cards), func(i int) []any {
		c := dr.Cards[i]
		return []any{id, c.Masked, c.Brand, nullIfEmpty(c.Expiration), nullIfEmpty(c.Holder), c.SourceFile}
	}); err != nil {
		return 0, errors.Wrap(err, "insert cards")
	}

	if err = insertAll(ctx, tx, `
		INSERT INTO software(device_id, software_name, version, source_file)
		VALUES(?, ?, ?, ?)`, len(dr.Software), func(i int) []any {
		sw := dr.Software[i]
		return []any{id, sw.Name, nullIfEmpty(sw.Version), sw.SourceFile}
	}); err != nil {
		return 0, errors.Wrap(err, "insert software")
	}

	if err = insertAll(ctx, tx, `
		INSERT INTO wallets(device_id, wallet_type, address, mnemonic_hash, word_count,
			private_key_hash, password, derivation_path, source_file)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(dr.Wallets), func(i int) []any {
		w := dr.Wallets[i]
		return []any{id, w.Type, nullIfEmpty(w.Address), nullIfEmpty(w.MnemonicHash),
			w.WordCount, nullIfEmpty(w.PrivateKeyHash), nullIfEmpty(w.Password),
			nullIfEmpty(w.DerivationPath), w.SourceFile}
	}); err != nil {
		return 0, errors.Wrap(err, "insert wallets")
	}

	if err = insertAll(ctx, tx, `
		INSERT INTO files(device_id, file_path, file_name, parent_path, is_directory, file_size, content)
		VALUES(?, ?, ?, ?, ?, ?, ?)`, len(dr.Files), func(i int) []any {
		f := dr.Files[i]
		var content any
		if f.Content != nil {
			content = *f.Content
		}
		isDir := 0
		if f.IsDir {
			isDir = 1
		}
		return []any{id, f.Path, f.Name, nullIfEmpty(f.Parent), isDir, f.Size, content}
	}); err != nil {
		return 0, errors.Wrap(err, "insert files")
	}

	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			err = ErrDeviceExists
			return 0, err
		}
		return 0, errors.Wrap(err, "commit device")
	}
	return id, nil
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, n int, args func(int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// RecordBatch creates or updates the batch row.
func (s *Store) RecordBatch(ctx context.Context, b records.Batch) error {
	var completed any
	if b.CompletedAt != nil {
		completed = b.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads(
			upload_id, filename, origin, status, layout, devices_found,
			devices_processed, devices_skipped, devices_failed, total_credentials,
			total_cards, total_software, total_wallets, total_files,
			malformed_entries, md5, sha1, sha256, sha512, sha3_512,
			pending_digest, error_message, created_at, completed_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			status=excluded.status,
			layout=excluded.layout,
			devices_found=excluded.devices_found,
			devices_processed=excluded.devices_processed,
			devices_skipped=excluded.devices_skipped,
			devices_failed=excluded.devices_failed,
			total_credentials=excluded.total_credentials,
			total_cards=excluded.total_cards,
			total_software=excluded.total_software,
			total_wallets=excluded.total_wallets,
			total_files=excluded.total_files,
			malformed_entries=excluded.malformed_entries,
			md5=excluded.md5,
			sha1=excluded.sha1,
			sha256=excluded.sha256,
			sha512=excluded.sha512,
			sha3_512=excluded.sha3_512,
			pending_digest=excluded.pending_digest,
			error_message=excluded.error_message,
			completed_at=excluded.completed_at
	`, b.ID, b.Filename, nullIfEmpty(b.Origin), b.Status, nullIfEmpty(b.Layout),
		b.DevicesFound, b.DevicesProcessed, b.DevicesSkipped, b.DevicesFailed,
		b.Credentials, b.Cards, b.Software, b.Wallets, b.Files, b.MalformedEntries,
		nullIfEmpty(b.Hashes.Md5), nullIfEmpty(b.Hashes.Sha1), nullIfEmpty(b.Hashes.Sha256),
		nullIfEmpty(b.Hashes.Sha512), nullIfEmpty(b.Hashes.Sha3_512),
		nullIfEmpty(b.PendingDigest), nullIfEmpty(b.ErrorMessage),
		b.CreatedAt.UTC().Format(time.RFC3339), completed)
	if err != nil {
		return errors.Wrap(err, "upsert batch")
	}
	return nil
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (records.Batch, error) {
	var b records.Batch
	var origin, layout, md5, sha1, sha256, sha512, sha3, pending, errMsg, completed sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT upload_id, filename, origin, status, layout, devices_found,
			devices_processed, devices_skipped, devices_failed, total_credentials,
			total_cards, total_software, total_wallets, total_files,
			malformed_entries, md5, sha1, sha256, sha512, sha3_512,
			pending_digest, error_message, created_at, completed_at
		FROM uploads WHERE upload_id = ?
	`, id).Scan(&b.ID, &b.Filename, &origin, &b.Status, &layout, &b.DevicesFound,
		&b.DevicesProcessed, &b.DevicesSkipped, &b.DevicesFailed, &b.Credentials,
		&b.Cards, &b.Software, &b.Wallets, &b.Files, &b.MalformedEntries,
		&md5, &sha1, &sha256, &sha512, &sha3, &pending, &errMsg, &created, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, errors.Wrap(err, "query batch")
	}
	b.Origin = origin.String
	b.Layout = layout.String
	b.Hashes = records.HashInfo{
		Md5: md5.String, Sha1: sha1.String, Sha256: sha256.String,
		Sha512: sha512.String, Sha3_512: sha3.String,
	}
	b.PendingDigest = pending.String
	b.ErrorMessage = errMsg.String
	if t, perr := time.Parse(time.RFC3339, created); perr == nil {
		b.CreatedAt = t
	}
	if completed.Valid {
		if t, perr := time.Parse(time.RFC3339, completed.String); perr == nil {
			b.CompletedAt = &t
		}
	}
	return b, nil
}

// DeviceSummary is a short view of a stored device.
type DeviceSummary struct {
	ID          int64
	Hash        string
	Name        string
	Stealer     string
	Credentials int
	Cards       int
	Software    int
	Wallets     int
	Files       int
}

// GetDevice returns counts of the records stored for a device hash.
func (s *Store) GetDevice(ctx context.Context, hash string) (DeviceSummary, error) {
	var d DeviceSummary
	var stealer sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.device_name_hash, d.device_name, d.stealer,
			(SELECT COUNT(1) FROM credentials WHERE device_id = d.id),
			(SELECT COUNT(1) FROM cards WHERE device_id = d.id),
			(SELECT COUNT(1) FROM software WHERE device_id = d.id),
			(SELECT COUNT(1) FROM wallets WHERE device_id = d.id),
			(SELECT COUNT(1) FROM files WHERE device_id = d.id)
		FROM devices d WHERE d.device_name_hash = ?
	`, hash).Scan(&d.ID, &d.Hash, &d.Name, &stealer, &d.Credentials, &d.Cards,
		&d.Software, &d.Wallets, &d.Files)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, ErrNotFound
		}
		return d, errors.Wrap(err, "query device")
	}
	d.Stealer = stealer.String
	return d, nil
}

// CountDevices returns the number of stored devices.
func (s *Store) CountDevices(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM devices`).Scan(&n)
	return n, errors.Wrap(err, "count devices")
}
