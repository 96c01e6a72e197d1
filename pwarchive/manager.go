// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package pwarchive keeps track of password-protected drops until a
// password is found, either from the shared list of common stealer log
// passwords or supplied by an operator.
package pwarchive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DCSO/dropwatch/archive"
	"github.com/DCSO/dropwatch/pendingdb"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	ErrWrongPassword = errors.New("wrong password")
	ErrTimeout       = errors.New("extraction timed out")
	ErrExtraction    = errors.New("extraction failed")
	ErrNotFound      = errors.New("pending archive not found")
	ErrArchiveGone   = errors.New("archive file no longer exists")
	ErrBusy          = errors.New("extraction already in progress")
	// ErrPersist wraps failures to write manager state to the database.
	ErrPersist       = errors.New("could not persist archive state")
)

// DigestSize is the number of leading bytes hashed into a pending digest.
const DigestSize = 1 << 20

// DefaultTimeout bounds a single extraction tool run.
const DefaultTimeout = 5 * time.Minute

// Notification event names.
const (
	EventPending       = "pending"
	EventExtracted     = "extracted"
	EventWrongPassword = "wrong_password"
	EventAbandoned     = "abandoned"
)

// PendingArchive is the tracked state of a password-protected drop.
type PendingArchive = pendingdb.Archive

// Notifier receives JSON encoded manager events.
type Notifier interface {
	Submit([]byte) error
}

// Event is the message sent to the Notifier.
type Event struct {
	Event   string         `json:"event"`
	Time    time.Time      `json:"time"`
	Archive PendingArchive `json:"archive"`
	OutDir  string         `json:"out_dir,omitempty"`
}

// Origin describes where a drop came from.
type Origin struct {
	Source    string
	ChatID    *int64
	MessageID *int64
	Hints     []string
}

// ExtractResult describes a successful extraction.
type ExtractResult struct {
	Archive  PendingArchive
	Password string
	OutDir   string
}

// Config holds the collaborators of a Manager.
type Config struct {
	DB        *pendingdb.DB
	Extractor Extractor
	Fs        afero.Fs
	Notifier  Notifier
	Passwords []string
	Timeout   time.Duration
}

// Manager is the single owner of the pending archive set. All mutations
// happen under its lock and are persisted before it is released.
type Manager struct {
	sync.Mutex
	db        *pendingdb.DB
	extractor Extractor
	fs        afero.Fs
	notifier  Notifier
	timeout   time.Duration
	pending   map[string]*PendingArchive
	passwords []string
	known     map[string]bool
	logger    *log.Entry
}

// MakeManager loads the persisted state and returns a ready Manager.
// Archives left in processing state by a crash are reset to pending.
func MakeManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil || cfg.Extractor == nil {
		return nil, fmt.Errorf("pending database and extractor are required")
	}
	m := &Manager{
		db:        cfg.DB,
		extractor: cfg.Extractor,
		fs:        cfg.Fs,
		notifier:  cfg.Notifier,
		timeout:   cfg.Timeout,
		pending:   make(map[string]*PendingArchive),
		known:     make(map[string]bool),
		logger:    log.WithFields(log.Fields{"component": "pwarchive"}),
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}

	all, err := m.db.All()
	if err != nil {
		return nil, err
	}
	for digest, a := range all {
		a := a
		if a.Status == pendingdb.StatusProcessing {
			a.Status = pendingdb.StatusPending
			if err := m.db.Put(a); err != nil {
				return nil, err
			}
			m.logger.WithField("digest", digest).Info("reset interrupted extraction to pending")
		}
		m.pending[digest] = &a
	}

	for _, pw := range cfg.Passwords {
		m.remember(pw)
	}
	learned, err := m.db.Passwords()
	if err != nil {
		return nil, err
	}
	for _, pw := range learned {
		m.remember(pw)
	}
	m.logger.Debugf("loaded %d pending archives, %d passwords", len(m.pending), len(m.passwords))
	return m, nil
}

func (m *Manager) remember(pw string) bool {
	if pw == "" || m.known[pw] {
		return false
	}
	m.known[pw] = true
	m.passwords = append(m.passwords, pw)
	return true
}

// learn persists pw and adds it to the shared list. Caller holds the lock.
func (m *Manager) learn(pw string) error {
	if pw == "" || m.known[pw] {
		return nil
	}
	if _, err := m.db.AddPassword(pw); err != nil {
		return fmt.Errorf("%w: learned password: %v", ErrPersist, err)
	}
	m.remember(pw)
	m.logger.Info("learned new common password")
	return nil
}

func (m *Manager) notify(event string, a PendingArchive, outDir string) {
	if m.notifier == nil {
		return
	}
	msg, err := json.Marshal(Event{
		Event:   event,
		Time:    time.Now().UTC(),
		Archive: a,
		OutDir:  outDir,
	})
	if err != nil {
		m.logger.Warn(err)
		return
	}
	if err := m.notifier.Submit(msg); err != nil {
		m.logger.Warnf("notification %s failed: %v", event, err)
	}
}

// Digest returns the identifier of an archive file: the first 16 hex
// characters of the SHA-256 over its first MiB.
func Digest(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, DigestSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Detect reports whether the archive at path needs a password. ZIP files
// are checked natively, anything else by a password-less test run.
func (m *Manager) Detect(ctx context.Context, path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return archive.IsEncryptedZip(m.fs, path)
	case ".rar", ".7z":
		tctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		outcome, err := m.extractor.Test(tctx, path, "")
		if err != nil {
			m.logger.WithField("file", path).Debugf("test run failed: %v", err)
		}
		return outcome == OutcomeWrongPassword
	}
	return false
}

// RegisterPending starts tracking an archive. Registering the same
// content twice returns the existing record.
func (m *Manager) RegisterPending(path string, origin Origin) (PendingArchive, error) {
	digest, err := Digest(m.fs, path)
	if err != nil {
		return PendingArchive{}, err
	}

	m.Lock()
	if a, ok := m.pending[digest]; ok {
		m.Unlock()
		return *a, nil
	}
	a := PendingArchive{
		FilePath:   path,
		FileName:   filepath.Base(path),
		FileHash:   digest,
		DetectedAt: time.Now().UTC(),
		Source:     origin.Source,
		ChatID:     origin.ChatID,
		MessageID:  origin.MessageID,
		Hints:      origin.Hints,
		Status:     pendingdb.StatusPending,
	}
	if err := m.db.Put(a); err != nil {
		m.Unlock()
		return PendingArchive{}, err
	}
	m.pending[digest] = &a
	m.Unlock()

	m.logger.WithFields(log.Fields{
		"digest": digest,
		"file":   a.FileName,
	}).Info("archive awaiting password")
	m.notify(EventPending, a, "")
	return a, nil
}

func (m *Manager) candidates(path string, hints []string) []string {
	m.Lock()
	out := make([]string, len(m.passwords))
	copy(out, m.passwords)
	m.Unlock()

	seen := make(map[string]bool, len(out))
	for _, pw := range out {
		seen[pw] = true
	}
	for _, pw := range append(hints, HintsFromName(path)...) {
		if pw != "" && !seen[pw] {
			seen[pw] = true
			out = append(out, pw)
		}
	}
	return out
}

// TryCommonPasswords tests the shared password list and then the hints
// against the archive, stopping at the first password that works. A
// working hint is added to the shared list; if that cannot be persisted the
// password is still returned together with an ErrPersist error.
func (m *Manager) TryCommonPasswords(ctx context.Context, path string, hints ...string) (string, bool, error) {
	if _, err := m.fs.Stat(path); err != nil {
		return "", false, err
	}
	candidates := m.candidates(path, hints)
	m.logger.WithField("file", filepath.Base(path)).Debugf("trying %d passwords", len(candidates))

	for _, pw := range candidates {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		tctx, cancel := context.WithTimeout(ctx, m.timeout)
		outcome, err := m.extractor.Test(tctx, path, pw)
		cancel()
		if outcome == OutcomeOK {
			m.Lock()
			err = m.learn(pw)
			m.Unlock()
			return pw, true, err
		}
		if err != nil && outcome == OutcomeOther {
			m.logger.WithField("file", path).Debugf("test run failed: %v", err)
		}
	}
	return "", false, nil
}

// ExtractWith extracts a pending archive into outDir using password.
// On success the record is removed and the password learned. On any
// failure the record returns to pending. A failed database write is
// reported as ErrPersist; if the record could not be removed the
// extraction is treated as failed. A password that could not be learned
// comes with a complete result.
func (m *Manager) ExtractWith(ctx context.Context, digest, password, outDir string) (ExtractResult, error) {
	m.Lock()
	a, ok := m.pending[digest]
	if !ok {
		m.Unlock()
		return ExtractResult{}, ErrNotFound
	}
	if a.Status == pendingdb.StatusProcessing {
		m.Unlock()
		return ExtractResult{}, ErrBusy
	}
	if _, err := m.fs.Stat(a.FilePath); err != nil && os.IsNotExist(err) {
		if derr := m.db.Delete(digest); derr != nil {
			m.Unlock()
			return ExtractResult{}, errors.Join(ErrArchiveGone, fmt.Errorf("%w: %v", ErrPersist, derr))
		}
		delete(m.pending, digest)
		m.Unlock()
		m.logger.WithField("digest", digest).Warn("pending archive vanished")
		return ExtractResult{}, ErrArchiveGone
	}
	now := time.Now().UTC()
	a.Attempts++
	a.LastAttempt = &now
	a.Status = pendingdb.StatusProcessing
	if err := m.db.Put(*a); err != nil {
		a.Status = pendingdb.StatusPending
		m.Unlock()
		return ExtractResult{}, err
	}
	path := a.FilePath
	m.Unlock()

	outcome, err := m.extract(ctx, path, password, outDir)

	m.Lock()
	a, ok = m.pending[digest]
	if !ok {
		// abandoned while extracting
		if outcome != OutcomeOK {
			m.Unlock()
			return ExtractResult{}, ErrNotFound
		}
		err = m.learn(password)
		m.Unlock()
		return ExtractResult{Password: password, OutDir: outDir}, err
	}
	snapshot := *a
	if outcome == OutcomeOK {
		if derr := m.db.Delete(digest); derr != nil {
			// the stored record still says processing and loads as
			// pending, so the extraction does not count
			a.Status = pendingdb.StatusPending
			m.Unlock()
			snapshot.Status = pendingdb.StatusPending
			return ExtractResult{Archive: snapshot}, fmt.Errorf("%w: %v", ErrPersist, derr)
		}
		delete(m.pending, digest)
		lerr := m.learn(password)
		m.Unlock()
		snapshot.Status = pendingdb.StatusExtracted
		m.logger.WithField("digest", digest).Info("archive extracted")
		m.notify(EventExtracted, snapshot, outDir)
		return ExtractResult{Archive: snapshot, Password: password, OutDir: outDir}, lerr
	}

	a.Status = pendingdb.StatusPending
	perr := m.db.Put(*a)
	m.Unlock()
	snapshot.Status = pendingdb.StatusPending
	var result error
	switch {
	case outcome == OutcomeWrongPassword:
		m.notify(EventWrongPassword, snapshot, "")
		result = ErrWrongPassword
	case errors.Is(err, context.DeadlineExceeded):
		result = ErrTimeout
	default:
		result = fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if perr != nil {
		result = errors.Join(result, fmt.Errorf("%w: %v", ErrPersist, perr))
	}
	return ExtractResult{Archive: snapshot}, result
}

func (m *Manager) extract(ctx context.Context, path, password, outDir string) (Outcome, error) {
	if err := m.fs.MkdirAll(outDir, 0755); err != nil {
		return OutcomeOther, err
	}
	tctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	outcome, err := m.extractor.Extract(tctx, path, password, outDir)
	if err == nil && outcome != OutcomeOK && tctx.Err() != nil {
		err = tctx.Err()
	}
	return outcome, err
}

// ListPending returns a snapshot of all tracked archives, oldest first.
func (m *Manager) ListPending() []PendingArchive {
	m.Lock()
	out := make([]PendingArchive, 0, len(m.pending))
	for _, a := range m.pending {
		out = append(out, *a)
	}
	m.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Get returns the record for digest.
func (m *Manager) Get(digest string) (PendingArchive, bool) {
	m.Lock()
	defer m.Unlock()
	a, ok := m.pending[digest]
	if !ok {
		return PendingArchive{}, false
	}
	return *a, true
}

// Abandon stops tracking an archive. The file itself is left alone.
func (m *Manager) Abandon(digest string) error {
	m.Lock()
	a, ok := m.pending[digest]
	if !ok {
		m.Unlock()
		return ErrNotFound
	}
	if err := m.db.Delete(digest); err != nil {
		m.Unlock()
		return err
	}
	delete(m.pending, digest)
	snapshot := *a
	m.Unlock()
	m.notify(EventAbandoned, snapshot, "")
	return nil
}

// CleanupOlderThan drops pending records detected more than maxAge ago
// and returns how many were removed.
func (m *Manager) CleanupOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	m.Lock()
	defer m.Unlock()
	removed := 0
	for digest, a := range m.pending {
		if a.Status != pendingdb.StatusPending || !a.DetectedAt.Before(cutoff) {
			continue
		}
		if err := m.db.Delete(digest); err != nil {
			return removed, err
		}
		delete(m.pending, digest)
		removed++
	}
	if removed > 0 {
		m.logger.Infof("expired %d pending archives", removed)
	}
	return removed, nil
}

// Passwords returns a copy of the shared password list.
func (m *Manager) Passwords() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.passwords))
	copy(out, m.passwords)
	return out
}

// AddPassword adds an operator supplied password to the shared list. It
// returns false if the password was already known.
func (m *Manager) AddPassword(pw string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	if pw == "" || m.known[pw] {
		return false, nil
	}
	if _, err := m.db.AddPassword(pw); err != nil {
		return false, err
	}
	m.remember(pw)
	return true, nil
}
