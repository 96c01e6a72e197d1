// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package pendingdb persists password-protected drops awaiting extraction
// and the passwords learned from successful extractions.
package pendingdb

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	bolt "github.com/etcd-io/bbolt"
	log "github.com/sirupsen/logrus"
)

const (
	pendingBucket  = "PENDING"
	passwordBucket = "PASSWORDS"

	// DatabaseName is the file name of the database file.
	DatabaseName = "pending.db"
)

// DB is an open pending archive database.
type DB struct {
	db *bolt.DB
}

// Open opens the database in dataPath. If not present it will be created.
func Open(dataPath string) (*DB, error) {
	db, err := bolt.Open(filepath.Join(dataPath, DatabaseName), 0600,
		&bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{pendingBucket, passwordBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Database initialized:", db.Path())
	return &DB{db: db}, nil
}

// Close should be called before the program terminates.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.db.Path()
}

// Put creates or replaces the entry for a.FileHash.
func (d *DB) Put(a Archive) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return err
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put([]byte(a.FileHash), encoded)
	})
	if err == nil {
		log.Debug("Stored pending archive in database:", a.FileHash)
	}
	return err
}

// Delete removes the entry for digest. Missing entries are not an error.
func (d *DB) Delete(digest string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete([]byte(digest))
	})
}

// All returns every stored entry by digest. Undecodable entries are
// skipped with a warning.
func (d *DB) All() (map[string]Archive, error) {
	out := make(map[string]Archive)
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(k, v []byte) error {
			var a Archive
			if err := json.Unmarshal(v, &a); err != nil {
				log.Warnf("skipping undecodable pending entry %s: %v", k, err)
				return nil
			}
			out[string(k)] = a
			return nil
		})
	})
	return out, err
}

// AddPassword appends pw to the learned password list unless it is
// already present. It reports whether pw was added.
func (d *DB) AddPassword(pw string) (bool, error) {
	added := false
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(passwordBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == pw {
				return nil
			}
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		added = true
		return b.Put(key, []byte(pw))
	})
	return added, err
}

// Passwords returns the learned passwords in the order they were added.
func (d *DB) Passwords() ([]string, error) {
	var out []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(passwordBucket)).ForEach(func(_, v []byte) error {
			out = append(out, string(v))
			return nil
		})
	})
	return out, err
}
