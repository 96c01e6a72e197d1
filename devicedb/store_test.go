// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package devicedb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DCSO/dropwatch/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords(t *testing.T, name string) records.DeviceRecords {
	t.Helper()
	dr := records.DeviceRecords{Device: records.NewDevice(name, "batch-1")}
	c1, err := records.NewCredential("https://www.example.com/login", "alice", "secret")
	require.NoError(t, err)
	c2, err := records.NewCredential("https://shop.example.org", "bob", "hunter2")
	require.NoError(t, err)
	dr.Credentials = []records.Credential{c1, c2}
	card, err := records.NewCard("4111 1111 1111 1111", "12/2030", "ALICE A")
	require.NoError(t, err)
	dr.Cards = []records.Card{card}
	sw, err := records.NewSoftware("7-Zip", "19.00")
	require.NoError(t, err)
	dr.Software = []records.Software{sw}
	w, err := records.NewWallet(records.WalletSecrets{Address: "0x52908400098527886E0F7030069857D2E4169EE7"})
	require.NoError(t, err)
	dr.Wallets = []records.Wallet{w}
	content := "URL: https://www.example.com"
	f := records.NewFileNode(name+"/Passwords.txt", int64(len(content)), false)
	f.Content = &content
	dr.Files = []records.FileNode{records.NewFileNode(name, 0, true), f}
	dr.Finalize()
	return dr
}

func TestCommitDevice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dr := testRecords(t, "US[ABC123]")

	exists, err := s.DeviceExists(ctx, dr.Device.Hash)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := s.CommitDevice(ctx, dr)
	require.NoError(t, err)
	assert.NotZero(t, id)

	exists, err = s.DeviceExists(ctx, dr.Device.Hash)
	require.NoError(t, err)
	assert.True(t, exists)

	d, err := s.GetDevice(ctx, dr.Device.Hash)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, 2, d.Credentials)
	assert.Equal(t, 1, d.Cards)
	assert.Equal(t, 1, d.Software)
	assert.Equal(t, 1, d.Wallets)
	assert.Equal(t, 2, d.Files)
}

func TestCommitDeviceTwice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CommitDevice(ctx, testRecords(t, "US[ABC123]"))
	require.NoError(t, err)
	// same normalized name
	_, err = s.CommitDevice(ctx, testRecords(t, "us[abc123]"))
	assert.True(t, errors.Is(err, ErrDeviceExists))

	n, err := s.CountDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCommitDeviceConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dr := testRecords(t, "DE[XYZ]")
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, dup := 0, 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitDevice(ctx, dr)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrDeviceExists) {
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, dup)
}

func TestCommitDeviceRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dr := testRecords(t, "FR[ROLLBACK]")
	dr.Files = append(dr.Files, records.FileNode{Path: "broken"})
	_, err := s.db.ExecContext(ctx, `CREATE TRIGGER no_empty BEFORE INSERT ON files
		WHEN NEW.file_name = '' BEGIN SELECT RAISE(ABORT, 'empty name'); END;`)
	require.NoError(t, err)

	_, err = s.CommitDevice(ctx, dr)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDeviceExists))

	exists, err := s.DeviceExists(ctx, dr.Device.Hash)
	require.NoError(t, err)
	assert.False(t, exists)
	var creds int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM credentials`).Scan(&creds))
	assert.Zero(t, creds)
}

func TestRecordBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := records.Batch{
		ID:        "0b5ad4a4-5a1c-4f5e-9d6e-1a2b3c4d5e6f",
		Filename:  "drop.zip",
		Status:    records.BatchProcessing,
		CreatedAt: time.Now(),
		Hashes:    records.HashInfo{Sha256: "abc"},
	}
	require.NoError(t, s.RecordBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, records.BatchProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	b.DevicesFound = 3
	b.DevicesProcessed = 2
	b.DevicesFailed = 1
	b.Credentials = 7
	b.Finish(records.BatchCompleted, "")
	require.NoError(t, s.RecordBatch(ctx, b))

	got, err = s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, records.BatchCompleted, got.Status)
	assert.Equal(t, 3, got.DevicesFound)
	assert.Equal(t, 2, got.DevicesProcessed)
	assert.Equal(t, 1, got.DevicesFailed)
	assert.Equal(t, 7, got.Credentials)
	assert.Equal(t, "abc", got.Hashes.Sha256)
	assert.NotNil(t, got.CompletedAt)

	_, err = s.GetBatch(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMigratorRerunsAll(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CommitDevice(ctx, testRecords(t, "NL[RERUN]"))
	require.NoError(t, err)

	// every file runs again on each Up, nothing records applied versions
	m := NewMigrator(s.db)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))
	var tables int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE '%migration%'`).Scan(&tables))
	assert.Zero(t, tables)

	n, err := s.CountDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenTwice(t *testing.T) {
	p := filepath.Join(t.TempDir(), "devices.db")
	ctx := context.Background()
	s, err := Open(ctx, p)
	require.NoError(t, err)
	_, err = s.CommitDevice(ctx, testRecords(t, "NL[ONE]"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, p)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
