// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DCSO/dropwatch/ingest"
	"github.com/DCSO/dropwatch/records"
)

func TestAllowedMagicPattern(t *testing.T) {
	for magic, allowed := range map[string]bool{
		"Zip archive data, at least v2.0 to extract, compression method=deflate": true,
		"RAR archive data, v5":                              true,
		"7-zip archive data, version 0.4":                   true,
		"PE32 executable (GUI) Intel 80386, for MS Windows": false,
		"ASCII text": false,
		"":           false,
	} {
		if AllowedMagicPattern(magic) != allowed {
			t.Errorf("magic '%s': expected allowed=%v", magic, allowed)
		}
	}
}

func TestIsDropName(t *testing.T) {
	for name, ok := range map[string]bool{
		"/drops/redline_fresh.zip": true,
		"logs.RAR":                 true,
		"a/b/c.7z":                 true,
		"notes.txt":                false,
		".partial.zip":             false,
		"zip":                      false,
	} {
		if IsDropName(name) != ok {
			t.Errorf("%s: expected %v", name, ok)
		}
	}
}

func makeFile(t *testing.T, dir, name string) string {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("drop"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func summary(status string) ingest.Summary {
	return ingest.Summary{Batch: records.Batch{ID: "b", Status: status}}
}

func TestDisposer(t *testing.T) {
	dir := t.TempDir()
	done := filepath.Join(dir, "done")
	failed := filepath.Join(dir, "failed")

	// without target directories, completed drops are removed and failed
	// ones stay
	d := &Disposer{}
	p := makeFile(t, dir, "a.zip")
	if err := d.Dispose(p, summary(records.BatchCompleted)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("completed drop not removed")
	}
	p = makeFile(t, dir, "b.zip")
	if err := d.Dispose(p, summary(records.BatchFailed)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatal("failed drop removed")
	}

	d = &Disposer{DoneDir: done, FailedDir: failed}
	if err := d.Dispose(p, summary(records.BatchFailed)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(failed, "b.zip")); err != nil {
		t.Fatal("failed drop not moved")
	}
	p = makeFile(t, dir, "c.zip")
	if err := d.Dispose(p, summary(records.BatchCompleted)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(done, "c.zip")); err != nil {
		t.Fatal("completed drop not moved")
	}

	// same name again must not overwrite the first one
	p = makeFile(t, dir, "c.zip")
	if err := d.Dispose(p, summary(records.BatchCompleted)); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(done)
	if len(entries) != 2 {
		t.Fatalf("expected 2 files in done dir, got %d", len(entries))
	}

	p = makeFile(t, dir, "d.zip")
	if err := d.Dispose(p, summary(records.BatchAwaitingPassword)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatal("locked drop touched")
	}
}
