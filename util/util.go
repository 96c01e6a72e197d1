// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package util contains helpers to build drops for tests.
package util

import (
	"os"
	"time"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DropFile is one member of a test drop.
type DropFile struct {
	Name      string
	Content   string
	Dir       bool
	Encrypted bool
}

// CreateDropZip writes a ZIP drop with the given members to p. Members
// marked Encrypted only carry the encryption flag, their data is stored in
// plain.
func CreateDropZip(fs afero.Fs, p string, files []DropFile) error {
	f, err := fs.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, df := range files {
		hdr := &zip.FileHeader{
			Name:     df.Name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		}
		if df.Dir {
			hdr.Name = df.Name + "/"
			hdr.Method = zip.Store
		}
		if df.Encrypted {
			hdr.Flags |= 0x1
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if df.Dir {
			continue
		}
		if _, err = w.Write([]byte(df.Content)); err != nil {
			return err
		}
	}
	log.Debugf("created test drop %s with %d members", p, len(files))
	return zw.Close()
}

// CreateDropZipWithTime creates a drop like CreateDropZip on the OS file
// system, and sets atime and mtime of the resulting file to the given value.
func CreateDropZipWithTime(p string, files []DropFile, mtime time.Time) error {
	err := CreateDropZip(afero.NewOsFs(), p, files)
	if err != nil {
		return err
	}
	// we treat mtime as atime as well
	return os.Chtimes(p, mtime, mtime)
}

// SingleDevice returns the members of a minimal one-device drop under dir.
func SingleDevice(dir, host string) []DropFile {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	return []DropFile{
		{Name: prefix + "System.txt", Content: "Computer Name: " + host + "\nIP: 198.51.100.1\nCountry: NL\n"},
		{Name: prefix + "Passwords.txt", Content: "URL: https://www.example.com/login\nUSER: " + host + "-user\nPASS: secret\n\n" +
			"URL: https://shop.example.org\nUSER: buyer\nPASS: pw\n"},
	}
}
