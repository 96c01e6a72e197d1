// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/DCSO/dropwatch/ingest"
	"github.com/DCSO/dropwatch/records"
	"github.com/DCSO/dropwatch/uploader"

	log "github.com/sirupsen/logrus"
)

var (
	allowedMagicPatterns = make(map[string]*regexp.Regexp)
	dropNameReg          = regexp.MustCompile(`(?i)\.(zip|rar|7z)$`)
)

func init() {
	allowedMagicPatterns["Zip"] = regexp.MustCompile(`(?i)zip archive`)
	allowedMagicPatterns["RAR"] = regexp.MustCompile(`(?i)RAR archive`)
	allowedMagicPatterns["7z"] = regexp.MustCompile(`(?i)7-zip archive`)
}

// AllowedMagicPattern checks whether a magic string is within the definition
// of files that are relevant for dropwatch, as given via a set of regular
// expressions on magic strings.
func AllowedMagicPattern(magic string) bool {
	for _, pattern := range allowedMagicPatterns {
		if pattern.MatchString(magic) {
			return true
		}
	}
	return false
}

// IsDropName reports whether the file name carries a supported archive
// extension.
func IsDropName(name string) bool {
	return dropNameReg.MatchString(name) && !strings.HasPrefix(filepath.Base(name), ".")
}

// Disposer decides what happens to a drop file once its batch is finished.
// Completed drops are uploaded if an uploader is set, then moved to DoneDir
// or deleted. Failed drops are moved to FailedDir, or left alone if it is
// empty. Drops awaiting a password are never touched.
type Disposer struct {
	DoneDir   string
	FailedDir string
	Uploader  *uploader.Uploader
}

func moveFile(path, dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(target, ext), os.Getpid(), ext)
	}
	return os.Rename(path, target)
}

// Dispose applies the disposal policy to the drop at path.
func (d *Disposer) Dispose(path string, s ingest.Summary) error {
	logger := log.WithFields(log.Fields{
		"file":   filepath.Base(path),
		"batch":  s.ID,
		"status": s.Status,
	})
	switch s.Status {
	case records.BatchAwaitingPassword, records.BatchProcessing:
		logger.Debug("leaving drop in place")
		return nil
	case records.BatchFailed:
		if d.FailedDir == "" {
			return nil
		}
		logger.Infof("moving failed drop to %s", d.FailedDir)
		return moveFile(path, d.FailedDir)
	}

	if d.Uploader != nil {
		err := d.Uploader.Enqueue(uploader.Manifest{
			BatchID:  s.ID,
			Filename: s.Filename,
			Sha256:   s.Hashes.Sha256,
			Status:   s.Status,
		}, path)
		if err != nil {
			return fmt.Errorf("queue upload: %w", err)
		}
	}
	if d.DoneDir != "" {
		logger.Debugf("moving drop to %s", d.DoneDir)
		return moveFile(path, d.DoneDir)
	}
	logger.Info("removing ingested drop")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
