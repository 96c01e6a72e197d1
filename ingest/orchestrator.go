// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package ingest drives a drop through analysis, grouping, parsing and
// commit, and keeps the batch record current while doing so.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DCSO/dropwatch/archive"
	"github.com/DCSO/dropwatch/config"
	"github.com/DCSO/dropwatch/devicedb"
	"github.com/DCSO/dropwatch/pwarchive"
	"github.com/DCSO/dropwatch/records"
	"github.com/DCSO/dropwatch/registry"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Device outcome values.
const (
	DeviceProcessed = "processed"
	DeviceSkipped   = "skipped"
	DeviceFailed    = "failed"
)

// Store persists devices and batches.
type Store interface {
	DeviceExists(ctx context.Context, hash string) (bool, error)
	CommitDevice(ctx context.Context, dr records.DeviceRecords) (int64, error)
	RecordBatch(ctx context.Context, b records.Batch) error
}

// Locker takes care of password-protected drops.
type Locker interface {
	RegisterPending(path string, origin pwarchive.Origin) (pwarchive.PendingArchive, error)
	TryCommonPasswords(ctx context.Context, path string, hints ...string) (string, bool, error)
	ExtractWith(ctx context.Context, digest, password, outDir string) (pwarchive.ExtractResult, error)
}

// Notifier receives the JSON encoded summary of every finished batch.
type Notifier interface {
	Submit([]byte) error
}

// DeviceResult is the outcome for one device of a batch.
type DeviceResult struct {
	Name        string `json:"device_name"`
	Hash        string `json:"device_name_hash"`
	Status      string `json:"status"`
	Credentials int    `json:"credentials,omitempty"`
	Cards       int    `json:"cards,omitempty"`
	Software    int    `json:"software,omitempty"`
	Wallets     int    `json:"wallets,omitempty"`
	Files       int    `json:"files,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Summary is the final state of a batch plus per-device outcomes.
type Summary struct {
	records.Batch
	Devices []DeviceResult `json:"devices,omitempty"`
}

// Config holds the collaborators of an Orchestrator. Locker, Extractor and
// Notifier are optional.
type Config struct {
	Store      Store
	Locker     Locker
	Extractor  pwarchive.Extractor
	Notifier   Notifier
	Fs         afero.Fs
	Tables     *config.Tables
	Detectors  []registry.DetectorPlugin
	ScratchDir string
}

// Orchestrator ingests drops. It is safe for concurrent use; devices with
// the same hash are never processed concurrently.
type Orchestrator struct {
	store      Store
	locker     Locker
	extractor  pwarchive.Extractor
	notifier   Notifier
	fs         afero.Fs
	tables     *config.Tables
	detectors  []registry.DetectorPlugin
	scratchDir string
	locks      *keyedMutex
	logger     *log.Entry
}

// MakeOrchestrator returns an Orchestrator for cfg.
func MakeOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:      cfg.Store,
		locker:     cfg.Locker,
		extractor:  cfg.Extractor,
		notifier:   cfg.Notifier,
		fs:         cfg.Fs,
		tables:     cfg.Tables,
		detectors:  cfg.Detectors,
		scratchDir: cfg.ScratchDir,
		locks:      makeKeyedMutex(),
		logger:     log.WithFields(log.Fields{"component": "ingest"}),
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.tables == nil {
		o.tables = config.Default()
	}
	if o.scratchDir == "" {
		o.scratchDir = filepath.Join(os.TempDir(), "dropwatch")
	}
	return o
}

// ScratchDir returns the directory holding temporary extractions.
func (o *Orchestrator) ScratchDir() string {
	return o.scratchDir
}

func newBatch(name, origin string) records.Batch {
	return records.Batch{
		ID:        uuid.NewString(),
		Filename:  name,
		Origin:    origin,
		Status:    records.BatchProcessing,
		CreatedAt: time.Now().UTC(),
	}
}

// Ingest processes the archive at path. The returned summary carries all
// counters whatever the outcome. An error is returned if the archive could
// not be read at all; the batch is then marked failed. Encrypted archives
// without a known password end in awaiting_password without error.
func (o *Orchestrator) Ingest(ctx context.Context, path, origin string) (Summary, error) {
	s := Summary{Batch: newBatch(filepath.Base(path), origin)}
	logger := o.logger.WithFields(log.Fields{
		"batch": s.ID,
		"file":  s.Filename,
	})
	logger.Info("ingesting drop")

	f, err := o.fs.Open(path)
	if err != nil {
		return o.fail(ctx, s, err)
	}
	s.Hashes, err = registry.CalculateBasicHashes(f)
	f.Close()
	if err != nil {
		return o.fail(ctx, s, err)
	}
	if err = o.store.RecordBatch(ctx, s.Batch); err != nil {
		return o.fail(ctx, s, err)
	}

	var src archive.Source
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".zip":
		zs, zerr := archive.OpenZip(o.fs, path)
		if errors.Is(zerr, archive.ErrEncrypted) {
			return o.locked(ctx, s, path, origin)
		}
		if zerr != nil {
			return o.fail(ctx, s, zerr)
		}
		src = zs
	case ".rar", ".7z":
		if o.extractor == nil {
			return o.fail(ctx, s, fmt.Errorf("no extraction tool for %s", ext))
		}
		out := o.scratch(s.ID)
		defer o.fs.RemoveAll(out)
		if err = o.fs.MkdirAll(out, 0755); err != nil {
			return o.fail(ctx, s, err)
		}
		outcome, xerr := o.extractor.Extract(ctx, path, "", out)
		switch outcome {
		case pwarchive.OutcomeWrongPassword:
			o.fs.RemoveAll(out)
			return o.locked(ctx, s, path, origin)
		case pwarchive.OutcomeOther:
			if xerr == nil {
				xerr = errors.New("extraction failed")
			}
			return o.fail(ctx, s, fmt.Errorf("%w: %v", archive.ErrCorrupt, xerr))
		}
		ds, derr := archive.OpenDir(o.fs, out, s.Filename)
		if derr != nil {
			return o.fail(ctx, s, derr)
		}
		src = ds
	default:
		return o.fail(ctx, s, fmt.Errorf("unsupported archive format %q", ext))
	}
	defer src.Close()

	return o.ingestSource(ctx, s, src)
}

// IngestDir processes an already extracted drop rooted at dir. name is
// used as the archive name for device naming and family inference.
func (o *Orchestrator) IngestDir(ctx context.Context, dir, name, origin string) (Summary, error) {
	s := Summary{Batch: newBatch(name, origin)}
	if err := o.store.RecordBatch(ctx, s.Batch); err != nil {
		return o.fail(ctx, s, err)
	}
	src, err := archive.OpenDir(o.fs, dir, name)
	if err != nil {
		return o.fail(ctx, s, err)
	}
	return o.ingestSource(ctx, s, src)
}

func (o *Orchestrator) scratch(id string) string {
	return filepath.Join(o.scratchDir, id)
}

// locked hands an encrypted drop to the Locker. If a common password
// works the drop is ingested under the same batch.
func (o *Orchestrator) locked(ctx context.Context, s Summary, path, origin string) (Summary, error) {
	logger := o.logger.WithField("batch", s.ID)
	if o.locker == nil {
		return o.fail(ctx, s, archive.ErrEncrypted)
	}
	hints := pwarchive.HintsFromText(origin)
	pending, err := o.locker.RegisterPending(path, pwarchive.Origin{Source: origin, Hints: hints})
	if err != nil {
		return o.fail(ctx, s, err)
	}
	s.PendingDigest = pending.FileHash

	pw, ok, err := o.locker.TryCommonPasswords(ctx, path, hints...)
	if err != nil {
		logger.Warnf("trying common passwords: %v", err)
	}
	if ok {
		out := o.scratch(s.ID)
		defer o.fs.RemoveAll(out)
		res, xerr := o.locker.ExtractWith(ctx, pending.FileHash, pw, out)
		if xerr != nil && res.OutDir != "" {
			logger.Warn(xerr)
			xerr = nil
		}
		if xerr == nil {
			src, derr := archive.OpenDir(o.fs, out, s.Filename)
			if derr != nil {
				return o.fail(ctx, s, derr)
			}
			logger.Info("unlocked drop with common password")
			s.PendingDigest = ""
			return o.ingestSource(ctx, s, src)
		}
		logger.Warnf("extraction with known password failed: %v", xerr)
	}

	s.Finish(records.BatchAwaitingPassword, "")
	o.record(ctx, s)
	logger.WithField("digest", s.PendingDigest).Info("drop awaiting password")
	o.notify(s)
	return s, nil
}

func (o *Orchestrator) fail(ctx context.Context, s Summary, err error) (Summary, error) {
	s.Finish(records.BatchFailed, err.Error())
	o.record(ctx, s)
	o.logger.WithField("batch", s.ID).Errorf("ingestion failed: %v", err)
	o.notify(s)
	return s, err
}

func (o *Orchestrator) record(ctx context.Context, s Summary) {
	if err := o.store.RecordBatch(context.WithoutCancel(ctx), s.Batch); err != nil {
		o.logger.WithField("batch", s.ID).Warnf("recording batch: %v", err)
	}
}

func (o *Orchestrator) notify(s Summary) {
	if o.notifier == nil {
		return
	}
	msg, err := json.Marshal(s)
	if err != nil {
		o.logger.Warn(err)
		return
	}
	if err = o.notifier.Submit(msg); err != nil {
		o.logger.Warnf("batch notification failed: %v", err)
	}
}

// ingestSource processes all devices of an opened drop sequentially. Once
// started, a drop is finished even if ctx is cancelled. A drop without a
// valid member fails with archive.ErrNoEntries.
func (o *Orchestrator) ingestSource(ctx context.Context, s Summary, src archive.Source) (Summary, error) {
	ctx = context.WithoutCancel(ctx)
	analysis := archive.Analyze(src.Entries(), src.Name())
	groups := archive.GroupByDevice(analysis)
	s.Layout = string(analysis.Layout)
	s.MalformedEntries = len(analysis.Malformed)
	s.DevicesFound = len(groups)
	if len(groups) == 0 {
		return o.fail(ctx, s, archive.ErrNoEntries)
	}
	o.record(ctx, s)

	logger := o.logger.WithField("batch", s.ID)
	logger.Infof("%s layout, %d devices", analysis.Layout, len(groups))
	if len(analysis.Unassigned) > 0 {
		logger.Warnf("%d members outside device roots", len(analysis.Unassigned))
	}

	archiveFamily := o.tables.StealerFromText(src.Name())
	for _, g := range groups {
		res, malformed := o.ingestDevice(ctx, s.ID, src, g, archiveFamily)
		s.MalformedEntries += malformed
		switch res.Status {
		case DeviceProcessed:
			s.DevicesProcessed++
			s.Credentials += res.Credentials
			s.Cards += res.Cards
			s.Software += res.Software
			s.Wallets += res.Wallets
			s.Files += res.Files
		case DeviceSkipped:
			s.DevicesSkipped++
		default:
			s.DevicesFailed++
		}
		s.Devices = append(s.Devices, res)
		o.record(ctx, s)
	}

	s.Finish(records.BatchCompleted, "")
	o.record(ctx, s)
	logger.WithFields(log.Fields{
		"processed": s.DevicesProcessed,
		"skipped":   s.DevicesSkipped,
		"failed":    s.DevicesFailed,
	}).Info("drop ingested")
	o.notify(s)
	return s, nil
}

func (o *Orchestrator) ingestDevice(ctx context.Context, batchID string, src archive.Source, g archive.DeviceGroup, archiveFamily string) (DeviceResult, int) {
	res := DeviceResult{Name: g.Name, Hash: g.Hash}
	logger := o.logger.WithFields(log.Fields{
		"batch":  batchID,
		"device": g.Name,
	})

	unlock := o.locks.Lock(g.Hash)
	defer unlock()

	exists, err := o.store.DeviceExists(ctx, g.Hash)
	if err != nil {
		res.Status, res.Error = DeviceFailed, err.Error()
		logger.Errorf("device lookup failed: %v", err)
		return res, 0
	}
	if exists {
		res.Status = DeviceSkipped
		logger.Debug("device already known")
		return res, 0
	}

	dr, malformed := o.buildRecords(src, g, batchID, archiveFamily)
	if _, err = o.store.CommitDevice(ctx, dr); err != nil {
		if errors.Is(err, devicedb.ErrDeviceExists) {
			res.Status = DeviceSkipped
			logger.Debug("device committed concurrently")
			return res, malformed
		}
		res.Status, res.Error = DeviceFailed, err.Error()
		logger.Errorf("commit failed: %v", err)
		return res, malformed
	}
	res.Status = DeviceProcessed
	res.Credentials = len(dr.Credentials)
	res.Cards = len(dr.Cards)
	res.Software = len(dr.Software)
	res.Wallets = len(dr.Wallets)
	res.Files = dr.Device.TotalFiles
	logger.Infof("stored %d credentials", res.Credentials)
	return res, malformed
}
