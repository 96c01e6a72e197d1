// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/DCSO/dropwatch/config"
	"github.com/DCSO/dropwatch/devicedb"
	"github.com/DCSO/dropwatch/ingest"
	"github.com/DCSO/dropwatch/pendingdb"
	"github.com/DCSO/dropwatch/pwarchive"
	"github.com/DCSO/dropwatch/registry"
	"github.com/DCSO/dropwatch/submitter"

	log "github.com/sirupsen/logrus"
)

// DeviceDBName is the file name of the device database in the data
// directory.
const DeviceDBName = "devices.db"

// initLock is a mutex protecting the critical section of plugin reloading
var initLock sync.Mutex

// environment bundles the long-lived components every subcommand works
// with.
type environment struct {
	Tables       *config.Tables
	Store        *devicedb.Store
	PendingDB    *pendingdb.DB
	Manager      *pwarchive.Manager
	Orchestrator *ingest.Orchestrator
	Submitter    submitter.Submitter
}

// InitializePlugins calls the plugins' ReInitialize functions to give them a
// chance to prepare their matching engines.
func InitializePlugins() error {
	initLock.Lock()
	defer initLock.Unlock()
	for _, d := range registry.DetectorPlugins {
		if err := d.ReInitialize(); err != nil {
			log.Errorf("Error initializing plugin [%v]: %v", d.Name(), err)
			return err
		}
	}
	log.Infof("[%v] plugins successfully initialized", len(registry.DetectorPlugins))
	return nil
}

// openEnvironment opens both databases below o.DataPath and wires the
// password manager and orchestrator. s receives batch summaries and
// pending archive events; a DummySubmitter is used if it is nil.
func openEnvironment(ctx context.Context, o globalOptions, s submitter.Submitter) (*environment, error) {
	var err error
	env := &environment{Submitter: s}
	if env.Submitter == nil {
		env.Submitter = submitter.MakeDummySubmitter()
	}

	env.Tables, err = config.Load(o.TablesPath)
	if err != nil {
		return nil, err
	}
	log.WithField("sha256", env.Tables.SHA256).Debug("lookup tables loaded")

	if _, err = os.Stat(o.DataPath); os.IsNotExist(err) {
		log.Infof("Database directory %s does not exist, trying to create it", o.DataPath)
		if err = os.MkdirAll(o.DataPath, os.ModePerm); err != nil {
			return nil, err
		}
	}

	env.Store, err = devicedb.Open(ctx, filepath.Join(o.DataPath, DeviceDBName))
	if err != nil {
		return nil, err
	}
	env.PendingDB, err = pendingdb.Open(o.DataPath)
	if err != nil {
		env.Store.Close()
		return nil, err
	}

	extractor := pwarchive.MakeCommandExtractor(o.SevenZip, o.Unrar)
	env.Manager, err = pwarchive.MakeManager(pwarchive.Config{
		DB:        env.PendingDB,
		Extractor: extractor,
		Notifier:  env.Submitter,
		Passwords: env.Tables.Passwords,
		Timeout:   o.Timeout,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	detectors := append([]registry.DetectorPlugin{}, registry.DetectorPlugins...)
	detectors = append(detectors, registry.MakeKeywordDetector(env.Tables))
	env.Orchestrator = ingest.MakeOrchestrator(ingest.Config{
		Store:      env.Store,
		Locker:     env.Manager,
		Extractor:  extractor,
		Notifier:   env.Submitter,
		Tables:     env.Tables,
		Detectors:  detectors,
		ScratchDir: filepath.Join(o.DataPath, "scratch"),
	})
	return env, nil
}

// Close releases both databases.
func (e *environment) Close() {
	if e.PendingDB != nil {
		if err := e.PendingDB.Close(); err != nil {
			log.Error(err)
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			log.Error(err)
		}
	}
}

// unlock extracts a pending archive with password and ingests the result
// as a new batch.
func (e *environment) unlock(ctx context.Context, digest, password string) (ingest.Summary, pwarchive.ExtractResult, error) {
	out := filepath.Join(e.Orchestrator.ScratchDir(), "unlock-"+digest)
	defer os.RemoveAll(out)
	res, err := e.Manager.ExtractWith(ctx, digest, password, out)
	if err != nil && res.OutDir == "" {
		return ingest.Summary{}, res, err
	}
	if err != nil {
		log.WithField("digest", digest).Warn(err)
	}
	name := res.Archive.FileName
	if name == "" {
		name = digest
	}
	s, err := e.Orchestrator.IngestDir(ctx, out, name, res.Archive.Source)
	return s, res, err
}
