// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PendingCleaner expires pending archives.
type PendingCleaner interface {
	CleanupOlderThan(maxAge time.Duration) (int, error)
}

// Janitor represents a concurrent helper object that periodically expires
// pending archives older than MaxAge and removes extraction directories in
// the scratch directory older than ScratchMaxAge.
type Janitor struct {
	StopperChan      chan bool
	IsRunning        bool
	FinishNotifyChan chan bool
	ScratchDir       string
	StartStopLock    sync.Mutex
	CheckTick        time.Duration
	MaxAge           time.Duration
	ScratchMaxAge    time.Duration
	Pending          PendingCleaner
}

// MakeJanitor creates a new Janitor and emits a value on the given channel
// when it has been stopped.
func MakeJanitor(finishNotify chan bool, pending PendingCleaner) *Janitor {
	return &Janitor{
		IsRunning:        false,
		FinishNotifyChan: finishNotify,
		CheckTick:        60 * time.Second,
		MaxAge:           30 * 24 * time.Hour,
		ScratchMaxAge:    24 * time.Hour,
		Pending:          pending,
	}
}

func (w *Janitor) sweep(scratchDir string) {
	if w.Pending != nil && w.MaxAge > 0 {
		n, err := w.Pending.CleanupOlderThan(w.MaxAge)
		if err != nil {
			log.Warn(err)
		} else if n > 0 {
			log.Infof("expired %d pending archives older than %v", n, w.MaxAge)
		}
	}

	if scratchDir == "" || w.ScratchMaxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(err)
		}
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			log.Debug(err)
			continue
		}
		timeSince := time.Since(info.ModTime())
		if timeSince <= w.ScratchMaxAge {
			continue
		}
		p := filepath.Join(scratchDir, e.Name())
		if err = os.RemoveAll(p); err != nil {
			log.Warn(err)
			continue
		}
		log.Infof("%s: older than threshold (%v), cleaned", e.Name(), timeSince)
	}
}

// Run starts a Janitor on the given scratch directory.
func (w *Janitor) Run(scratchDir string) error {
	w.StartStopLock.Lock()
	defer w.StartStopLock.Unlock()

	if w.IsRunning {
		return fmt.Errorf("janitor already running on directory %s", w.ScratchDir)
	}

	w.StopperChan = make(chan bool)
	w.ScratchDir = scratchDir
	w.IsRunning = true

	go func() {
		for {
			select {
			case <-time.After(w.CheckTick):
				w.sweep(scratchDir)
			case <-w.StopperChan:
				close(w.FinishNotifyChan)
				return
			}
		}
	}()

	return nil
}

// Stop causes the janitor to stop cleaning up.
func (w *Janitor) Stop() {
	w.StartStopLock.Lock()
	defer w.StartStopLock.Unlock()
	if !w.IsRunning {
		return
	}
	w.IsRunning = false
	w.ScratchDir = "<none>"
	close(w.StopperChan)
}
