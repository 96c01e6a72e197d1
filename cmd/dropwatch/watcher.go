// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DCSO/dropwatch/pwarchive"
	"github.com/DCSO/dropwatch/registry"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	numWorkers = 5

	jobDrop     = "drop"
	jobPassword = "password"
)

// dropJob is a unit of work for the worker pool: either a drop file to
// ingest or an operator supplied password for a pending archive.
type dropJob struct {
	Kind     string
	Path     string
	Origin   string
	Digest   string
	Password string

	// done is signalled once the job has been handled or discarded
	done *sync.WaitGroup
}

func (j dropJob) key() string {
	if j.Kind == jobPassword {
		return "pw:" + j.Digest
	}
	return j.Path
}

// Watcher represents a watching context on a given drop directory, allowing
// the process to be started and stopped concurrently as a component.
type Watcher struct {
	StartStopLock    sync.Mutex
	StopperChan      chan bool
	FinishNotifyChan chan bool
	DropChan         chan dropJob
	IsRunning        bool
	DropDir          string
	PollInterval     time.Duration
	SettleTime       time.Duration
	SocketInput      *SocketInput
	Env              *environment
	Disposer         *Disposer

	workers    sync.WaitGroup
	poller     sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	inflight   map[string]bool
	inflightMu sync.Mutex
	osFs       afero.Fs
}

// MakeWatcher returns a new, stopped Watcher with nWorkers workers. Will
// close the finishNotify channel when finished.
func MakeWatcher(finishNotify chan bool, env *environment, disposer *Disposer, nWorkers int) *Watcher {
	if nWorkers < 1 {
		nWorkers = numWorkers
	}
	if disposer == nil {
		disposer = &Disposer{}
	}
	w := &Watcher{
		IsRunning:        false,
		FinishNotifyChan: finishNotify,
		DropChan:         make(chan dropJob, 10000),
		Env:              env,
		Disposer:         disposer,
		SettleTime:       2 * time.Second,
		inflight:         make(map[string]bool),
		osFs:             afero.NewOsFs(),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	for i := 0; i < nWorkers; i++ {
		w.workers.Add(1)
		go w.dropWorker()
	}
	return w
}

// Submit queues a job unless an identical one is already queued or being
// worked on. It returns false if the job was dropped, job.done is then left
// untouched.
func (w *Watcher) Submit(job dropJob) bool {
	w.inflightMu.Lock()
	if w.inflight[job.key()] {
		w.inflightMu.Unlock()
		return false
	}
	w.inflight[job.key()] = true
	w.inflightMu.Unlock()

	if job.done != nil {
		job.done.Add(1)
	}
	w.DropChan <- job
	return true
}

func (w *Watcher) release(job dropJob) {
	w.inflightMu.Lock()
	delete(w.inflight, job.key())
	w.inflightMu.Unlock()
}

// isPending reports whether the drop at path is a known password-protected
// archive still waiting for its password.
func (w *Watcher) isPending(path string) bool {
	digest, err := pwarchive.Digest(w.osFs, path)
	if err != nil {
		return false
	}
	_, ok := w.Env.Manager.Get(digest)
	return ok
}

// backlogBuilder makes a quick check of the drop directory to make sure we
// don't miss a file. It returns after all queued drops have been handled.
func (w *Watcher) backlogBuilder(path string) {
	files := make([]string, 0)
	log.Debugf("building backlog")
	err := filepath.Walk(path,
		func(fpath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			switch mode := info.Mode(); {
			case mode.IsDir():
				if fpath != path && strings.HasPrefix(info.Name(), ".") {
					return filepath.SkipDir
				}
				if fpath == w.Disposer.DoneDir || fpath == w.Disposer.FailedDir {
					return filepath.SkipDir
				}
			case mode.IsRegular():
				if !IsDropName(fpath) {
					return nil
				}
				if time.Since(info.ModTime()) < w.SettleTime {
					log.Debugf("%s still settling, skipped", fpath)
					return nil
				}
				magic := registry.MagicFromFile(fpath)
				if !AllowedMagicPattern(magic) {
					log.Debugf("file %s: filemagic '%s' did not match archive pattern", fpath, magic)
					return nil
				}
				if w.isPending(fpath) {
					return nil
				}
				files = append(files, fpath)
			}
			return nil
		})
	if err != nil {
		log.Warn(err)
	}
	var pass sync.WaitGroup
	queued := 0
	for _, f := range files {
		if w.Submit(dropJob{Kind: jobDrop, Path: f, Origin: "dir:" + path, done: &pass}) {
			queued++
		}
	}
	if queued > 0 {
		log.Infof("queued %d drops from %s", queued, path)
	}
	pass.Wait()
	log.Debugf("finished building backlog")
}

func (w *Watcher) handle(job dropJob) {
	logger := log.WithFields(log.Fields{"job": job.Kind})
	switch job.Kind {
	case jobDrop:
		logger = logger.WithField("file", filepath.Base(job.Path))
		if _, err := os.Stat(job.Path); err != nil {
			logger.Warnf("drop vanished: %v", err)
			return
		}
		s, err := w.Env.Orchestrator.Ingest(w.ctx, job.Path, job.Origin)
		if err != nil {
			logger.Errorf("ingest: %v", err)
		}
		if err = w.Disposer.Dispose(job.Path, s); err != nil {
			logger.Errorf("dispose: %v", err)
		}
	case jobPassword:
		logger = logger.WithField("digest", job.Digest)
		s, res, err := w.Env.unlock(w.ctx, job.Digest, job.Password)
		switch {
		case errors.Is(err, pwarchive.ErrWrongPassword):
			logger.Warn("wrong password supplied")
			return
		case err != nil:
			logger.Errorf("unlock: %v", err)
			return
		}
		logger.WithField("batch", s.ID).Infof("unlocked drop %s", res.Archive.FileName)
		if res.Archive.FilePath == "" {
			return
		}
		if err = w.Disposer.Dispose(res.Archive.FilePath, s); err != nil {
			logger.Errorf("dispose: %v", err)
		}
	default:
		logger.Warn("unknown job type")
	}
}

// dropWorker takes jobs from the queue one at a time. Once the watcher is
// stopped, queued jobs are discarded but a running job is finished.
func (w *Watcher) dropWorker() {
	defer w.workers.Done()
	for job := range w.DropChan {
		if w.ctx.Err() != nil {
			log.Debugf("watcher stopped, discarding %s job", job.Kind)
		} else {
			log.Debugf("worker grabbed %s job", job.Kind)
			w.handle(job)
		}
		w.release(job)
		if job.done != nil {
			job.done.Done()
		}
	}
	log.Debug("worker terminated")
}

// Run starts the watcher on the given directory, polling it every
// PollInterval and accepting jobs on socketPath if it is not empty.
func (w *Watcher) Run(directory string, socketPath string) error {
	var err error

	w.StartStopLock.Lock()
	defer w.StartStopLock.Unlock()

	if w.IsRunning {
		return fmt.Errorf("watcher already running")
	}

	w.DropDir = directory
	w.StopperChan = make(chan bool)

	if socketPath != "" {
		w.SocketInput, err = MakeSocketInput(socketPath, w.DropDir, w.Submit)
		if err != nil {
			return err
		}
		w.SocketInput.Run()
	}

	if w.PollInterval > 0 {
		w.poller.Add(1)
		go func() {
			defer w.poller.Done()
			for {
				select {
				case <-time.After(w.PollInterval):
					w.backlogBuilder(directory)
				case <-w.StopperChan:
					return
				}
			}
		}()
	}

	w.IsRunning = true
	log.Infof("Watcher running on directory %s, socket '%s'", directory, socketPath)
	return nil
}

// Stop causes the watcher to cease reacting to new drops. Jobs already
// queued are discarded once Finish is called.
func (w *Watcher) Stop() {
	w.StartStopLock.Lock()
	defer w.StartStopLock.Unlock()
	if !w.IsRunning {
		return
	}
	w.cancel()
	close(w.StopperChan)
	if w.SocketInput != nil {
		w.SocketInput.Stop()
	}
	w.poller.Wait()
	w.IsRunning = false
	w.DropDir = "<none>"
}

// Finish shuts down the worker pool and closes the finish notification
// channel. The watcher must be stopped.
func (w *Watcher) Finish() {
	w.cancel()
	close(w.DropChan)
	w.workers.Wait()
	if w.FinishNotifyChan != nil {
		close(w.FinishNotifyChan)
	}
}
