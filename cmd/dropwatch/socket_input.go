// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SocketInput is an Input reading JSON job requests from a Unix socket, one
// per line. Two event types are understood:
//
//	{"event_type":"drop","drop":{"path":"...","source":"..."}}
//	{"event_type":"password","password":{"digest":"...","password":"..."}}
type SocketInput struct {
	Submit        func(dropJob) bool
	Running       bool
	InputListener net.Listener
	StopChan      chan bool
	StoppedChan   chan bool
	DropDir       string
	InputSocket   string
	ConnLock      sync.Mutex
	Conn          net.Conn
}

type socketMessageDrop struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

type socketMessagePassword struct {
	Digest   string `json:"digest"`
	Password string `json:"password"`
}

type socketMessage struct {
	EventType string                 `json:"event_type"`
	Drop      *socketMessageDrop     `json:"drop,omitempty"`
	Password  *socketMessagePassword `json:"password,omitempty"`
}

func (si *SocketInput) handleMessage(line []byte) {
	var m socketMessage
	if err := json.Unmarshal(line, &m); err != nil {
		log.Errorf("could not unmarshal JSON '%s': %s", string(line), err)
		return
	}

	switch m.EventType {
	case jobDrop:
		if m.Drop == nil || m.Drop.Path == "" {
			log.Warn("drop event without path")
			return
		}
		p := m.Drop.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(si.DropDir, p)
		}
		if !IsDropName(p) {
			log.Infof("file %s: not a supported archive name, ignored", p)
			return
		}
		source := m.Drop.Source
		if source == "" {
			source = "socket"
		}
		log.Debugf("received drop: %s", p)
		if !si.Submit(dropJob{Kind: jobDrop, Path: p, Origin: source}) {
			log.Debugf("drop %s already queued", p)
		}
	case jobPassword:
		if m.Password == nil || m.Password.Digest == "" {
			log.Warn("password event without digest")
			return
		}
		log.Debugf("received password for %s", m.Password.Digest)
		si.Submit(dropJob{
			Kind:     jobPassword,
			Digest:   m.Password.Digest,
			Password: m.Password.Password,
		})
	default:
		log.Debugf("ignoring event type '%s'", m.EventType)
	}
}

func (si *SocketInput) handleServerConnection() {
	for {
		select {
		case <-si.StopChan:
			close(si.StoppedChan)
			return
		default:
			si.InputListener.(*net.UnixListener).SetDeadline(time.Now().Add(1e9))
			c, err := si.InputListener.Accept()
			if err != nil {
				if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
					continue
				}
				log.Info(err)
				continue
			}

			// we have a connection
			si.ConnLock.Lock()
			si.Conn = c
			si.ConnLock.Unlock()

			scanner := bufio.NewScanner(c)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				if len(scanner.Bytes()) == 0 {
					continue
				}
				si.handleMessage(scanner.Bytes())
			}
			if err := scanner.Err(); err != nil {
				log.Debugf("socket read: %v", err)
			}

			si.ConnLock.Lock()
			c.Close()
			si.Conn = nil
			si.ConnLock.Unlock()
		}
	}
}

// MakeSocketInput returns a new SocketInput reading from the Unix socket
// inputSocket and passing parsed jobs to submit. Relative drop paths are
// resolved against dropDir. If no such socket could be created for
// listening, the error returned is set accordingly.
func MakeSocketInput(inputSocket string, dropDir string, submit func(dropJob) bool) (*SocketInput, error) {
	var err error

	si := &SocketInput{
		Submit:      submit,
		StopChan:    make(chan bool),
		DropDir:     dropDir,
		InputSocket: inputSocket,
	}
	_, err = os.Stat(inputSocket)
	if err == nil {
		os.Remove(inputSocket)
	}
	si.InputListener, err = net.Listen("unix", inputSocket)
	if err != nil {
		return nil, err
	}
	return si, err
}

// Run starts the SocketInput
func (si *SocketInput) Run() {
	if !si.Running {
		si.Running = true
		si.StopChan = make(chan bool)
		si.StoppedChan = make(chan bool)
		go si.handleServerConnection()
	}
}

// Stop causes the SocketInput to stop reading from the socket and waits
// for the connection handler to return.
func (si *SocketInput) Stop() {
	if si == nil || !si.Running {
		return
	}
	si.ConnLock.Lock()
	if si.Conn != nil {
		si.Conn.Close()
	}
	si.ConnLock.Unlock()
	close(si.StopChan)
	<-si.StoppedChan
	si.InputListener.Close()
	si.Running = false
	_, err := os.Stat(si.InputSocket)
	if err == nil {
		os.Remove(si.InputSocket)
	}
}
