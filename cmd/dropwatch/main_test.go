// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/DCSO/dropwatch/util"
)

func fileContains(filename string, text string) (int, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	s := string(b)
	return strings.Count(s, text), nil
}

func checkFileContains(t *testing.T, filename string, text string, want int) {
	for i := 0; i < 50; i++ {
		val, err := fileContains(filename, text)
		if err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
		if val == want {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("number of retries exceeded waiting for %d x '%s' in %s", want, text, filename)
}

func waitGone(t *testing.T, path string) {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("%s still exists", path)
}

func TestRunWatch(t *testing.T) {
	tdir := t.TempDir()
	opts = globalOptions{
		LogPath:  tdir,
		DataPath: filepath.Join(tdir, "db"),
		SevenZip: "7z",
		Timeout:  5 * time.Second,
	}
	if err := setupLogging(nil, nil); err != nil {
		t.Fatal(err)
	}
	defer closeLogging(nil, nil)

	w := watchOptions{
		DropDir:       filepath.Join(tdir, "drops"),
		SocketPath:    filepath.Join(tdir, "dropwatch.sock"),
		Dummy:         true,
		Workers:       2,
		MaxAge:        time.Hour,
		ScratchMaxAge: time.Hour,
	}

	sigChan := make(chan os.Signal, 1)
	errChan := make(chan error, 1)
	go func() {
		errChan <- runWatch(opts, w, sigChan)
	}()

	logfilename := filepath.Join(tdir, "dropwatch.log")
	checkFileContains(t, logfilename, "plugins successfully initialized", 1)
	checkFileContains(t, logfilename, "Watcher running", 1)

	// submit a drop outside the drop directory through the socket
	incoming := t.TempDir()
	drop := filepath.Join(incoming, "stealc_batch.zip")
	if err := util.CreateDropZipWithTime(drop, util.SingleDevice("", "SOCKET-PC"), time.Now()); err != nil {
		t.Fatal(err)
	}
	sendSocketLines(t, w.SocketPath,
		`{"event_type":"drop","drop":{"path":"`+drop+`","source":"test"}}`)
	waitGone(t, drop)

	// send HUP, check if plugins are reinitialized
	sigChan <- syscall.SIGHUP
	checkFileContains(t, logfilename, "SIGHUP", 1)
	checkFileContains(t, logfilename, "plugins successfully initialized", 2)

	// send USR1, check if rescan has been triggered
	sigChan <- syscall.SIGUSR1
	checkFileContains(t, logfilename, "rescanning", 1)

	sigChan <- syscall.SIGTERM
	select {
	case err := <-errChan:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("watcher did not stop")
	}

	logged, _ := os.ReadFile(logfilename)
	if !bytes.Contains(logged, []byte("stopped janitor and watcher")) {
		t.Fatal("missing shutdown message in log")
	}
	if _, err := os.Stat(w.SocketPath); !os.IsNotExist(err) {
		t.Fatal("socket not removed")
	}
}
