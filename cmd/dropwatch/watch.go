// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DCSO/dropwatch/plugins/yarafamily"
	"github.com/DCSO/dropwatch/submitter"
	"github.com/DCSO/dropwatch/uploader"

	"filippo.io/age"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	DropDir       string
	SocketPath    string
	DoneDir       string
	FailedDir     string
	Workers       int
	PollInterval  time.Duration
	MaxAge        time.Duration
	ScratchMaxAge time.Duration

	Dummy        bool
	AMQPURI      string
	AMQPExchange string
	AMQPUser     string
	AMQPPass     string
	Reconnector  submitter.Reconnector

	UploadEndpoint        string
	UploadAccessKey       string
	UploadSecretAccessKey string
	UploadBucketName      string
	UploadRegion          string
	UploadScratchDir      string
	UploadSSL             bool
	AgeRecipient          string

	RuleFile string
	RuleURI  string
	RuleXZ   bool
	ProfSrv  bool
}

var wopts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a drop directory and ingest new drops",
	RunE: func(cmd *cobra.Command, args []string) error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP,
			syscall.SIGUSR1)
		defer signal.Stop(sigChan)
		return runWatch(opts, wopts, sigChan)
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&wopts.DropDir, "dir", "/var/spool/dropwatch", "Directory to watch for drops")
	f.StringVar(&wopts.SocketPath, "socket", "/tmp/dropwatch.sock", "Path for the JSON job input socket, disabled if empty")
	f.StringVar(&wopts.DoneDir, "done-dir", "", "Move ingested drops here instead of deleting them")
	f.StringVar(&wopts.FailedDir, "failed-dir", "", "Move failed drops here (default <dir>/.failed)")
	f.IntVar(&wopts.Workers, "workers", numWorkers, "Number of drops processed in parallel")
	f.DurationVar(&wopts.PollInterval, "poll", 30*time.Second, "Drop directory rescan interval, 0 to disable")
	f.DurationVar(&wopts.MaxAge, "maxage", 30*24*time.Hour, "Max age of a pending archive before it is forgotten")
	f.DurationVar(&wopts.ScratchMaxAge, "scratch-maxage", 24*time.Hour, "Max age of leftover extraction directories")
	f.BoolVar(&wopts.Dummy, "dummy", false, "Log events instead of submitting to AMQP")
	f.StringVar(&wopts.AMQPURI, "amqpuri", "localhost:5672", "Endpoint and port for the AMQP connection")
	f.StringVar(&wopts.AMQPExchange, "amqpexch", "dropwatch", "Exchange to post messages to")
	f.StringVar(&wopts.AMQPUser, "amqpuser", "sensor", "User name for the AMQP connection")
	f.StringVar(&wopts.AMQPPass, "amqppass", "sensor", "Password for the AMQP connection")
	f.StringVar(&wopts.UploadEndpoint, "uploadendpoint", "", "Endpoint for S3 upload of ingested drops")
	f.StringVar(&wopts.UploadAccessKey, "uploadaccesskey", "", "Access key for S3 upload")
	f.StringVar(&wopts.UploadSecretAccessKey, "uploadsecretaccesskey", "", "Secret access key for S3 upload")
	f.StringVar(&wopts.UploadBucketName, "uploadbucket", "", "Bucket name for S3 upload")
	f.StringVar(&wopts.UploadRegion, "uploadregion", "", "Region for S3 upload")
	f.StringVar(&wopts.UploadScratchDir, "uploadscratchdir", "/tmp/dropwatch_upload", "Temp directory for S3 upload")
	f.BoolVar(&wopts.UploadSSL, "uploadssl", false, "Use SSL for S3 upload")
	f.StringVar(&wopts.AgeRecipient, "age-recipient", "", "age public key to encrypt uploaded drops to")
	f.StringVar(&wopts.RuleFile, "rule-file", "", "Compiled YARA rule file for stealer family detection")
	f.StringVar(&wopts.RuleURI, "rule-uri", "", "URI to download compiled YARA rules from")
	f.BoolVar(&wopts.RuleXZ, "rule-xz", false, "YARA rules are xz compressed")
	f.BoolVar(&wopts.ProfSrv, "profsrv", false, "Enable profiling server on port 6060")
}

func makeSubmitter(o globalOptions, w watchOptions) (submitter.Submitter, error) {
	if w.Dummy {
		log.Info("disabling event submission")
		return submitter.MakeDummySubmitter(), nil
	}
	reconnector := w.Reconnector
	if reconnector == nil {
		reconnector = submitter.DialAMQP
	}
	return submitter.MakeAMQPSubmitter(submitter.AMQPConfig{
		URI:      w.AMQPURI,
		User:     w.AMQPUser,
		Pass:     w.AMQPPass,
		Exchange: w.AMQPExchange,
		Verbose:  o.Verbose,
	}, reconnector)
}

func makeUploader(w watchOptions, s submitter.Submitter) (*uploader.Uploader, error) {
	if len(w.UploadEndpoint) == 0 {
		return nil, nil
	}
	var recipient age.Recipient
	if w.AgeRecipient != "" {
		r, err := uploader.ParseRecipient(w.AgeRecipient)
		if err != nil {
			return nil, err
		}
		recipient = r
	}
	if err := os.MkdirAll(w.UploadScratchDir, os.ModePerm); err != nil {
		return nil, err
	}
	return uploader.MakeS3Uploader(uploader.S3Credentials{
		Endpoint:        w.UploadEndpoint,
		AccessKey:       w.UploadAccessKey,
		SecretAccessKey: w.UploadSecretAccessKey,
		BucketName:      w.UploadBucketName,
		Region:          w.UploadRegion,
	}, w.UploadSSL, w.UploadScratchDir, recipient, s)
}

// runWatch runs the watcher, janitor and socket input until an interrupt
// or SIGTERM arrives on sigChan. SIGHUP reloads the detector plugins,
// SIGUSR1 triggers a rescan of the drop directory.
func runWatch(o globalOptions, w watchOptions, sigChan chan os.Signal) error {
	if w.ProfSrv {
		go func() {
			log.Println(http.ListenAndServe("localhost:6060", nil))
		}()
	}

	s, err := makeSubmitter(o, w)
	if err != nil {
		return err
	}
	defer s.Finish()

	u, err := makeUploader(w, s)
	if err != nil {
		return err
	}
	if u != nil {
		defer u.Stop()
	}

	env, err := openEnvironment(context.Background(), o, s)
	if err != nil {
		return err
	}
	defer env.Close()

	yarafamily.Configure(yarafamily.Settings{
		RuleFile: w.RuleFile,
		RuleURI:  w.RuleURI,
		XZ:       w.RuleXZ,
	})
	if err = InitializePlugins(); err != nil {
		return err
	}

	if err = os.MkdirAll(w.DropDir, os.ModePerm); err != nil {
		return err
	}
	if w.FailedDir == "" {
		w.FailedDir = filepath.Join(w.DropDir, ".failed")
	}

	finishNotify := make(chan bool)
	watcher := MakeWatcher(finishNotify, env, &Disposer{
		DoneDir:   w.DoneDir,
		FailedDir: w.FailedDir,
		Uploader:  u,
	}, w.Workers)
	watcher.PollInterval = w.PollInterval
	watcher.backlogBuilder(w.DropDir)

	janitorNotify := make(chan bool)
	j := MakeJanitor(janitorNotify, env.Manager)
	j.MaxAge = w.MaxAge
	j.ScratchMaxAge = w.ScratchMaxAge

	if err = watcher.Run(w.DropDir, w.SocketPath); err != nil {
		watcher.Finish()
		return err
	}
	j.Run(env.Orchestrator.ScratchDir())

SigLoop:
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			log.Info("Received SIGHUP, reinitializing plugins")
			if err := InitializePlugins(); err != nil {
				log.Error(err)
			}
		case syscall.SIGUSR1:
			log.Infof("Received SIGUSR1, rescanning %s", w.DropDir)
			watcher.backlogBuilder(w.DropDir)
		case os.Interrupt, syscall.SIGTERM:
			log.Info("Received request to stop, stopping janitor and watcher...")
			break SigLoop
		}
	}

	watcher.Stop()
	watcher.Finish()
	j.Stop()

	// wait until both components are down
	<-finishNotify
	<-janitorNotify

	log.Info("stopped janitor and watcher")
	return nil
}
