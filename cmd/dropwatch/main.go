// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/DCSO/dropwatch/pwarchive"

	// Plugins are registered using the following imports
	_ "github.com/DCSO/dropwatch/plugins/yarafamily"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalOptions are shared by all subcommands.
type globalOptions struct {
	LogPath    string
	DataPath   string
	TablesPath string
	SevenZip   string
	Unrar      string
	Timeout    time.Duration
	Verbose    bool
	LogJSON    bool
}

var (
	opts    globalOptions
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "dropwatch",
	Short: "Ingest stealer log drops into a device database",
	Long: `dropwatch watches a drop directory for stealer log archives, splits them
into devices, parses credentials, cards, software and wallets and commits
every device exactly once. Password-protected drops are kept until a
password is found or supplied.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.LogPath, "log", "", "Directory for the dropwatch log file (stderr if empty)")
	pf.StringVar(&opts.DataPath, "data", "/var/lib/dropwatch/", "Directory for the device and pending databases")
	pf.StringVar(&opts.TablesPath, "tables", "", "YAML file overriding the built-in lookup tables")
	pf.StringVar(&opts.SevenZip, "7z", "7z", "Path of the 7z binary")
	pf.StringVar(&opts.Unrar, "unrar", "", "Path of the unrar binary, 7z handles RAR if empty")
	pf.DurationVar(&opts.Timeout, "timeout", pwarchive.DefaultTimeout, "Timeout for a single extraction tool run")
	pf.BoolVar(&opts.Verbose, "verbose", false, "Verbose output")
	pf.BoolVar(&opts.LogJSON, "logjson", false, "JSON log output")

	rootCmd.AddCommand(watchCmd, ingestCmd, pendingCmd, eventsCmd)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if opts.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if opts.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if len(opts.LogPath) == 0 {
		log.SetOutput(os.Stderr)
		return nil
	}
	if _, err := os.Stat(opts.LogPath); os.IsNotExist(err) {
		log.Infof("Log directory %s does not exist, trying to create it", opts.LogPath)
		if err = os.MkdirAll(opts.LogPath, os.ModePerm); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(filepath.Join(opts.LogPath, "dropwatch.log"),
		os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logFile = f
	log.SetOutput(f)
	if opts.Verbose {
		log.Info("verbose log output enabled")
	}
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if logFile != nil {
		log.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
