// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/DCSO/dropwatch/ingest"
	"github.com/DCSO/dropwatch/records"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var ingestOrigin string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest drop archives or extracted drop directories once",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd.Context(), opts, nil)
		if err != nil {
			return err
		}
		defer env.Close()
		if err = InitializePlugins(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		failed := 0
		for _, p := range args {
			fi, err := os.Stat(p)
			if err != nil {
				log.Error(err)
				failed++
				continue
			}
			var s ingest.Summary
			if fi.IsDir() {
				s, err = env.Orchestrator.IngestDir(cmd.Context(), p, fi.Name(), ingestOrigin)
			} else {
				s, err = env.Orchestrator.Ingest(cmd.Context(), p, ingestOrigin)
			}
			if err != nil {
				log.WithField("file", p).Error(err)
			}
			if s.Status == records.BatchFailed {
				failed++
			}
			if err = enc.Encode(s); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d drops failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOrigin, "origin", "cli", "Origin recorded with the batch")
}
