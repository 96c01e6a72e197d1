// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DCSO/dropwatch/pwarchive"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var pendingMaxAge time.Duration

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Manage password-protected drops awaiting a password",
	Long: `Manage password-protected drops awaiting a password. These commands open
the databases directly and cannot run while a watcher uses the same data
directory; send password events to the watcher socket instead.`,
}

func withEnvironment(run func(cmd *cobra.Command, env *environment, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd.Context(), opts, nil)
		if err != nil {
			return err
		}
		defer env.Close()
		return run(cmd, env, args)
	}
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending archives, oldest first",
	Args:  cobra.NoArgs,
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, a := range env.Manager.ListPending() {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		return nil
	}),
}

var pendingUnlockCmd = &cobra.Command{
	Use:   "unlock <digest> <password>",
	Short: "Extract a pending archive with a password and ingest it",
	Args:  cobra.ExactArgs(2),
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		if err := InitializePlugins(); err != nil {
			return err
		}
		s, res, err := env.unlock(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		log.WithField("digest", args[0]).Infof("unlocked %s", res.Archive.FilePath)
		return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
	}),
}

var pendingTryCmd = &cobra.Command{
	Use:   "try <digest> [hint]...",
	Short: "Try the common passwords and hints on a pending archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		a, ok := env.Manager.Get(args[0])
		if !ok {
			return pwarchive.ErrNotFound
		}
		hints := append(append([]string{}, a.Hints...), args[1:]...)
		pw, ok, err := env.Manager.TryCommonPasswords(cmd.Context(), a.FilePath, hints...)
		if err != nil && !ok {
			return err
		}
		if err != nil {
			log.WithField("digest", args[0]).Warn(err)
		}
		if !ok {
			return fmt.Errorf("no known password opens %s", a.FileName)
		}
		if err = InitializePlugins(); err != nil {
			return err
		}
		s, _, err := env.unlock(cmd.Context(), args[0], pw)
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
	}),
}

var pendingAbandonCmd = &cobra.Command{
	Use:   "abandon <digest>",
	Short: "Stop tracking a pending archive, the file is kept",
	Args:  cobra.ExactArgs(1),
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		return env.Manager.Abandon(args[0])
	}),
}

var pendingCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Forget pending archives older than --maxage",
	Args:  cobra.NoArgs,
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		n, err := env.Manager.CleanupOlderThan(pendingMaxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d pending archives\n", n)
		return nil
	}),
}

var pendingAddPasswordCmd = &cobra.Command{
	Use:   "addpassword <password>",
	Short: "Add a password to the shared common password list",
	Args:  cobra.ExactArgs(1),
	RunE: withEnvironment(func(cmd *cobra.Command, env *environment, args []string) error {
		added, err := env.Manager.AddPassword(args[0])
		if err != nil {
			return err
		}
		if !added {
			fmt.Fprintln(cmd.OutOrStdout(), "password already known")
		}
		return nil
	}),
}

func init() {
	pendingCleanupCmd.Flags().DurationVar(&pendingMaxAge, "maxage", 30*24*time.Hour, "Max age of a pending archive")
	pendingCmd.AddCommand(pendingListCmd, pendingUnlockCmd, pendingTryCmd,
		pendingAbandonCmd, pendingCleanupCmd, pendingAddPasswordCmd)
}
