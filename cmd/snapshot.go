/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brainquiz/apiserver/internal/server"
	"github.com/brainquiz/apiserver/internal/snapshot"
	"github.com/brainquiz/apiserver/internal/storage"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Exports the current leaderboard to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		repo, closeRepo, err := server.OpenUserRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeRepo(); err != nil {
				logger.Warn("close user store", "error", err)
			}
		}()

		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}

		key, _, err := snapshot.NewExporter(repo, objects, snapshot.WithLogger(logger)).Export(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", objects.Bucket(), key)
		return nil
	},
}

var snapshotLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Prints the most recent leaderboard snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		objects, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		snap, err := snapshot.Latest(cmd.Context(), objects)
		if err != nil {
			return fmt.Errorf("read %s: %w", snapshot.LatestKey, err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotLatestCmd)
}
