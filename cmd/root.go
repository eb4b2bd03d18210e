// Package cmd implements the canvas-sync command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas-sync",
		Short: "Sync Canvas LMS course content into Postgres.",
		Long: `canvas-sync polls the Canvas LMS REST API for course modules,
files, pages, and assessments, extracts their text, and upserts
deduplicated, chunked content into Postgres.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg = loaded

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logging.Set(logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.L.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"path to the configuration file (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
