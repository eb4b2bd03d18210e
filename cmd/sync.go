package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/app"
	"github.com/canvaslabs/canvas-sync/internal/logging"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Engine.Run(ctx, "cli")
			if err != nil {
				return err
			}
			logging.L.Info("sync completed",
				zap.String("run", run.ID),
				zap.Int("courses", run.Stats.Courses),
				zap.Int("documents", run.Stats.Documents),
				zap.Int("skipped", run.Stats.Skipped),
				zap.Int("failed", run.Stats.Failed),
				zap.Int("chunks", run.Stats.Chunks))
			return nil
		},
	}
}
