package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arkivehq/arkive/config"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Abort expired upload sessions",
	Long: `Run a single reap sweep: abort upload sessions older than the
configured maximum age that never completed, releasing their store-side
resources. The serve command runs the same sweep periodically.`,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	w, err := buildWiring(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.cleanup()

	n, err := w.service.ReapExpired(ctx)
	if err != nil {
		return err
	}

	slog.Info("reap sweep complete", "reaped", n)
	return nil
}
