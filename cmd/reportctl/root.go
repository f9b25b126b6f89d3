package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/iago/mileage-reports-back/internal/app"
	"github.com/iago/mileage-reports-back/internal/config"
	"github.com/iago/mileage-reports-back/internal/logging"
)

type appFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

type cli struct {
	factory    appFactory
	configPath string
	jsonOutput bool
	app        *app.App
}

func newRootCmd(factory appFactory) *cobra.Command {
	c := &cli{factory: factory}

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Inspect and operate mileage report jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.app != nil {
				return nil
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			// Operator commands never consume the queue.
			cfg.Worker.Enabled = false
			logger := logging.New(cfg.Server.LogLevel, os.Stderr).With("service", "reportctl")
			a, err := c.factory(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.app != nil {
				c.app.Close()
				c.app = nil
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a config file (default $MILEAGE_CONFIG_FILE)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "JSON output")

	root.AddCommand(
		c.generateCmd(),
		c.statusCmd(),
		c.listCmd(),
		c.retryCmd(),
		c.sweepCmd(),
		c.migrateCmd(),
	)
	return root
}
