package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"library_lending/pkg/config"
	"library_lending/pkg/database"
	"library_lending/pkg/lending"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
		envFile  string
	)

	cmd := &cobra.Command{
		Use:          "sweeper",
		Short:        "Mark past-due loans overdue and recompute member suspensions",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if interval <= 0 {
				interval = cfg.SweepInterval
			}
			logger := config.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := database.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			svc := lending.NewService(database.NewRepo(db), cfg.Policy, lending.WithLogger(logger))
			return runSweeps(ctx, svc, interval, once, logger)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between sweeps (default SWEEP_INTERVAL)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional env file to load")
	return cmd
}

type sweeper interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// runSweeps sweeps immediately and then on every tick until ctx is done. A
// failed sweep is logged and retried on the next tick.
func runSweeps(ctx context.Context, s sweeper, interval time.Duration, once bool, logger *slog.Logger) error {
	sweep := func() error {
		marked, err := s.MarkOverdue(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "overdue sweep failed", "marked", marked, "error", err)
		}
		return err
	}

	if once {
		return sweep()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep()
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}
