package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"omnipost/internal/app"
	"omnipost/internal/config"
)

func sweepCmd() *cobra.Command {
	var (
		concurrency int64
		staleAfter  time.Duration
	)
	var command = &cobra.Command{
		Use:   "sweep",
		Short: "Revalidate stale credentials once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.Log)
			if cmd.Flags().Changed("concurrency") {
				cfg.Scheduler.Concurrency = max(concurrency, 1)
			}
			if cmd.Flags().Changed("stale-after") {
				cfg.Scheduler.StaleAfter = staleAfter
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info().Msgf("sweep: %d stale, %d valid, %d invalid, %d failed, skipped=%t",
				res.Stale, res.Valid, res.Invalid, res.Failed, res.Skipped)
			return nil
		},
	}

	command.Flags().Int64VarP(&concurrency, "concurrency", "c", 2, "Checks to run at once")
	command.Flags().DurationVar(&staleAfter, "stale-after", 24*time.Hour, "Revalidate credentials older than this")
	return command
}
