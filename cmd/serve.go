package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"omnipost/internal/app"
	"omnipost/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		port        int
		noScheduler bool
	)
	var command = &cobra.Command{
		Use:     "serve",
		Aliases: []string{"api"},
		Short:   "Start the HTTP API and the revalidation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.Log)
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}

			ctx := context.Background()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Msgf("data in %s, sweeping every %s", cfg.Paths.DataDir, cfg.Scheduler.Interval)
			return a.Run(ctx)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 5409, "Port to run the server on")
	command.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not run background revalidation")
	return command
}
