package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/renderq/internal/bootstrap"
	"github.com/xraph/renderq/internal/config"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			app := bootstrap.New(cfg)
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			<-cmd.Context().Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Server.ShutdownTimeout)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
}

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			logger := bootstrap.NewLogger(cfg)
			ctx := cmd.Context()

			s, release, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
				_ = release()
			}()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("migrations applied", slog.String("driver", cfg.Store.Driver))
			return nil
		},
	}
}
