package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxtutor/internal/app"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/observe"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tutoring pipeline server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return err
	}

	srv, err := app.NewServer(cfg, providers)
	if err != nil {
		return err
	}

	stopWatch := watchConfig(func(d config.ConfigDiff, _ *config.Config) {
		if d.ConversationChanged || d.VoiceChanged || len(d.RestartRequired) > 0 {
			slog.Warn("config change needs a server restart to take effect", "sections", d.RestartRequired)
		}
	})
	defer stopWatch()

	printStartupSummary(cfg, "serve")
	slog.Info("server ready, press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}
