// Command voxtutor is the voice tutoring server and its terminal client.
//
//	voxtutor serve            run the HTTP pipeline server
//	voxtutor talk             push-to-talk conversation against a server
//	voxtutor listen           hands-free voice mode against a server
//	voxtutor chat             text chat against a server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxtutor/internal/config"
)

var (
	version    = "dev"
	configPath string
	envFile    string
	watch      bool

	// logLevel backs the default logger and follows config reloads.
	logLevel = new(slog.LevelVar)
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "voxtutor",
		Short:         "Voice tutoring server and client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config is expanded")
	root.PersistentFlags().BoolVar(&watch, "watch", true, "reload hot-reloadable settings when the config file changes")

	root.AddCommand(newServeCmd(), newTalkCmd(), newListenCmd(), newChatCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "voxtutor: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the env file and the config, then installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// The default env file is optional; an explicitly named one is not.
	if err := config.LoadEnvFile(envFile, !cmd.Flags().Changed("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	slog.Info("voxtutor starting", "version", version, "config", configPath, "log_level", cfg.Server.LogLevel)
	return cfg, nil
}

// watchConfig starts a watcher that applies log level changes and hands the
// diff to apply. The returned stop function is never nil.
func watchConfig(apply func(config.ConfigDiff, *config.Config)) func() {
	if !watch {
		return func() {}
	}
	w, err := config.NewWatcher(configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if apply != nil {
			apply(d, next)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
		return func() {}
	}
	return w.Stop
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxtutor · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  %-12s    : %-19s ║\n", "Mode", mode)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Recognition", cfg.Providers.Recognition.Name, cfg.Providers.Recognition.Model)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Fallbacks.LLM)+len(cfg.Fallbacks.STT)+len(cfg.Fallbacks.TTS))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Tutor role", cfg.Conversation.Role())
	if mode == "serve" {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	} else {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Server", truncate(cfg.Client.ServerURL))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}
