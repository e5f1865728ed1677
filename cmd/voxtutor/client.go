package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtutor/internal/app"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/audio/portaudio"
)

// runLocal builds the local client with the configured audio devices, runs
// it and feeds stdin lines to onLine until ctx ends or onLine returns false.
func runLocal(ctx context.Context, cfg *config.Config, mode string, onLine func(ctx context.Context, c *app.Client, line string) bool, opts ...app.ClientOption) error {
	// The client only synthesizes and recognizes locally; transcription and
	// completion run on the server.
	local := *cfg
	local.Providers.LLM = config.ProviderEntry{}
	local.Providers.STT = config.ProviderEntry{}
	local.Fallbacks.LLM = nil
	local.Fallbacks.STT = nil

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(&local, reg)
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer portaudio.Terminate()
	device := portaudio.NewDevice(cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer)
	player := portaudio.NewPlayer(cfg.Audio.FramesPerBuffer)

	c, err := app.NewClient(cfg, providers, device, player, opts...)
	if err != nil {
		return err
	}
	if mode == "listen" && c.VoiceMode() == nil {
		return fmt.Errorf("voice mode needs providers.recognition to be configured")
	}

	stopWatch := watchConfig(c.Apply)
	defer stopWatch()

	printStartupSummary(cfg, mode)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		lines := readLines(gctx, os.Stdin)
		for {
			select {
			case line, ok := <-lines:
				if !ok || !onLine(gctx, c, line) {
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// readLines delivers trimmed stdin lines until EOF or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func printWriting(ins []writing.Instruction) {
	for _, in := range ins {
		fmt.Printf("  [%s] %s\n", in.Kind, in.Content)
	}
}

func printVoiceError(e *voice.Error) {
	switch {
	case e.IsRetrying:
		fmt.Printf("! %s (retrying)\n", e.Message)
	case e.IsFinal:
		fmt.Printf("! %s\n", e.Message)
	default:
		slog.Debug("voice error", "type", e.Type, "message", e.Message)
	}
}

func clientCommand(use, short string, run func(cmd *cobra.Command, cfg *config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			slog.Debug("client mode", "mode", use, "server", cfg.Client.ServerURL)
			return run(cmd, cfg)
		},
	}
}
