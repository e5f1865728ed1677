package main

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/MrWong99/voxtutor/internal/config"
)

func TestRegisterBuiltinProviders_CoversKnownNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	create := map[string]func(config.ProviderEntry) error{
		"llm":         func(e config.ProviderEntry) error { _, err := reg.CreateLLM(e); return err },
		"stt":         func(e config.ProviderEntry) error { _, err := reg.CreateSTT(e); return err },
		"tts":         func(e config.ProviderEntry) error { _, err := reg.CreateTTS(e); return err },
		"recognition": func(e config.ProviderEntry) error { _, err := reg.CreateRecognition(e); return err },
	}
	for kind, names := range config.ValidProviderNames {
		fn, ok := create[kind]
		if !ok {
			t.Errorf("no create function for kind %q", kind)
			continue
		}
		for _, name := range names {
			// An empty entry fails validation inside the constructor; only
			// a missing registration is a failure here.
			if err := fn(config.ProviderEntry{Name: name}); errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("%s provider %q is not registered", kind, name)
			}
		}
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("openai / gpt-4o"); got != "openai / gpt-4o" {
		t.Errorf("truncate short = %q", got)
	}
	got := truncate("elevenlabs / eleven_multilingual_v2")
	if r := []rune(got); len(r) != 19 || r[18] != '…' {
		t.Errorf("truncate long = %q, want 19 runes ending in an ellipsis", got)
	}
}
