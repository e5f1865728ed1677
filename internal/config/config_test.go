package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxtutor/pkg/provider/llm/mock"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxtutor/pkg/provider/stt/mock"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxtutor/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  metrics: true

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      voice_id: rachel
  recognition:
    name: deepgram
    api_key: dg-test

fallbacks:
  llm:
    - name: ollama
      base_url: http://localhost:11434
  circuit_breaker:
    max_failures: 3
    reset_timeout: 10s

voice:
  rate: 1.2
  lang: de-DE

conversation:
  tutor_role: math
  temperature: 0.4
  voice: alloy
  speed: 1.5
  auto_conversation: true
  restart_delay: 2s

client:
  server_url: https://tutor.example.com
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Providers.Recognition.Name != "deepgram" {
		t.Errorf("providers.recognition.name: got %q, want %q", cfg.Providers.Recognition.Name, "deepgram")
	}
	if got := cfg.Providers.TTS.OptString("voice_id"); got != "rachel" {
		t.Errorf("providers.tts.options.voice_id: got %q, want %q", got, "rachel")
	}
	if len(cfg.Fallbacks.LLM) != 1 || cfg.Fallbacks.LLM[0].Name != "ollama" {
		t.Fatalf("fallbacks.llm: got %+v", cfg.Fallbacks.LLM)
	}
	if cfg.Fallbacks.CircuitBreaker.ResetTimeout != 10*time.Second {
		t.Errorf("fallbacks.circuit_breaker.reset_timeout: got %s, want 10s", cfg.Fallbacks.CircuitBreaker.ResetTimeout)
	}
	if cfg.Voice.Rate != 1.2 || cfg.Voice.Lang != "de-DE" {
		t.Errorf("voice: got %+v", cfg.Voice)
	}
	// Unset voice keys keep their defaults.
	if cfg.Voice.Volume != 1 {
		t.Errorf("voice.volume: got %.2f, want default 1", cfg.Voice.Volume)
	}
	if cfg.Conversation.Role() != tutor.Math {
		t.Errorf("conversation.tutor_role: got %q, want %q", cfg.Conversation.Role(), tutor.Math)
	}
	if cfg.Conversation.Temperature == nil || *cfg.Conversation.Temperature != 0.4 {
		t.Errorf("conversation.temperature: got %v, want 0.4", cfg.Conversation.Temperature)
	}
	if cfg.Conversation.RestartDelay != 2*time.Second {
		t.Errorf("conversation.restart_delay: got %s, want 2s", cfg.Conversation.RestartDelay)
	}
	if cfg.Conversation.ResponseFormat != "wav" {
		t.Errorf("conversation.response_format: got %q, want default wav", cfg.Conversation.ResponseFormat)
	}
	if cfg.Client.ServerURL != "https://tutor.example.com" {
		t.Errorf("client.server_url: got %q", cfg.Client.ServerURL)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	for _, input := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(input))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): unexpected error: %v", input, err)
		}
		want := config.Default()
		if cfg.Server.ListenAddr != want.Server.ListenAddr {
			t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, want.Server.ListenAddr)
		}
		if cfg.Recognition != want.Recognition {
			t.Errorf("recognition: got %+v, want %+v", cfg.Recognition, want.Recognition)
		}
		if cfg.Silence != want.Silence {
			t.Errorf("silence: got %+v, want %+v", cfg.Silence, want.Silence)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("VOXTUTOR_TEST_KEY", "sk-from-env")
	yaml := `
providers:
  llm:
    name: openai
    api_key: ${VOXTUTOR_TEST_KEY}
    model: ${VOXTUTOR_TEST_MODEL:-gpt-4o-mini}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q, want %q", cfg.Providers.LLM.APIKey, "sk-from-env")
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model: got %q, want default %q", cfg.Providers.LLM.Model, "gpt-4o-mini")
	}
}

func TestProviderEntry_OptString(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"voice_id": "rachel", "stability": 0.5}}
	if got := e.OptString("voice_id"); got != "rachel" {
		t.Errorf("OptString(voice_id) = %q, want rachel", got)
	}
	if got := e.OptString("stability"); got != "" {
		t.Errorf("OptString(stability) = %q, want empty for non-string", got)
	}
	if got := (config.ProviderEntry{}).OptString("missing"); got != "" {
		t.Errorf("OptString on nil options = %q, want empty", got)
	}
}

func TestSilenceConfig_Options(t *testing.T) {
	t.Parallel()
	if got := len(config.Default().Silence.Options()); got != 5 {
		t.Errorf("Options() returned %d options, want 5", got)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	tests := []struct {
		kind   string
		create func() error
	}{
		{"llm", func() error { _, err := reg.CreateLLM(entry); return err }},
		{"stt", func() error { _, err := reg.CreateSTT(entry); return err }},
		{"recognition", func() error { _, err := reg.CreateRecognition(entry); return err }},
		{"tts", func() error { _, err := reg.CreateTTS(entry); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := tt.create()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.kind+"/") {
				t.Errorf("error should name the kind %q, got: %v", tt.kind, err)
			}
		})
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Transcriber{}
	wantRec := &sttmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	var gotEntry config.ProviderEntry

	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Transcriber, error) { return wantSTT, nil })
	reg.RegisterRecognition("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantRec, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m1"}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("CreateLLM = %v, %v; want registered instance", got, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory received model %q, want m1", gotEntry.Model)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v; want registered instance", got, err)
	}
	if got, err := reg.CreateRecognition(entry); err != nil || got != wantRec {
		t.Errorf("CreateRecognition = %v, %v; want registered instance", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("CreateTTS = %v, %v; want registered instance", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
