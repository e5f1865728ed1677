package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxtutor/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "defaults", yaml: "{}"},
		{name: "invalid log level", yaml: "server:\n  log_level: verbose\n", wantErr: "log_level"},
		{name: "tls without key", yaml: "server:\n  tls:\n    cert_file: c.pem\n", wantErr: "server.tls"},
		{name: "temperature too high", yaml: "conversation:\n  temperature: 2.5\n", wantErr: "conversation.temperature"},
		{name: "temperature zero", yaml: "conversation:\n  temperature: 0\n"},
		{name: "speed too slow", yaml: "conversation:\n  speed: 0.1\n", wantErr: "conversation.speed"},
		{name: "speed in range", yaml: "conversation:\n  speed: 4\n"},
		{name: "bad format", yaml: "conversation:\n  response_format: ogg\n", wantErr: "response_format"},
		{name: "negative retries", yaml: "recognition:\n  max_network_retries: -1\n", wantErr: "max_network_retries"},
		{name: "relative server url", yaml: "client:\n  server_url: localhost:8080\n", wantErr: "client.server_url"},
		{name: "zero audio rate", yaml: "audio:\n  sample_rate: 0\n", wantErr: "audio.sample_rate"},
		{name: "volume above one", yaml: "voice:\n  volume: 1.5\n", wantErr: "voice.volume"},
		{name: "unnamed fallback", yaml: "fallbacks:\n  tts:\n    - model: x\n", wantErr: "fallbacks.tts[0].name"},
		{name: "unknown provider only warns", yaml: "providers:\n  llm:\n    name: my-llm\n"},
		{name: "fuzzy role only warns", yaml: "conversation:\n  tutor_role: maths\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
conversation:
  speed: 9
audio:
  frames_per_buffer: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "conversation.speed", "frames_per_buffer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "stt", "tts", "recognition"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("VOXTUTOR_ENVFILE_A=from-file\nVOXTUTOR_ENVFILE_B=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOXTUTOR_ENVFILE_B", "from-process")
	t.Cleanup(func() { os.Unsetenv("VOXTUTOR_ENVFILE_A") })

	if err := config.LoadEnvFile(path, false); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("VOXTUTOR_ENVFILE_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("VOXTUTOR_ENVFILE_B"); got != "from-process" {
		t.Errorf("B = %q, want the existing process value", got)
	}

	missing := filepath.Join(dir, "nope.env")
	if err := config.LoadEnvFile(missing, true); err != nil {
		t.Errorf("optional missing file: got %v, want nil", err)
	}
	if err := config.LoadEnvFile(missing, false); err == nil {
		t.Error("required missing file: got nil, want error")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-test" {
		t.Errorf("providers.llm.api_key = %q, want sk-test", cfg.Providers.LLM.APIKey)
	}
	if got := cfg.Fallbacks.LLM[0].BaseURL; got != "http://localhost:11434" && os.Getenv("OLLAMA_URL") == "" {
		t.Errorf("fallbacks.llm[0].base_url = %q, want the default", got)
	}
	if cfg.Client.CircuitBreaker.MaxFailures != 3 {
		t.Errorf("client.circuit_breaker.max_failures = %d, want 3", cfg.Client.CircuitBreaker.MaxFailures)
	}
}
