package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/tutor"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"openai", "whisper", "whisper-native"},
	"tts":         {"openai", "elevenlabs", "coqui"},
	"recognition": {"deepgram", "whisper", "whisper-native"},
}

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment references of the form ${VAR} or
// ${VAR:-default} are expanded before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in b with values
// from the process environment. Unset variables without a default expand to
// the empty string.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(sub[1])); ok && v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error when
// optional is true.
func LoadEnvFile(path string, optional bool) error {
	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("recognition", cfg.Providers.Recognition.Name)
	for kind, entries := range map[string][]ProviderEntry{
		"llm": cfg.Fallbacks.LLM,
		"stt": cfg.Fallbacks.STT,
		"tts": cfg.Fallbacks.TTS,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("fallbacks.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}
	if cb := cfg.Fallbacks.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("fallbacks.circuit_breaker values must not be negative"))
	}

	// Voice
	if v := cfg.Voice; v.Volume < 0 || v.Volume > 1 {
		errs = append(errs, fmt.Errorf("voice.volume %.2f is out of range [0, 1]", v.Volume))
	}
	if v := cfg.Voice; v.Rate < 0 || v.Rate > 10 {
		errs = append(errs, fmt.Errorf("voice.rate %.2f is out of range [0, 10]", v.Rate))
	}
	if v := cfg.Voice; v.Pitch < 0 || v.Pitch > 2 {
		errs = append(errs, fmt.Errorf("voice.pitch %.2f is out of range [0, 2]", v.Pitch))
	}

	// Recognition
	if cfg.Recognition.MaxNetworkRetries < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_network_retries %d must not be negative", cfg.Recognition.MaxNetworkRetries))
	}
	if cfg.Recognition.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recognition.sample_rate %d must be positive", cfg.Recognition.SampleRate))
	}

	// Silence
	if cfg.Silence.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("silence.sample_interval %s must be positive", cfg.Silence.SampleInterval))
	}
	if cfg.Silence.SilentFrames <= 0 {
		errs = append(errs, fmt.Errorf("silence.silent_frames %d must be positive", cfg.Silence.SilentFrames))
	}

	// Conversation
	conv := cfg.Conversation
	if conv.TutorRole != "" && !tutor.Role(conv.TutorRole).Valid() {
		slog.Warn("unknown tutor role; falling back to the closest match",
			"tutor_role", conv.TutorRole,
			"resolved", tutor.ParseRole(conv.TutorRole),
		)
	}
	if conv.Temperature != nil && (*conv.Temperature < 0 || *conv.Temperature > 2) {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", *conv.Temperature))
	}
	if conv.Speed != 0 && (conv.Speed < 0.25 || conv.Speed > 4) {
		errs = append(errs, fmt.Errorf("conversation.speed %.2f is out of range [0.25, 4]", conv.Speed))
	}
	if conv.ResponseFormat != "" && !api.ValidFormat(conv.ResponseFormat) {
		errs = append(errs, fmt.Errorf("conversation.response_format %q is invalid; valid values: mp3, opus, aac, flac, wav, pcm", conv.ResponseFormat))
	}
	if conv.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("conversation.restart_delay %s must not be negative", conv.RestartDelay))
	}

	// Client
	if cfg.Client.ServerURL != "" {
		if u, err := url.Parse(cfg.Client.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("client.server_url %q must be an absolute URL", cfg.Client.ServerURL))
		}
	}
	if cfg.Client.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("client.request_timeout %s must not be negative", cfg.Client.RequestTimeout))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", cfg.Audio.FramesPerBuffer))
	}

	if cfg.Providers.LLM.Name == "" && cfg.Providers.Recognition.Name != "" {
		slog.Warn("providers.recognition is configured without providers.llm; voice mode needs a chat model")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
