// Package config provides the configuration schema, loader, file watcher and
// provider registry for voxtutor.
package config

import (
	"time"

	"github.com/MrWong99/voxtutor/internal/resilience"
	"github.com/MrWong99/voxtutor/internal/silence"
	"github.com/MrWong99/voxtutor/internal/synthesis"
	"github.com/MrWong99/voxtutor/internal/tutor"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxtutor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Providers    ProvidersConfig       `yaml:"providers"`
	Fallbacks    FallbacksConfig       `yaml:"fallbacks"`
	Voice        synthesis.VoiceParams `yaml:"voice"`
	Recognition  RecognitionConfig     `yaml:"recognition"`
	Silence      SilenceConfig         `yaml:"silence"`
	Conversation ConversationConfig    `yaml:"conversation"`
	Client       ClientConfig          `yaml:"client"`
	Audio        AudioConfig           `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the tutoring server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It applies to the client commands too.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the multipart body of a pipeline request.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Metrics serves Prometheus metrics on /metrics when true.
	Metrics bool `yaml:"metrics"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM answers the student on the server.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes recorded turns on the server.
	STT ProviderEntry `yaml:"stt"`

	// TTS synthesizes replies, on the server and for voice mode.
	TTS ProviderEntry `yaml:"tts"`

	// Recognition is the streaming recognizer used by voice mode.
	Recognition ProviderEntry `yaml:"recognition"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptString returns the string option key, or "" if it is absent or not a
// string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// FallbacksConfig lists secondary providers tried in order when the primary
// fails or its circuit breaker is open.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`

	// CircuitBreaker tunes the breaker in front of every provider.
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RecognitionConfig tunes the voice-mode recognition engine.
type RecognitionConfig struct {
	// Lang is the BCP-47 recognition language.
	Lang string `yaml:"lang"`

	// InterimResults delivers partial transcripts while the student speaks.
	InterimResults bool `yaml:"interim_results"`

	// MaxNetworkRetries is how many network errors are retried per session.
	MaxNetworkRetries int `yaml:"max_network_retries"`

	// StartDelay is the grace delay before a recognizer starts.
	StartDelay time.Duration `yaml:"start_delay"`

	// NoSpeechTimeout fails a session that produced no transcript in time.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// SampleRate is the PCM rate sent to the streaming provider.
	SampleRate int `yaml:"sample_rate"`
}

// SilenceConfig tunes the end-of-utterance detector of conversation turns.
type SilenceConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	SpeechThreshold float64       `yaml:"speech_threshold"`
	SilentFrames    int           `yaml:"silent_frames"`
	MinSilenceGap   time.Duration `yaml:"min_silence_gap"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Options converts the settings into detector options.
func (s SilenceConfig) Options() []silence.Option {
	return []silence.Option{
		silence.WithSampleInterval(s.SampleInterval),
		silence.WithSpeechThreshold(s.SpeechThreshold),
		silence.WithSilentFrameThreshold(s.SilentFrames),
		silence.WithMinSilenceGap(s.MinSilenceGap),
		silence.WithTimeout(s.Timeout),
	}
}

// ConversationConfig holds the per-turn request parameters and the
// auto-conversation behaviour.
type ConversationConfig struct {
	// TutorRole selects the system instruction (math, science, history,
	// language, general).
	TutorRole string `yaml:"tutor_role"`

	// Model overrides the server's chat model.
	Model string `yaml:"model"`

	// Temperature overrides the sampling temperature in [0, 2].
	Temperature *float64 `yaml:"temperature"`

	// Voice, TTSModel, ResponseFormat and Speed are passed to speech
	// synthesis on the server.
	Voice          string  `yaml:"voice"`
	TTSModel       string  `yaml:"tts_model"`
	ResponseFormat string  `yaml:"response_format"`
	Speed          float64 `yaml:"speed"`

	// AutoConversation starts listening again after each reply.
	AutoConversation bool `yaml:"auto_conversation"`

	// RestartDelay is the grace delay before auto-conversation listens again.
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// Role returns the configured tutor role.
func (c ConversationConfig) Role() tutor.Role { return tutor.ParseRole(c.TutorRole) }

// ClientConfig locates the tutoring server for the client commands.
type ClientConfig struct {
	// ServerURL is the base URL of the tutoring server.
	ServerURL string `yaml:"server_url"`

	// ProbeURL is checked by the connectivity monitor. Defaults to
	// ServerURL + "/healthz".
	ProbeURL string `yaml:"probe_url"`

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// RequestTimeout bounds every call to the server.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// CircuitBreaker tunes the breaker in front of the server.
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// AudioConfig configures the local sound card.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// Default returns a configuration with every default filled in. Loading
// decodes on top of it, so unset keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			LogLevel:       LogInfo,
			MaxUploadBytes: 25 << 20,
		},
		Voice: synthesis.DefaultVoiceParams(),
		Recognition: RecognitionConfig{
			Lang:              "en-US",
			InterimResults:    true,
			MaxNetworkRetries: 3,
			StartDelay:        100 * time.Millisecond,
			NoSpeechTimeout:   8 * time.Second,
			SampleRate:        16000,
		},
		Silence: SilenceConfig{
			SampleInterval:  silence.DefaultSampleInterval,
			SpeechThreshold: silence.DefaultSpeechThreshold,
			SilentFrames:    silence.DefaultSilentFrameThreshold,
			MinSilenceGap:   silence.DefaultMinSilenceGap,
			Timeout:         silence.DefaultTimeout,
		},
		Conversation: ConversationConfig{
			TutorRole:      string(tutor.General),
			ResponseFormat: "wav",
			RestartDelay:   time.Second,
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8080",
			ProbeInterval:  15 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			FramesPerBuffer: 1024,
		},
	}
}
