package main

import (
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxtutor/pkg/provider/llm/openai"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
	"github.com/MrWong99/voxtutor/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxtutor/pkg/provider/stt/openai"
	"github.com/MrWong99/voxtutor/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
	"github.com/MrWong99/voxtutor/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxtutor/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/voxtutor/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires every provider that ships with voxtutor
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends share the any-llm pattern: optional
	// APIKey plus optional BaseURL. ollama and the llama servers are local
	// and only use BaseURL.
	for _, name := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
		"ollama", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT (clip transcription) ──────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisper(entry)
	})
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisperNative(entry)
	})

	// ── Recognition (streaming) ───────────────────────────────────────────────

	reg.RegisterRecognition("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterRecognition("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return newWhisper(entry)
	})
	reg.RegisterRecognition("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		return newWhisperNative(entry)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, oaitts.WithVoice(v))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, elevenlabs.WithVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func newWhisper(entry config.ProviderEntry) (*whisper.Provider, error) {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := entry.OptString("language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return whisper.New(entry.BaseURL, opts...)
}

func newWhisperNative(entry config.ProviderEntry) (*whisper.NativeProvider, error) {
	modelPath := entry.Model
	if modelPath == "" {
		modelPath = entry.OptString("model_path")
	}
	var opts []whisper.NativeOption
	if lang := entry.OptString("language"); lang != "" {
		opts = append(opts, whisper.WithNativeLanguage(lang))
	}
	return whisper.NewNative(modelPath, opts...)
}
