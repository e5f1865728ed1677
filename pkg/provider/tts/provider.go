// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs,
// or a local Coqui server) and turns one utterance of text into one encoded
// audio clip. Tutor replies are short and spoken as a whole, so the interface
// is request/response rather than streaming.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"mime"
	"strings"
)

// Audio formats a provider may return. The names match the response_format
// values of the pipeline endpoint.
const (
	FormatMP3  = "mp3"
	FormatOpus = "opus"
	FormatAAC  = "aac"
	FormatFLAC = "flac"
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
)

var contentTypes = map[string]string{
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/opus",
	FormatAAC:  "audio/aac",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
	FormatPCM:  "audio/pcm",
}

// ContentType returns the media type for format. Unknown formats map to
// "application/octet-stream".
func ContentType(format string) string {
	if ct, ok := contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// FormatOf returns the format whose media type is contentType, or "".
func FormatOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mt == "audio/mp3" {
		return FormatMP3
	}
	for f, ct := range contentTypes {
		if ct == mt {
			return f
		}
	}
	return ""
}

// ErrEmptyText is returned by Synthesize when the request carries no text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Voice describes one voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Lang is a BCP-47 language tag ("en-US"), or "" for multilingual voices.
	Lang string `json:"lang,omitempty"`

	// Local reports whether synthesis runs on this machine.
	Local bool `json:"local,omitempty"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`
}

// SpeechRequest is one synthesis call.
type SpeechRequest struct {
	// Text is the utterance to speak.
	Text string

	// Voice is a Voice.ID. Empty selects the provider default.
	Voice string

	// Model is a provider model identifier. Empty selects the provider default.
	Model string

	// Format is one of the Format constants. Empty selects the provider default.
	Format string

	// Speed is the speaking-rate multiplier; 0 means 1.0.
	Speed float64

	// Pitch is a pitch multiplier; 0 means 1.0. Providers without pitch
	// control ignore it.
	Pitch float64

	// Lang is a BCP-47 hint for multilingual models.
	Lang string

	// Instructions is a free-form style prompt for models that accept one.
	Instructions string
}

// Speech is a synthesised clip.
type Speech struct {
	// Audio is the encoded clip.
	Audio []byte

	// Format is the actual encoding of Audio (one of the Format constants).
	Format string

	// SampleRate is set for FormatPCM, whose bytes carry no header.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text to audio. It returns ErrEmptyText when the
	// text is blank.
	Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}
