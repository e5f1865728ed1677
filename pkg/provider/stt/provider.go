// Package stt defines the interfaces for Speech-to-Text backends.
//
// Two shapes are supported. Provider wraps a real-time transcription service
// (e.g., Deepgram) and exposes a streaming SessionHandle that accepts raw PCM
// frames and emits partial and final Transcript values; the recognition engine
// drives it for voice-input mode. Transcriber wraps a batch service (OpenAI
// audio transcriptions, a whisper.cpp server, or the in-process whisper.cpp
// bindings) that turns one recorded clip into text; the remote pipeline uses it
// for full conversation turns.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session was closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual STT rate.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// InterimResults requests partial transcripts on the Partials channel.
	InterimResults bool

	// Keywords is a list of vocabulary hints that increase recognition probability
	// for uncommon subject terms.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods must
// be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit PCM audio to the provider. Calling
	// SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim Transcript values.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of authoritative Transcript values.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended. It is nil while the session is running
	// and after a normal Close; otherwise it is the transport error that tore the
	// session down. Valid once Finals is closed.
	Err() error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts one recorded clip into text. An empty string with a nil
	// error means the clip contained no recognisable speech.
	Transcribe(ctx context.Context, audio Audio, opts TranscribeOptions) (string, error)
}
