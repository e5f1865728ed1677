// Package synthesis speaks tutor replies aloud.
//
// The Engine enforces at most one active utterance: every Speak cancels the
// previous one, and events of a superseded utterance are dropped before they
// reach a callback. Voice parameters resolve per call, then from the shared
// GlobalVoiceOptions, then from DefaultVoiceParams.
package synthesis

import "github.com/MrWong99/voxtutor/pkg/provider/tts"

// EventType identifies a backend event.
type EventType string

const (
	EventStart EventType = "start"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is emitted by a Backend while an utterance plays.
type Event struct {
	Type EventType

	// Err is set for EventError.
	Err error
}

// Utterance is one fully resolved synthesis request.
type Utterance struct {
	Text string

	// Voice is the selected voice; the zero value lets the backend choose.
	Voice tts.Voice

	Rate   float64
	Pitch  float64
	Volume float64
	Lang   string
}

// Backend plays utterances. Speak returns immediately; events are delivered
// to sink asynchronously. Cancel interrupts whatever is playing.
type Backend interface {
	Supported() bool
	Voices() []tts.Voice
	Speak(u Utterance, sink func(Event))
	Cancel()
	Pause()
	Resume()
	Speaking() bool
	Paused() bool
}
