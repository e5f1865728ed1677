// Package recognition implements continuous speech recognition for voice
// input mode: an [Engine] that owns the retry/backoff state machine on top of
// a pluggable [Backend].
package recognition

// EventType names a backend event.
type EventType string

const (
	EventStart  EventType = "start"
	EventResult EventType = "result"
	EventEnd    EventType = "end"
	EventError  EventType = "error"
)

// Error codes carried by EventError.
const (
	CodeNetwork           = "network"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodePermissionDenied  = "permission-denied"
	CodeAudioCapture      = "audio-capture"
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
)

// Event is emitted by a Recognizer through its sink.
type Event struct {
	Type EventType

	// Text and IsFinal are set for EventResult.
	Text    string
	IsFinal bool

	// Code is set for EventError.
	Code string
}

// Config configures one Recognizer.
type Config struct {
	Lang           string
	Continuous     bool
	InterimResults bool
}

// Recognizer is one underlying recognition object. It is used for a single
// Start and discarded afterwards.
type Recognizer interface {
	// Start begins recognition. Failures after Start returned are reported
	// as EventError followed by EventEnd.
	Start() error

	// Stop ends recognition gracefully, delivering pending results.
	Stop()

	// Abort ends recognition immediately; no further events are delivered.
	Abort()
}

// Backend creates recognizers.
type Backend interface {
	// Supported reports whether recognition can run at all on this host.
	Supported() bool

	// NetworkBacked reports whether recognition depends on a remote service.
	NetworkBacked() bool

	// NewRecognizer builds a recognizer that reports events to sink. sink may
	// be called from any goroutine, but never concurrently for one recognizer.
	NewRecognizer(cfg Config, sink func(Event)) (Recognizer, error)
}
