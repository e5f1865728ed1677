// Package audio defines the frame type, device interfaces and PCM helpers used
// to capture a student's voice and play tutor replies.
//
// The primary abstractions are:
//
//   - [Device] opens the microphone and returns a [Capture].
//   - [Capture] is a live microphone stream: a frame channel plus the [Track]
//     handles that must be stopped to release the hardware.
//   - [Player] plays decoded [Clip] values on the speaker.
//
// Hardware implementations live in audio/portaudio; test doubles in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by Device.Open when the operating system
	// refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is returned by Device.Open when no capture device is present.
	ErrNoDevice = errors.New("audio: no capture device available")

	// ErrStopped is returned by Player.Play when playback was interrupted by Stop.
	ErrStopped = errors.New("audio: playback stopped")

	// ErrUnsupportedFormat is returned when a response format cannot be decoded
	// for local playback.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// AudioFrame represents a single frame of 16-bit little-endian PCM audio.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a sound card, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Track is one capture channel of a [Capture]. Stopping every track releases
// the microphone.
type Track interface {
	Stop()
}

// Capture is a live microphone stream.
type Capture interface {
	// Frames returns the channel of captured frames. It is closed once every
	// track has been stopped.
	Frames() <-chan AudioFrame

	// Tracks returns the tracks backing this capture.
	Tracks() []Track

	// Format reports the PCM format of the delivered frames.
	Format() Format
}

// Device opens the microphone.
type Device interface {
	// Open starts capturing. Errors wrap ErrPermissionDenied or ErrNoDevice when
	// the cause is known.
	Open(ctx context.Context) (Capture, error)
}

// Clip is decoded PCM ready for playback.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int

	// Gain scales the samples on playback; 1.0 is unity, 0 is silence.
	Gain float64
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Player plays clips on the speaker. Implementations must be safe for
// concurrent use; at most one clip plays at a time.
type Player interface {
	// Play blocks until clip finished playing, ctx is cancelled, or Stop is
	// called (in which case it returns ErrStopped).
	Play(ctx context.Context, clip Clip) error

	// Stop interrupts the current clip, if any.
	Stop()

	// Pause suspends output without discarding the clip.
	Pause()

	// Resume continues a paused clip.
	Resume()

	// Playing reports whether a clip is loaded (including while paused).
	Playing() bool

	// Paused reports whether output is currently suspended.
	Paused() bool
}
