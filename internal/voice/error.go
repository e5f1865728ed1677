// Package voice defines the error shape shared by every voice component.
// Backend failures are converted with Normalize before they reach a
// callback, so callers only ever see an *Error.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/MrWong99/voxtutor/internal/mic"
	"github.com/MrWong99/voxtutor/pkg/audio"
)

// ErrorType classifies a voice failure.
type ErrorType string

const (
	TypeNetwork      ErrorType = "network"
	TypeNotAllowed   ErrorType = "not-allowed"
	TypeAudioCapture ErrorType = "audio-capture"
	TypeNoSpeech     ErrorType = "no-speech"
	TypeAborted      ErrorType = "aborted"
	TypeUnsupported  ErrorType = "unsupported"
	TypeSynthesis    ErrorType = "synthesis"
	TypePlayback     ErrorType = "playback"
	TypeTransport    ErrorType = "transport"
	TypeUnknown      ErrorType = "unknown"
)

// User-facing messages for the final error types.
const (
	MsgNotAllowed   = "Microphone access was denied. Allow microphone access for this application in your system settings, then try again."
	MsgAudioCapture = "No microphone was found. Connect a microphone and try again."
	MsgNoSpeech     = "No speech was detected. Please try speaking again."
	MsgAborted      = "Speech recognition was aborted."
	MsgUnsupported  = "Speech recognition is not supported on this system."
	MsgNetwork      = "Network error. Check your connection and try again."
	MsgOffline      = "You are offline. Voice input will resume when the connection returns."
	MsgSynthesis    = "Speech synthesis failed. Please try again."
	MsgPlayback     = "Audio playback failed. Check your speakers and try again."
	MsgTransport    = "Could not reach the tutor. Check your connection and try again."
	MsgNoSpeechTurn = "No speech detected. Please try again."
	MsgVoiceModeOff = "Voice mode was turned off after repeated connection failures. Turn it back on to try again."
)

// Error is the normalized failure delivered to voice callbacks.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	IsFinal    bool      `json:"isFinal"`
	IsRetrying bool      `json:"isRetrying"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("voice: %s: %s", e.Type, e.Message)
}

// Final returns a final, non-retrying error.
func Final(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg, IsFinal: true}
}

// MicBusy is the error reported when another component owns the microphone.
func MicBusy(holder string) *Error {
	return Final(TypeAudioCapture, fmt.Sprintf("The microphone is already in use by %s. Stop it first, then try again.", holder))
}

// Normalize converts err into an *Error. Errors that already are *Error are
// returned unchanged; everything else becomes final.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}
	var busy *mic.BusyError
	if errors.As(err, &busy) {
		return MicBusy(busy.Holder)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return Final(TypeAborted, MsgAborted)
	case errors.Is(err, audio.ErrPermissionDenied):
		return Final(TypeNotAllowed, MsgNotAllowed)
	case errors.Is(err, audio.ErrNoDevice):
		return Final(TypeAudioCapture, MsgAudioCapture)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return Final(TypeNetwork, MsgNetwork)
	}
	return Final(TypeUnknown, err.Error())
}
