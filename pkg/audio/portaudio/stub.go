//go:build !portaudio

package portaudio

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxtutor/pkg/audio"
)

var errNotCompiled = fmt.Errorf("%w: built without the portaudio tag", audio.ErrNoDevice)

// Available reports whether the binary was built with PortAudio support.
func Available() bool { return false }

// Initialize is a no-op without PortAudio.
func Initialize() error { return nil }

// Terminate is a no-op without PortAudio.
func Terminate() {}

// Device is the microphone stub.
type Device struct{}

// NewDevice returns a Device whose Open always fails.
func NewDevice(int, int) *Device { return &Device{} }

// Open implements audio.Device.
func (*Device) Open(context.Context) (audio.Capture, error) { return nil, errNotCompiled }

// Player is the speaker stub.
type Player struct{}

// NewPlayer returns a Player whose Play always fails.
func NewPlayer(int) *Player { return &Player{} }

// Play implements audio.Player.
func (*Player) Play(context.Context, audio.Clip) error { return errNotCompiled }

func (*Player) Stop()         {}
func (*Player) Pause()        {}
func (*Player) Resume()       {}
func (*Player) Playing() bool { return false }
func (*Player) Paused() bool  { return false }
