// Package portaudio provides the local microphone and speaker used by the
// voxtutor client. The real implementation needs the PortAudio C library and
// is compiled with the "portaudio" build tag; without it every operation fails
// with audio.ErrNoDevice so the rest of the client still builds and runs
// (text chat, remote server) on machines without audio hardware.
//
// Build with audio support:
//
//	go build -tags portaudio ./cmd/voxtutor
package portaudio

import "github.com/MrWong99/voxtutor/pkg/audio"

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Player = (*Player)(nil)
)
