//go:build portaudio

package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxtutor/pkg/audio"
)

// Available reports whether the binary was built with PortAudio support.
func Available() bool { return true }

// Initialize must be called once before any device is opened.
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases PortAudio. Call once on shutdown.
func Terminate() {
	_ = pa.Terminate()
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device captures mono 16-bit PCM from the default input device.
type Device struct {
	sampleRate      int
	framesPerBuffer int
}

// NewDevice creates a Device. framesPerBuffer of 0 picks 20 ms buffers.
func NewDevice(sampleRate, framesPerBuffer int) *Device {
	if framesPerBuffer <= 0 {
		framesPerBuffer = sampleRate / 50
	}
	return &Device{sampleRate: sampleRate, framesPerBuffer: framesPerBuffer}
}

// Open implements audio.Device.
func (d *Device) Open(_ context.Context) (audio.Capture, error) {
	in, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, classify(err)
	}

	c := &capture{
		format: audio.Format{SampleRate: d.sampleRate, Channels: 1},
		frames: make(chan audio.AudioFrame, 64),
		start:  time.Now(),
	}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   in,
			Channels: 1,
			Latency:  in.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.sampleRate),
		FramesPerBuffer: d.framesPerBuffer,
	}
	stream, err := pa.OpenStream(params, c.onInput)
	if err != nil {
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classify(err)
	}
	c.stream = stream
	return c, nil
}

// classify maps PortAudio failures onto the audio sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	case errors.Is(err, pa.InvalidDevice), strings.Contains(msg, "no default"), strings.Contains(msg, "device unavailable"):
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	default:
		return fmt.Errorf("portaudio: %w", err)
	}
}

type capture struct {
	format audio.Format
	stream *pa.Stream
	start  time.Time

	mu      sync.Mutex
	stopped bool
	frames  chan audio.AudioFrame
}

func (c *capture) onInput(in []int16) {
	buf := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	select {
	case c.frames <- audio.AudioFrame{
		Data:       buf,
		SampleRate: c.format.SampleRate,
		Channels:   1,
		Timestamp:  time.Since(c.start),
	}:
	default:
		// Consumer is behind; drop rather than block the audio thread.
	}
}

func (c *capture) Frames() <-chan audio.AudioFrame { return c.frames }
func (c *capture) Tracks() []audio.Track          { return []audio.Track{c} }
func (c *capture) Format() audio.Format           { return c.format }

// Stop implements audio.Track.
func (c *capture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	_ = c.stream.Stop()
	_ = c.stream.Close()

	c.mu.Lock()
	close(c.frames)
	c.mu.Unlock()
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays clips on the default output device.
type Player struct {
	framesPerBuffer int

	mu      sync.Mutex
	pcm     []int16
	pos     int
	paused  bool
	playing bool
	done    chan error
}

// NewPlayer creates a Player. framesPerBuffer of 0 lets PortAudio choose.
func NewPlayer(framesPerBuffer int) *Player {
	return &Player{framesPerBuffer: framesPerBuffer}
}

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.Stop()

	gain := clip.Gain
	pcm := audio.ApplyGain(clip.PCM, gain)
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	done := make(chan error, 1)
	p.mu.Lock()
	p.pcm, p.pos, p.paused, p.playing, p.done = samples, 0, false, true, done
	p.mu.Unlock()

	stream, err := pa.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), p.framesPerBuffer, p.onOutput)
	if err != nil {
		p.finish(done, nil)
		return fmt.Errorf("portaudio: open output: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		p.finish(done, nil)
		return fmt.Errorf("portaudio: start output: %w", err)
	}
	defer stream.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.finish(done, nil)
		return ctx.Err()
	}
}

func (p *Player) onOutput(out []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || p.paused {
		clear(out)
		return
	}
	n := copy(out, p.pcm[p.pos:])
	clear(out[n:])
	p.pos += n
	if p.pos >= len(p.pcm) {
		p.playing = false
		select {
		case p.done <- nil:
		default:
		}
	}
}

func (p *Player) finish(done chan error, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != done {
		return
	}
	p.playing, p.paused = false, false
	select {
	case done <- err:
	default:
	}
}

// Stop implements audio.Player.
func (p *Player) Stop() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		p.finish(done, audio.ErrStopped)
	}
}

// Pause implements audio.Player.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.paused = true
	}
}

// Resume implements audio.Player.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// Playing implements audio.Player.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Paused implements audio.Player.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
