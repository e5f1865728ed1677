// Package mock provides in-memory implementations of [audio.Device],
// [audio.Capture], [audio.Track] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that tests
// can assert on call counts, and they expose exported fields that control
// return values.
//
// Typical usage:
//
//	dev := mock.NewDevice(audio.Format{SampleRate: 16000, Channels: 1})
//	rec, _ := audio.Record(ctx, dev)
//	dev.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	wav := rec.Stop()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device]. Each Open returns a fresh [Capture]; frames
// pushed with Push are delivered to the most recently opened capture.
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	format   audio.Format
	captures []*Capture
}

// NewDevice creates a Device that produces frames in format f.
func NewDevice(f audio.Format) *Device {
	return &Device{format: f}
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	c := newCapture(d.format)
	d.captures = append(d.captures, c)
	return c, nil
}

// Push delivers a frame to the latest open capture. It reports false when no
// capture is open or it was already stopped.
func (d *Device) Push(frame audio.AudioFrame) bool {
	c := d.Last()
	if c == nil {
		return false
	}
	return c.push(frame)
}

// Last returns the most recently opened capture, or nil.
func (d *Device) Last() *Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.captures) == 0 {
		return nil
	}
	return d.captures[len(d.captures)-1]
}

// OpenCount returns how many captures were opened.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.captures)
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.Capture] with a single [Track].
type Capture struct {
	format audio.Format
	frames chan audio.AudioFrame
	track  *Track
}

func newCapture(f audio.Format) *Capture {
	c := &Capture{format: f, frames: make(chan audio.AudioFrame, 256)}
	c.track = &Track{onStop: func() { close(c.frames) }}
	return c
}

func (c *Capture) push(frame audio.AudioFrame) bool {
	c.track.mu.Lock()
	defer c.track.mu.Unlock()
	if c.track.stopped {
		return false
	}
	c.frames <- frame
	return true
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Tracks implements [audio.Capture].
func (c *Capture) Tracks() []audio.Track { return []audio.Track{c.track} }

// Format implements [audio.Capture].
func (c *Capture) Format() audio.Format { return c.format }

// Track returns the single track of this capture.
func (c *Capture) Track() *Track { return c.track }

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock [audio.Track]. Stop is idempotent.
type Track struct {
	mu        sync.Mutex
	stopped   bool
	stopCalls int
	onStop    func()
}

// Stop implements [audio.Track].
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCalls++
	if t.stopped {
		return
	}
	t.stopped = true
	if t.onStop != nil {
		t.onStop()
	}
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// StopCalls returns the number of Stop invocations.
func (t *Track) StopCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCalls
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player]. Play blocks until Finish, Fail, Stop or ctx
// cancellation; set AutoFinish to return immediately.
type Player struct {
	mu sync.Mutex

	// AutoFinish makes Play return nil immediately after recording the clip.
	AutoFinish bool

	// PlayErr, if non-nil, is returned immediately by Play.
	PlayErr error

	// Clips records every clip passed to Play.
	Clips []audio.Clip

	// StopCalls, PauseCalls and ResumeCalls count the respective invocations.
	StopCalls, PauseCalls, ResumeCalls int

	current chan error
	paused  bool
	started chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	if p.PlayErr != nil {
		err := p.PlayErr
		p.mu.Unlock()
		return err
	}
	if p.AutoFinish {
		p.mu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	p.current = done
	p.paused = false
	if p.started != nil {
		close(p.started)
		p.started = nil
	}
	p.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.clear(done)
		return ctx.Err()
	}
}

// Started returns a channel closed when the next blocking Play begins.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	if p.current != nil {
		close(ch)
		return ch
	}
	p.started = ch
	return ch
}

// Finish completes the current clip successfully.
func (p *Player) Finish() { p.complete(nil) }

// Fail completes the current clip with err.
func (p *Player) Fail(err error) { p.complete(err) }

func (p *Player) complete(err error) {
	p.mu.Lock()
	done := p.current
	p.current = nil
	p.paused = false
	p.mu.Unlock()
	if done != nil {
		done <- err
	}
}

func (p *Player) clear(done chan error) {
	p.mu.Lock()
	if p.current == done {
		p.current = nil
		p.paused = false
	}
	p.mu.Unlock()
}

// Stop implements [audio.Player].
func (p *Player) Stop() {
	p.mu.Lock()
	p.StopCalls++
	p.mu.Unlock()
	p.complete(audio.ErrStopped)
}

// Pause implements [audio.Player].
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PauseCalls++
	if p.current != nil {
		p.paused = true
	}
}

// Resume implements [audio.Player].
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResumeCalls++
	p.paused = false
}

// Playing implements [audio.Player].
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Paused implements [audio.Player].
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// PlayedClips returns a copy of the recorded clips.
func (p *Player) PlayedClips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.Clips))
	copy(out, p.Clips)
	return out
}

var (
	_ audio.Device  = (*Device)(nil)
	_ audio.Capture = (*Capture)(nil)
	_ audio.Track   = (*Track)(nil)
	_ audio.Player  = (*Player)(nil)
)
