// Package silence detects the end of an utterance in a live recording.
//
// A Detector samples the recording's frequency-domain energy on a fixed
// interval. Once the speaker has said something and then stayed quiet for
// both a number of consecutive frames and a minimum wall-clock gap, it arms a
// forced-stop timer; speech before the timer fires disarms it again.
package silence

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/pkg/audio"
)

// Defaults for a Detector.
const (
	DefaultSampleInterval       = 200 * time.Millisecond
	DefaultSpeechThreshold      = 20.0
	DefaultSilentFrameThreshold = 10
	DefaultMinSilenceGap        = time.Second
	DefaultTimeout              = 20 * time.Second
)

// EnergySource reports the current average byte-frequency energy on a 0-255
// scale. *audio.Analyser implements it.
type EnergySource interface {
	ByteFrequencyEnergy() float64
}

var _ EnergySource = (*audio.Analyser)(nil)

// State is a snapshot of the detection state.
type State struct {
	LastSpeech           time.Time
	ConsecutiveSilent    int
	SilentFrameThreshold int
	Timeout              time.Duration
	SpeechSeen           bool
	TimerArmed           bool
	Fired                bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(d *Detector) { d.clock = c } }

// WithSampleInterval sets how often energy is sampled.
func WithSampleInterval(iv time.Duration) Option {
	return func(d *Detector) { d.interval = iv }
}

// WithSpeechThreshold sets the energy above which a frame counts as speech.
func WithSpeechThreshold(v float64) Option {
	return func(d *Detector) { d.threshold = v }
}

// WithSilentFrameThreshold sets how many consecutive silent frames are
// required before the timer can be armed.
func WithSilentFrameThreshold(n int) Option {
	return func(d *Detector) { d.silentFrames = n }
}

// WithMinSilenceGap sets the wall-clock time since the last speech frame
// required before the timer can be armed.
func WithMinSilenceGap(gap time.Duration) Option {
	return func(d *Detector) { d.minGap = gap }
}

// WithTimeout sets the forced-stop delay.
func WithTimeout(t time.Duration) Option {
	return func(d *Detector) { d.timeout = t }
}

// Detector watches one recording. It is not reusable after Stop.
type Detector struct {
	source    EnergySource
	closer    io.Closer
	tracks    []audio.Track
	onSilence func()

	clock        clock.Clock
	interval     time.Duration
	threshold    float64
	silentFrames int
	minGap       time.Duration
	timeout      time.Duration

	sched *clock.Scheduler

	mu         sync.Mutex
	started    bool
	stopped    bool
	lastSpeech time.Time
	silent     int
	speechSeen bool
	fired      bool
	ticker     *clock.Task
	timer      *clock.Task
}

// New creates a Detector over source. Stop closes closer (the analysis
// context) and stops every track. onSilence runs at most once, when the
// forced-stop timer fires.
func New(source EnergySource, closer io.Closer, tracks []audio.Track, onSilence func(), opts ...Option) *Detector {
	d := &Detector{
		source:       source,
		closer:       closer,
		tracks:       tracks,
		onSilence:    onSilence,
		interval:     DefaultSampleInterval,
		threshold:    DefaultSpeechThreshold,
		silentFrames: DefaultSilentFrameThreshold,
		minGap:       DefaultMinSilenceGap,
		timeout:      DefaultTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	d.sched = clock.NewScheduler(d.clock)
	return d
}

// ForRecording creates a Detector over a live recording.
func ForRecording(rec *audio.Recording, onSilence func(), opts ...Option) *Detector {
	return New(rec.Analyser(), rec.Analyser(), rec.Tracks(), onSilence, opts...)
}

// Start begins sampling. Calling Start twice or after Stop has no effect.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.lastSpeech = d.clock.Now()
	d.ticker = d.sched.Every(d.interval, d.sample)
}

func (d *Detector) sample() {
	energy := d.source.ByteFrequencyEnergy()
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.fired {
		return
	}

	if energy > d.threshold {
		d.silent = 0
		d.lastSpeech = now
		d.speechSeen = true
		if d.timer.Cancel() {
			slog.Debug("silence: speech resumed, forced stop disarmed")
		}
		d.timer = nil
		return
	}

	d.silent++
	if d.timer != nil || !d.speechSeen {
		return
	}
	if d.silent >= d.silentFrames && now.Sub(d.lastSpeech) >= d.minGap {
		slog.Debug("silence: arming forced stop", "timeout", d.timeout, "silent_frames", d.silent)
		d.timer = d.sched.Schedule(d.timeout, d.fire)
	}
}

func (d *Detector) fire() {
	d.mu.Lock()
	if d.stopped || d.fired {
		d.mu.Unlock()
		return
	}
	d.fired = true
	d.timer = nil
	d.ticker.Cancel()
	cb := d.onSilence
	d.mu.Unlock()

	slog.Info("silence: forced stop after prolonged silence", "timeout", d.timeout)
	if cb != nil {
		cb()
	}
}

// Stop cancels sampling and any pending timer, closes the analysis context
// and stops every track. It is idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.sched.Close()
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			slog.Debug("silence: close analyser", "err", err)
		}
	}
	for _, t := range d.tracks {
		t.Stop()
	}
}

// State returns a snapshot of the detection state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		LastSpeech:           d.lastSpeech,
		ConsecutiveSilent:    d.silent,
		SilentFrameThreshold: d.silentFrames,
		Timeout:              d.timeout,
		SpeechSeen:           d.speechSeen,
		TimerArmed:           d.timer.Pending(),
		Fired:                d.fired,
	}
}
