package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/mic"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/voice"
)

const (
	defaultMaxNetworkRetries = 3
	defaultStartDelay        = 100 * time.Millisecond
	defaultProbeTimeout      = 3 * time.Second

	baseBackoff = time.Second
	maxBackoff  = 8 * time.Second
)

// ErrDisposed is returned by Init after the engine could not be restarted.
var ErrDisposed = errors.New("recognition: engine disposed")

// Network reports connectivity for network-backed backends.
type Network interface {
	Online() bool
	Probe(ctx context.Context) error
}

// Options configures one listening session.
type Options struct {
	Lang           string
	Continuous     bool
	InterimResults bool

	OnStart  func()
	OnResult func(text string, isFinal bool)
	OnEnd    func()
	OnError  func(*voice.Error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for the start delay and retry backoff.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMaxNetworkRetries sets how many network errors are retried before a
// final error. Defaults to 3.
func WithMaxNetworkRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithStartDelay sets the grace delay before the recognizer starts.
// Defaults to 100 ms.
func WithStartDelay(d time.Duration) Option {
	return func(e *Engine) { e.startDelay = d }
}

// WithNetwork enables the online check and pre-flight probe for
// network-backed backends.
func WithNetwork(n Network) Option {
	return func(e *Engine) { e.network = n }
}

// WithMicrophone makes the engine hold tok while listening.
func WithMicrophone(tok *mic.Token) Option {
	return func(e *Engine) { e.mic = tok }
}

// WithMetrics records retries and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine runs continuous recognition with network retry.
//
// Each listening session gets a recognizer generation; events carrying an
// older generation are dropped, so a stopped or replaced recognizer can never
// mutate the session. All timers live on one scheduler that Dispose closes.
// Callbacks are invoked without holding the engine lock.
type Engine struct {
	backend    Backend
	clock      clock.Clock
	maxRetries int
	startDelay time.Duration
	network    Network
	mic        *mic.Token
	metrics    *observe.Metrics

	mu          sync.Mutex
	sched       *clock.Scheduler
	disposed    bool
	listening   bool
	gen         uint64
	rec         Recognizer
	opts        Options
	retryCount  int
	interim     string
	exhaustions int
	release     func()
	pending     *clock.Task
}

// New creates an Engine. Call Init before use and Dispose when done.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:    backend,
		maxRetries: defaultMaxNetworkRetries,
		startDelay: defaultStartDelay,
	}
	for _, o := range opts {
		o(e)
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	e.sched = clock.NewScheduler(e.clock)
	return e
}

// Init prepares the engine for use. It may be called again after Dispose.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return errors.New("recognition: backend must not be nil")
	}
	if e.disposed {
		e.sched = clock.NewScheduler(e.clock)
		e.disposed = false
	}
	return nil
}

// Dispose stops listening and cancels every pending task.
func (e *Engine) Dispose() {
	e.StopListening()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.Close()
	e.disposed = true
}

// Backoff returns the delay before the n-th retry: min(1s·2^(n-1), 8s).
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 4 {
		return maxBackoff
	}
	return min(baseBackoff<<(n-1), maxBackoff)
}

// StartListening begins a listening session. It returns false when the
// backend is unsupported, the engine is disposed, the network is offline or
// the microphone is held by someone else; in the last two cases a final error
// is reported through opts.OnError.
func (e *Engine) StartListening(opts Options) bool {
	if e.backend == nil || !e.backend.Supported() {
		e.emitError(opts, voice.Final(voice.TypeUnsupported, voice.MsgUnsupported))
		return false
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return false
	}

	networked := e.backend.NetworkBacked() && e.network != nil
	if networked && !e.network.Online() {
		e.mu.Unlock()
		e.emitError(opts, voice.Final(voice.TypeNetwork, voice.MsgOffline))
		return false
	}

	// Restarting replaces the previous session without releasing the mic.
	old := e.resetLocked()
	if e.release == nil && e.mic != nil {
		release, err := e.mic.Acquire(mic.HolderRecognition)
		if err != nil {
			e.mu.Unlock()
			discard(old)
			e.emitError(opts, voice.Normalize(err))
			return false
		}
		e.release = release
	}

	e.listening = true
	e.opts = opts
	e.retryCount = 0
	gen := e.gen
	e.pending = e.sched.Schedule(e.startDelay, func() { e.startRecognizer(gen) })
	e.mu.Unlock()

	discard(old)
	if networked {
		go e.probe()
	}
	return true
}

// probe is a best-effort connectivity check; it never blocks or fails start.
func (e *Engine) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
	defer cancel()
	if err := e.network.Probe(ctx); err != nil {
		slog.Warn("recognition: pre-flight connectivity probe failed", "err", err)
	}
}

// startRecognizer builds and starts a fresh recognizer for gen.
func (e *Engine) startRecognizer(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.listening {
		e.mu.Unlock()
		return
	}
	cfg := Config{Lang: e.opts.Lang, Continuous: e.opts.Continuous, InterimResults: e.opts.InterimResults}
	e.mu.Unlock()

	rec, err := e.backend.NewRecognizer(cfg, func(ev Event) { e.handle(gen, ev) })
	if err != nil {
		slog.Warn("recognition: failed to create recognizer", "err", err)
		e.handle(gen, Event{Type: EventError, Code: CodeAudioCapture})
		return
	}

	e.mu.Lock()
	if gen != e.gen || !e.listening {
		e.mu.Unlock()
		rec.Abort()
		return
	}
	e.rec = rec
	e.mu.Unlock()

	if err := rec.Start(); err != nil {
		slog.Warn("recognition: failed to start recognizer", "err", err)
		e.handle(gen, Event{Type: EventError, Code: codeFor(err, e.backend.NetworkBacked())})
	}
}

// handle applies one backend event. Events of a superseded generation are
// ignored.
func (e *Engine) handle(gen uint64, ev Event) {
	e.mu.Lock()
	if gen != e.gen || !e.listening {
		e.mu.Unlock()
		return
	}
	opts := e.opts

	switch ev.Type {
	case EventStart:
		e.mu.Unlock()
		if opts.OnStart != nil {
			opts.OnStart()
		}

	case EventResult:
		if ev.IsFinal {
			// A final result proves the connection works again.
			e.retryCount = 0
			e.interim = ""
		} else {
			e.interim = ev.Text
		}
		e.mu.Unlock()
		if opts.OnResult != nil {
			opts.OnResult(ev.Text, ev.IsFinal)
		}

	case EventEnd:
		old := e.teardownLocked()
		e.mu.Unlock()
		discard(old)
		if opts.OnEnd != nil {
			opts.OnEnd()
		}

	case EventError:
		if ev.Code == CodeNetwork && e.retryCount < e.maxRetries {
			e.retryLocked()
			return
		}
		verr := errorFor(ev.Code, e.maxRetries)
		if ev.Code == CodeNetwork {
			e.exhaustions++
		}
		old := e.teardownLocked()
		e.mu.Unlock()
		discard(old)
		e.emitError(opts, verr)
		if opts.OnEnd != nil {
			opts.OnEnd()
		}

	default:
		e.mu.Unlock()
	}
}

// retryLocked discards the current recognizer and schedules a rebuilt one.
// It is entered with e.mu held and returns with it released.
func (e *Engine) retryLocked() {
	e.retryCount++
	n := e.retryCount
	delay := Backoff(n)

	old := e.rec
	e.rec = nil
	e.gen++
	gen := e.gen
	e.pending = e.sched.Schedule(delay, func() { e.startRecognizer(gen) })
	opts := e.opts
	e.mu.Unlock()

	discard(old)
	slog.Info("recognition: network error, retrying", "attempt", n, "max", e.maxRetries, "delay", delay)
	if e.metrics != nil {
		e.metrics.RecognitionRetries.Add(context.Background(), 1)
	}
	e.emitError(opts, &voice.Error{
		Type:       voice.TypeNetwork,
		Message:    fmt.Sprintf("Network error. Reconnecting in %ds (attempt %d of %d)...", int(delay/time.Second), n, e.maxRetries),
		IsRetrying: true,
	})
}

// StopListening ends the session. It is idempotent and synchronous: no
// callback of the stopped session fires after it returns, except OnEnd,
// which it calls itself when a session was active.
func (e *Engine) StopListening() {
	e.mu.Lock()
	wasActive := e.listening
	opts := e.opts
	old := e.teardownLocked()
	e.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if wasActive && opts.OnEnd != nil {
		opts.OnEnd()
	}
}

// HandleOffline stops an active session and reports one final network error.
func (e *Engine) HandleOffline() {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}
	opts := e.opts
	old := e.teardownLocked()
	e.mu.Unlock()

	discard(old)
	e.emitError(opts, voice.Final(voice.TypeNetwork, voice.MsgOffline))
	if opts.OnEnd != nil {
		opts.OnEnd()
	}
}

// resetLocked invalidates the current recognizer and pending task and
// returns the recognizer for the caller to discard outside the lock.
func (e *Engine) resetLocked() Recognizer {
	e.gen++
	e.pending.Cancel()
	e.pending = nil
	old := e.rec
	e.rec = nil
	e.interim = ""
	return old
}

// teardownLocked ends the session and releases the microphone.
func (e *Engine) teardownLocked() Recognizer {
	old := e.resetLocked()
	e.listening = false
	e.retryCount = 0
	if e.release != nil {
		e.release()
		e.release = nil
	}
	return old
}

func discard(r Recognizer) {
	if r != nil {
		r.Abort()
	}
}

func (e *Engine) emitError(opts Options, err *voice.Error) {
	if e.metrics != nil {
		e.metrics.RecordVoiceError(context.Background(), string(err.Type), err.IsFinal)
	}
	if err.IsFinal {
		slog.Warn("recognition: final error", "type", err.Type, "message", err.Message)
	}
	if opts.OnError != nil {
		opts.OnError(err)
	}
}

// IsListening reports whether a session is active, including while a retry
// is pending.
func (e *Engine) IsListening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// RetryCount returns the number of consecutive network retries.
func (e *Engine) RetryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount
}

// InterimText returns the latest interim transcript of the current
// utterance.
func (e *Engine) InterimText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interim
}

// Exhaustions returns how many times the retry budget was used up since
// the last ResetExhaustions.
func (e *Engine) Exhaustions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhaustions
}

// ResetExhaustions clears the exhaustion counter.
func (e *Engine) ResetExhaustions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exhaustions = 0
}

// errorFor maps a final backend error code to its user-facing error.
func errorFor(code string, maxRetries int) *voice.Error {
	switch code {
	case CodeNetwork:
		return voice.Final(voice.TypeNetwork, fmt.Sprintf(
			"Speech recognition could not reconnect after %d attempts. Check your connection and try again.", maxRetries))
	case CodeNotAllowed, CodeServiceNotAllowed, CodePermissionDenied:
		return voice.Final(voice.TypeNotAllowed, voice.MsgNotAllowed)
	case CodeAudioCapture:
		return voice.Final(voice.TypeAudioCapture, voice.MsgAudioCapture)
	case CodeNoSpeech:
		return voice.Final(voice.TypeNoSpeech, voice.MsgNoSpeech)
	case CodeAborted:
		return voice.Final(voice.TypeAborted, voice.MsgAborted)
	default:
		return voice.Final(voice.TypeUnknown, "Speech recognition error: "+code)
	}
}
