package recognition

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

const (
	defaultRecognitionRate = 16000
	defaultNoSpeechTimeout = 8 * time.Second
)

var _ Backend = (*STTBackend)(nil)

// STTBackend streams microphone capture into an stt.Provider session and
// reports transcripts as recognition events.
type STTBackend struct {
	provider        stt.Provider
	device          audio.Device
	networkBacked   bool
	sampleRate      int
	noSpeechTimeout time.Duration
}

// STTOption configures an STTBackend.
type STTOption func(*STTBackend)

// WithLocalProvider marks the provider as running on this machine, which
// skips the engine's online check.
func WithLocalProvider() STTOption {
	return func(b *STTBackend) { b.networkBacked = false }
}

// WithSampleRate sets the PCM rate sent to the provider. Defaults to 16 kHz.
func WithSampleRate(rate int) STTOption {
	return func(b *STTBackend) { b.sampleRate = rate }
}

// WithNoSpeechTimeout sets how long a session may run without any
// transcript before it fails with no-speech. Zero disables the timeout.
func WithNoSpeechTimeout(d time.Duration) STTOption {
	return func(b *STTBackend) { b.noSpeechTimeout = d }
}

// NewSTTBackend creates a backend over provider and device.
func NewSTTBackend(provider stt.Provider, device audio.Device, opts ...STTOption) *STTBackend {
	b := &STTBackend{
		provider:        provider,
		device:          device,
		networkBacked:   true,
		sampleRate:      defaultRecognitionRate,
		noSpeechTimeout: defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Supported reports whether both a provider and a device are configured.
func (b *STTBackend) Supported() bool { return b.provider != nil && b.device != nil }

// NetworkBacked reports whether the provider is remote.
func (b *STTBackend) NetworkBacked() bool { return b.networkBacked }

// NewRecognizer implements Backend.
func (b *STTBackend) NewRecognizer(cfg Config, sink func(Event)) (Recognizer, error) {
	if !b.Supported() {
		return nil, errors.New("recognition: stt backend is not configured")
	}
	return &sttRecognizer{
		b:      b,
		cfg:    cfg,
		sink:   sink,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// sttRecognizer runs one capture → transcription session on its own
// goroutine. Every event is emitted from that goroutine.
type sttRecognizer struct {
	b    *STTBackend
	cfg  Config
	sink func(Event)

	mu       sync.Mutex
	started  bool
	aborted  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (r *sttRecognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("recognition: recognizer already started")
	}
	r.started = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	return nil
}

func (r *sttRecognizer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *sttRecognizer) Abort() {
	r.mu.Lock()
	r.aborted = true
	cancel := r.cancel
	r.mu.Unlock()
	r.Stop()
	if cancel != nil {
		cancel()
	}
}

func (r *sttRecognizer) emit(ev Event) {
	r.mu.Lock()
	aborted := r.aborted
	r.mu.Unlock()
	if !aborted {
		r.sink(ev)
	}
}

func (r *sttRecognizer) fail(err error) {
	r.emit(Event{Type: EventError, Code: codeFor(err, r.b.networkBacked)})
	r.emit(Event{Type: EventEnd})
}

func (r *sttRecognizer) run(ctx context.Context) {
	defer close(r.done)

	capture, err := r.b.device.Open(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	defer func() {
		for _, t := range capture.Tracks() {
			t.Stop()
		}
	}()

	sess, err := r.b.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:     r.b.sampleRate,
		Channels:       1,
		Language:       r.cfg.Lang,
		InterimResults: r.cfg.InterimResults,
	})
	if err != nil {
		r.fail(err)
		return
	}
	closeSession := sync.OnceFunc(func() {
		if err := sess.Close(); err != nil {
			slog.Debug("recognition: close stt session", "err", err)
		}
	})
	defer closeSession()

	r.emit(Event{Type: EventStart})

	go pump(capture, sess, audio.Format{SampleRate: r.b.sampleRate, Channels: 1})

	var noSpeech <-chan time.Time
	if r.b.noSpeechTimeout > 0 {
		t := time.NewTimer(r.b.noSpeechTimeout)
		defer t.Stop()
		noSpeech = t.C
	}

	partials, finals := sess.Partials(), sess.Finals()
	stopCh := r.stopCh
	for {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			noSpeech = nil
			if r.cfg.InterimResults && tr.Text != "" {
				r.emit(Event{Type: EventResult, Text: tr.Text})
			}

		case tr, ok := <-finals:
			if !ok {
				// A session that ends before Stop was requested lost its
				// connection or engine.
				if err := sess.Err(); err != nil && stopCh != nil {
					r.fail(err)
					return
				}
				r.emit(Event{Type: EventEnd})
				return
			}
			noSpeech = nil
			if tr.Text == "" {
				continue
			}
			r.emit(Event{Type: EventResult, Text: tr.Text, IsFinal: true})
			if !r.cfg.Continuous {
				stopCh = nil
				closeSession()
			}

		case <-noSpeech:
			r.emit(Event{Type: EventError, Code: CodeNoSpeech})
			r.emit(Event{Type: EventEnd})
			return

		case <-stopCh:
			// Flush: the provider delivers pending finals and then closes
			// the channel.
			stopCh = nil
			noSpeech = nil
			for _, t := range capture.Tracks() {
				t.Stop()
			}
			closeSession()

		case <-ctx.Done():
			return
		}
	}
}

// pump forwards captured frames to the session until the capture ends. Once
// the session stops accepting audio the remaining frames are discarded so the
// device never blocks on a full channel.
func pump(capture audio.Capture, sess stt.SessionHandle, target audio.Format) {
	conv := &audio.FormatConverter{Target: target}
	frames := capture.Frames()
	for frame := range frames {
		out := conv.Convert(frame)
		if len(out.Data) == 0 {
			continue
		}
		if err := sess.SendAudio(out.Data); err != nil {
			audio.Drain(frames)
			return
		}
	}
}

// codeFor classifies a backend failure into a recognition error code.
func codeFor(err error, networkBacked bool) string {
	var netErr net.Error
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return CodeNotAllowed
	case errors.Is(err, audio.ErrNoDevice):
		return CodeAudioCapture
	case errors.Is(err, context.Canceled):
		return CodeAborted
	case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
		return CodeServiceNotAllowed
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return CodeNetwork
	case websocket.CloseStatus(err) != -1:
		return CodeNetwork
	}
	if networkBacked {
		return CodeNetwork
	}
	return "engine"
}
