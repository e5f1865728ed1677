package synthesis

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/voice"
)

// SpeakOptions are per-call overrides and callbacks. Zero values defer to the
// global options.
type SpeakOptions struct {
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
	Lang   string

	OnStart func()
	OnEnd   func()
	OnError func(*voice.Error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithGlobalOptions shares g with other components. By default the engine
// owns a fresh GlobalVoiceOptions.
func WithGlobalOptions(g *GlobalVoiceOptions) Option {
	return func(e *Engine) { e.globals = g }
}

// WithMetrics records synthesis errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine speaks one utterance at a time over a Backend.
type Engine struct {
	backend Backend
	globals *GlobalVoiceOptions
	metrics *observe.Metrics

	mu      sync.Mutex
	gen     uint64
	current *SpeakOptions
}

// New creates an Engine over backend.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{backend: backend}
	for _, o := range opts {
		o(e)
	}
	if e.globals == nil {
		e.globals = NewGlobalVoiceOptions()
	}
	return e
}

// GlobalOptions returns the engine's shared voice options.
func (e *Engine) GlobalOptions() *GlobalVoiceOptions { return e.globals }

// Supported reports whether the backend can speak.
func (e *Engine) Supported() bool {
	return e.backend != nil && e.backend.Supported()
}

// Resolve merges per-call overrides over the global options.
func (e *Engine) Resolve(opts SpeakOptions) VoiceParams {
	p := e.globals.Get().withDefaults()
	if opts.Rate > 0 {
		p.Rate = opts.Rate
	}
	if opts.Pitch > 0 {
		p.Pitch = opts.Pitch
	}
	if opts.Volume > 0 {
		p.Volume = opts.Volume
	}
	if opts.Lang != "" {
		p.Lang = opts.Lang
	}
	if opts.Voice != "" {
		p.Voice = opts.Voice
	}
	return p
}

// Speak stops the current utterance and starts speaking text. It returns
// false when the backend is unsupported or text is blank.
func (e *Engine) Speak(text string, opts SpeakOptions) bool {
	if !e.Supported() || strings.TrimSpace(text) == "" {
		return false
	}
	e.Stop()

	p := e.Resolve(opts)
	u := Utterance{Text: text, Rate: p.Rate, Pitch: p.Pitch, Volume: p.Volume, Lang: p.Lang}
	if v, ok := SelectVoice(e.backend.Voices(), p.Voice, p.Lang); ok {
		u.Voice = v
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.current = &opts
	e.mu.Unlock()

	slog.Debug("synthesis: speak", "chars", len(text), "voice", u.Voice.Name, "lang", u.Lang, "rate", u.Rate)
	e.backend.Speak(u, func(ev Event) { e.handle(gen, ev) })
	return true
}

func (e *Engine) handle(gen uint64, ev Event) {
	e.mu.Lock()
	if gen != e.gen || e.current == nil {
		e.mu.Unlock()
		return
	}
	opts := *e.current
	if ev.Type != EventStart {
		e.current = nil
	}
	e.mu.Unlock()

	switch ev.Type {
	case EventStart:
		if opts.OnStart != nil {
			opts.OnStart()
		}
	case EventEnd:
		if opts.OnEnd != nil {
			opts.OnEnd()
		}
	case EventError:
		verr := voice.Normalize(ev.Err)
		if verr.Type == voice.TypeUnknown {
			verr = voice.Final(voice.TypeSynthesis, voice.MsgSynthesis)
		}
		slog.Warn("synthesis: utterance failed", "type", verr.Type, "err", ev.Err)
		if e.metrics != nil {
			e.metrics.RecordVoiceError(context.Background(), string(verr.Type), verr.IsFinal)
		}
		if opts.OnError != nil {
			opts.OnError(verr)
		}
	}
}

// Stop cancels the current utterance. Its callbacks never fire afterwards.
func (e *Engine) Stop() {
	if !e.Supported() {
		return
	}
	e.mu.Lock()
	e.gen++
	e.current = nil
	e.mu.Unlock()
	e.backend.Cancel()
}

// Pause suspends playback.
func (e *Engine) Pause() {
	if e.Supported() {
		e.backend.Pause()
	}
}

// Resume continues paused playback.
func (e *Engine) Resume() {
	if e.Supported() {
		e.backend.Resume()
	}
}

// IsSpeaking reports the backend's live speaking state.
func (e *Engine) IsSpeaking() bool {
	return e.Supported() && e.backend.Speaking()
}

// IsPaused reports the backend's live paused state.
func (e *Engine) IsPaused() bool {
	return e.Supported() && e.backend.Paused()
}
