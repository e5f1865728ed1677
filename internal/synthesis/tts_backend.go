package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

const (
	defaultSynthesisTimeout = 30 * time.Second

	// pcmSampleRate is assumed for raw PCM that does not report its rate.
	pcmSampleRate = 24000
)

var _ Backend = (*TTSBackend)(nil)

// TTSBackend synthesises with a tts.Provider and plays on an audio.Player.
// Rate maps to the provider speed, volume to the clip gain, and pitch is
// forwarded for providers that honour it.
type TTSBackend struct {
	provider tts.Provider
	player   audio.Player
	model    string
	format   string
	timeout  time.Duration

	mu     sync.Mutex
	voices []tts.Voice
	seq    uint64
	active uint64 // seq of the utterance in flight, 0 when idle
	cancel context.CancelFunc
}

// TTSOption configures a TTSBackend.
type TTSOption func(*TTSBackend)

// WithModel sets the provider model.
func WithModel(model string) TTSOption {
	return func(b *TTSBackend) { b.model = model }
}

// WithFormat sets the requested response format. It must be decodable for
// playback (wav or pcm). Defaults to pcm.
func WithFormat(format string) TTSOption {
	return func(b *TTSBackend) { b.format = format }
}

// WithVoices preloads the voice catalogue instead of calling LoadVoices.
func WithVoices(voices []tts.Voice) TTSOption {
	return func(b *TTSBackend) { b.voices = voices }
}

// WithSynthesisTimeout bounds each provider call. Defaults to 30s.
func WithSynthesisTimeout(d time.Duration) TTSOption {
	return func(b *TTSBackend) { b.timeout = d }
}

// NewTTSBackend creates a backend.
func NewTTSBackend(provider tts.Provider, player audio.Player, opts ...TTSOption) *TTSBackend {
	b := &TTSBackend{
		provider: provider,
		player:   player,
		format:   tts.FormatPCM,
		timeout:  defaultSynthesisTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// LoadVoices refreshes the voice catalogue from the provider.
func (b *TTSBackend) LoadVoices(ctx context.Context) error {
	voices, err := b.provider.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("synthesis: list voices: %w", err)
	}
	b.mu.Lock()
	b.voices = voices
	b.mu.Unlock()
	return nil
}

// Supported implements Backend.
func (b *TTSBackend) Supported() bool { return b.provider != nil && b.player != nil }

// Voices implements Backend.
func (b *TTSBackend) Voices() []tts.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tts.Voice(nil), b.voices...)
}

// Speak implements Backend.
func (b *TTSBackend) Speak(u Utterance, sink func(Event)) {
	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.active = id
	b.cancel = cancel
	b.mu.Unlock()

	go func() {
		defer b.finish(id, cancel)
		if err := b.play(ctx, u, sink); err != nil {
			if ctx.Err() != nil || errors.Is(err, audio.ErrStopped) {
				return
			}
			sink(Event{Type: EventError, Err: err})
			return
		}
		if ctx.Err() == nil {
			sink(Event{Type: EventEnd})
		}
	}()
}

func (b *TTSBackend) play(ctx context.Context, u Utterance, sink func(Event)) error {
	sctx, cancel := context.WithTimeout(ctx, b.timeout)
	sp, err := b.provider.Synthesize(sctx, tts.SpeechRequest{
		Text:   u.Text,
		Voice:  u.Voice.ID,
		Model:  b.model,
		Format: b.format,
		Speed:  u.Rate,
		Pitch:  u.Pitch,
		Lang:   u.Lang,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("synthesis: synthesize: %w", err)
	}

	rate := sp.SampleRate
	if rate == 0 {
		rate = pcmSampleRate
	}
	clip, err := audio.DecodeClip(sp.Audio, tts.ContentType(sp.Format), audio.Format{SampleRate: rate, Channels: 1})
	if err != nil {
		return fmt.Errorf("synthesis: decode %s: %w", sp.Format, err)
	}
	clip.Gain = u.Volume

	if ctx.Err() != nil {
		return ctx.Err()
	}
	sink(Event{Type: EventStart})
	if err := b.player.Play(ctx, clip); err != nil {
		if errors.Is(err, audio.ErrStopped) || ctx.Err() != nil {
			return err
		}
		slog.Warn("synthesis: playback failed", "err", err)
		return fmt.Errorf("synthesis: play: %w", voice.Final(voice.TypePlayback, voice.MsgPlayback))
	}
	return nil
}

func (b *TTSBackend) finish(id uint64, cancel context.CancelFunc) {
	cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == id {
		b.active = 0
		b.cancel = nil
	}
}

// Cancel implements Backend.
func (b *TTSBackend) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	playing := b.active != 0
	b.active = 0
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if playing {
		b.player.Stop()
	}
}

// Pause implements Backend.
func (b *TTSBackend) Pause() { b.player.Pause() }

// Resume implements Backend.
func (b *TTSBackend) Resume() { b.player.Resume() }

// Speaking reports whether an utterance is being synthesised or played.
func (b *TTSBackend) Speaking() bool {
	b.mu.Lock()
	active := b.active != 0
	b.mu.Unlock()
	return active || b.player.Playing()
}

// Paused implements Backend.
func (b *TTSBackend) Paused() bool { return b.player.Paused() }
