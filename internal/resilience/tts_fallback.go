package resilience

import (
	"context"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across several speech
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// Group exposes the underlying group, e.g. for health checks.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Synthesize renders req with the first healthy backend. Voice and model
// names are backend specific, so fallbacks receive the request with both
// cleared.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error) {
	return executeEach(ctx, f.group, func(ctx context.Context, i int, p tts.Provider) (*tts.Speech, error) {
		r := req
		if i > 0 {
			r.Voice, r.Model = "", ""
		}
		return p.Synthesize(ctx, r)
	})
}

// ListVoices lists the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
