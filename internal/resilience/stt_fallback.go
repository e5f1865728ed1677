package resilience

import (
	"context"

	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

// TranscriberFallback is an [stt.Transcriber] that fails over across several
// batch transcription backends.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] preferring primary.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// Group exposes the underlying group, e.g. for health checks.
func (f *TranscriberFallback) Group() *FallbackGroup[stt.Transcriber] { return f.group }

// AddFallback registers another backend.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe transcribes audio with the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio stt.Audio, opts stt.TranscribeOptions) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audio, opts)
	})
}

// StreamFallback is an [stt.Provider] that fails over when opening a
// streaming session. A session that fails after it started is reported to
// the caller as is.
type StreamFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*StreamFallback)(nil)

// NewStreamFallback creates a [StreamFallback] preferring primary.
func NewStreamFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *StreamFallback {
	return &StreamFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// Group exposes the underlying group, e.g. for health checks.
func (f *StreamFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// AddFallback registers another backend.
func (f *StreamFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// StartStream opens a session on the first healthy backend.
func (f *StreamFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
