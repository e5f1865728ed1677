package resilience

import (
	"context"

	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete asks the first healthy backend. A request that names a model is
// only meaningful to the primary, so fallbacks receive it with the model
// cleared and use their own default.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return executeEach(ctx, f.group, func(ctx context.Context, i int, p llm.Provider) (*llm.CompletionResponse, error) {
		r := req
		if i > 0 {
			r.Model = ""
		}
		return p.Complete(ctx, r)
	})
}

// Model returns the primary's default model.
func (f *LLMFallback) Model() string { return f.group.Primary().Model() }
