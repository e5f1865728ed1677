// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Speech:           &tts.Speech{Audio: wav, Format: tts.FormatWAV},
//	    ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Alice", Lang: "en-US"}},
//	}
//	speech, _ := p.Synthesize(ctx, tts.SpeechRequest{Text: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Speech is returned by Synthesize. When nil, Synthesize returns a speech
	// whose Audio is the request text and whose Format is the requested one.
	Speech *tts.Speech

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if set, replaces the fixed result.
	SynthesizeFunc func(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every request passed to Synthesize in order.
	SynthesizeCalls []tts.SpeechRequest

	// ListVoicesCalls is the number of ListVoices calls.
	ListVoicesCalls int
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	fn, sp, err := p.SynthesizeFunc, p.Speech, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return &tts.Speech{Audio: []byte(req.Text), Format: req.Format}, nil
	}
	cp := *sp
	return &cp, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize requests. Thread-safe.
func (p *Provider) Calls() []tts.SpeechRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.SpeechRequest(nil), p.SynthesizeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
