// Package app wires configured providers into the voxtutor server and the
// local tutoring client. The cmd/voxtutor subcommands are thin shells over
// [NewServer] and [NewClient].
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/resilience"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Every non-nil slot is a fallback group, so
// calls go through a circuit breaker even without configured fallbacks.
type Providers struct {
	LLM         llm.Provider
	STT         stt.Transcriber
	TTS         tts.Provider
	Recognition stt.Provider

	// Names are the primary provider names per kind, used as metric labels.
	Names map[string]string

	// Breakers holds the breaker of every created provider keyed by
	// "kind/name".
	Breakers map[string]*resilience.CircuitBreaker
}

// BreakerNames returns the keys of Breakers in sorted order.
func (ps *Providers) BreakerNames() []string {
	return slices.Sorted(maps.Keys(ps.Breakers))
}

type created[T any] struct {
	name  string
	value T
}

// BuildProviders instantiates every provider named in cfg through reg and
// wraps each kind, with its fallbacks, in a resilience group. Entries whose
// name is not registered are skipped with a warning; any other factory error
// is returned.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{
		Names:    make(map[string]string),
		Breakers: make(map[string]*resilience.CircuitBreaker),
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: cfg.Fallbacks.CircuitBreaker,
		OnFailover: func(name string, err error) {
			slog.Warn("provider failed; trying next", "name", name, "err", err)
		},
	}

	llms, err := createAll("llm", cfg.Providers.LLM, cfg.Fallbacks.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(llms) > 0 {
		fb := resilience.NewLLMFallback(llms[0].value, llms[0].name, fbCfg)
		for _, c := range llms[1:] {
			fb.AddFallback(c.name, c.value)
		}
		ps.LLM = fb
		ps.collect("llm", fb.Group().Names(), fb.Group().Breaker)
	}

	stts, err := createAll("stt", cfg.Providers.STT, cfg.Fallbacks.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(stts) > 0 {
		fb := resilience.NewTranscriberFallback(stts[0].value, stts[0].name, fbCfg)
		for _, c := range stts[1:] {
			fb.AddFallback(c.name, c.value)
		}
		ps.STT = fb
		ps.collect("stt", fb.Group().Names(), fb.Group().Breaker)
	}

	ttss, err := createAll("tts", cfg.Providers.TTS, cfg.Fallbacks.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if len(ttss) > 0 {
		fb := resilience.NewTTSFallback(ttss[0].value, ttss[0].name, fbCfg)
		for _, c := range ttss[1:] {
			fb.AddFallback(c.name, c.value)
		}
		ps.TTS = fb
		ps.collect("tts", fb.Group().Names(), fb.Group().Breaker)
	}

	recs, err := createAll("recognition", cfg.Providers.Recognition, nil, reg.CreateRecognition)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		fb := resilience.NewStreamFallback(recs[0].value, recs[0].name, fbCfg)
		ps.Recognition = fb
		ps.collect("recognition", fb.Group().Names(), fb.Group().Breaker)
	}

	return ps, nil
}

func (ps *Providers) collect(kind string, names []string, breaker func(string) *resilience.CircuitBreaker) {
	ps.Names[kind] = names[0]
	for _, n := range names {
		ps.Breakers[kind+"/"+n] = breaker(n)
	}
}

// createAll creates primary followed by fallbacks, skipping unnamed and
// unregistered entries.
func createAll[T any](kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]created[T], error) {
	var out []created[T]
	for _, entry := range append([]config.ProviderEntry{primary}, fallbacks...) {
		if entry.Name == "" {
			continue
		}
		p, err := create(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered; skipping", "kind", kind, "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
		}
		slog.Info("provider created", "kind", kind, "name", entry.Name)
		out = append(out, created[T]{name: entry.Name, value: p})
	}
	return out, nil
}
