package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
//
// Batch transcription (STT) and streaming recognition are separate kinds:
// the server transcribes whole uploads while voice mode streams.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]Factory[llm.Provider]
	stt         map[string]Factory[stt.Transcriber]
	recognition map[string]Factory[stt.Provider]
	tts         map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         make(map[string]Factory[llm.Provider]),
		stt:         make(map[string]Factory[stt.Transcriber]),
		recognition: make(map[string]Factory[stt.Provider]),
		tts:         make(map[string]Factory[tts.Provider]),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a batch transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterRecognition registers a streaming STT factory under name.
func (r *Registry) RegisterRecognition(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates a batch transcriber.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateRecognition instantiates a streaming STT provider.
func (r *Registry) CreateRecognition(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.recognition, "recognition", entry)
}

// CreateTTS instantiates a TTS provider.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

func create[T any](r *Registry, factories map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
