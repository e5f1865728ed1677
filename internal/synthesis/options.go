package synthesis

import "sync"

// VoiceParams are the voice settings applied to an utterance.
type VoiceParams struct {
	// Rate is the speaking-rate multiplier.
	Rate float64 `yaml:"rate" json:"rate"`

	// Pitch is the pitch multiplier.
	Pitch float64 `yaml:"pitch" json:"pitch"`

	// Volume is the playback gain in [0, 1].
	Volume float64 `yaml:"volume" json:"volume"`

	// Lang is the BCP-47 language used for voice selection.
	Lang string `yaml:"lang" json:"lang"`

	// Voice is an optional preferred voice name.
	Voice string `yaml:"voice,omitempty" json:"voice,omitempty"`
}

// DefaultVoiceParams returns rate, pitch and volume 1 in American English.
func DefaultVoiceParams() VoiceParams {
	return VoiceParams{Rate: 1, Pitch: 1, Volume: 1, Lang: "en-US"}
}

// withDefaults fills unset fields from DefaultVoiceParams. Rate and pitch
// must be positive; a volume of 0 mutes and only a negative one is replaced.
func (p VoiceParams) withDefaults() VoiceParams {
	d := DefaultVoiceParams()
	if p.Rate <= 0 {
		p.Rate = d.Rate
	}
	if p.Pitch <= 0 {
		p.Pitch = d.Pitch
	}
	if p.Volume < 0 {
		p.Volume = d.Volume
	}
	if p.Lang == "" {
		p.Lang = d.Lang
	}
	return p
}

// GlobalVoiceOptions holds the process-wide voice settings. Writes take
// effect on the next Speak; an utterance already playing keeps the values it
// started with.
type GlobalVoiceOptions struct {
	mu sync.RWMutex
	p  VoiceParams
}

// NewGlobalVoiceOptions returns options initialised to DefaultVoiceParams.
func NewGlobalVoiceOptions() *GlobalVoiceOptions {
	return &GlobalVoiceOptions{p: DefaultVoiceParams()}
}

// Get returns a copy of the current settings.
func (g *GlobalVoiceOptions) Get() VoiceParams {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.p
}

// Set replaces the settings. A zero or negative rate or pitch, a negative
// volume and an empty language fall back to the defaults; volume 0 mutes.
func (g *GlobalVoiceOptions) Set(p VoiceParams) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p = p.withDefaults()
}

// Update applies fn to the settings atomically.
func (g *GlobalVoiceOptions) Update(fn func(*VoiceParams)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.p
	fn(&p)
	g.p = p.withDefaults()
}
