// Package openai provides a tts.Provider backed by the OpenAI speech endpoint
// (tts-1, tts-1-hd, gpt-4o-mini-tts and compatible servers exposing
// /v1/audio/speech).
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel  = oai.SpeechModelTTS1
	defaultVoice  = "alloy"
	defaultFormat = tts.FormatMP3

	// pcmSampleRate is the fixed rate of the endpoint's raw pcm output.
	pcmSampleRate = 24000

	minSpeed = 0.25
	maxSpeed = 4.0
)

// voices is the built-in catalogue; the API has no listing endpoint. All
// voices are multilingual.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

type config struct {
	baseURL string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. An empty model selects tts-1.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if model == "" {
		model = string(defaultModel)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, voice: cfg.voice}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	params := p.buildParams(req)

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}

	sp := &tts.Speech{Audio: data, Format: string(params.ResponseFormat)}
	if sp.Format == tts.FormatPCM {
		sp.SampleRate = pcmSampleRate
	}
	return sp, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.Voice{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

func (p *Provider) buildParams(req tts.SpeechRequest) oai.AudioSpeechNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	format := req.Format
	if format == "" {
		format = defaultFormat
	}

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if req.Speed > 0 && req.Speed != 1 {
		params.Speed = oai.Float(min(max(req.Speed, minSpeed), maxSpeed))
	}
	if req.Instructions != "" {
		params.Instructions = oai.String(req.Instructions)
	}
	return params
}
