// Package openai provides an stt.Transcriber backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe and compatible
// servers exposing /v1/audio/transcriptions).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.AudioModelWhisper1

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Transcriber. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	cfg := &config{}
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

	m := oai.AudioModel(model)
	if model == "" {
		m = DefaultModel
	}
	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    m,
		language: cfg.language,
	}, nil
}

// Model returns the configured transcription model.
func (t *Transcriber) Model() string { return string(t.model) }

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, a stt.Audio, opts stt.TranscribeOptions) (string, error) {
	if len(a.Data) == 0 {
		return "", nil
	}
	params := t.buildParams(a, opts)
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (t *Transcriber) buildParams(a stt.Audio, opts stt.TranscribeOptions) oai.AudioTranscriptionNewParams {
	name, ct := uploadName(a)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(a.Data), name, ct),
		Model: t.model,
	}
	lang := opts.Language
	if lang == "" {
		lang = t.language
	}
	if lang != "" {
		// The API wants ISO-639-1, not a BCP-47 tag.
		if i := strings.IndexByte(lang, '-'); i > 0 {
			lang = lang[:i]
		}
		params.Language = oai.String(strings.ToLower(lang))
	}
	if opts.Prompt != "" {
		params.Prompt = oai.String(opts.Prompt)
	}
	return params
}

// uploadName picks a file name whose extension the API uses to detect the
// container format.
func uploadName(a stt.Audio) (string, string) {
	ct := a.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	name := a.Filename
	if path.Ext(name) == "" {
		ext := "wav"
		switch ct {
		case "audio/webm":
			ext = "webm"
		case "audio/ogg", "audio/opus":
			ext = "ogg"
		case "audio/mpeg":
			ext = "mp3"
		case "audio/flac":
			ext = "flac"
		}
		if name == "" {
			name = "audio"
		}
		name += "." + ext
	}
	return name, ct
}
