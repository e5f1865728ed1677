// Package whisper provides whisper.cpp-backed STT providers.
//
// Provider talks to a running whisper-server binary (REST API at
// POST /inference). NativeProvider links whisper.cpp through its Go bindings
// and runs inference in-process. Both implement stt.Transcriber for complete
// recorded turns and stt.Provider for voice-input mode, where streaming is
// simulated by buffering PCM, closing each utterance with an energy-based
// silence detector and transcribing it as a batch.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, stt.Audio{Data: wav, Filename: "turn.wav"}, stt.TranscribeOptions{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

var (
	_ stt.Provider    = (*Provider)(nil)
	_ stt.Transcriber = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the default sample rate of streamed PCM. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets the consecutive-silence duration that closes an
// utterance in streaming mode. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.seg.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs sets the maximum utterance length before a flush is
// forced regardless of silence. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.seg.maxBufferDurationMs = ms
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider and stt.Transcriber backed by a whisper.cpp
// HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	seg        segmentConfig
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		seg: segmentConfig{
			silenceThresholdMs:  defaultSilenceThresholdMs,
			maxBufferDurationMs: defaultMaxBufferDurationMs,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a segmented transcription session. No connection is made
// until the first utterance is committed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	f, lang := streamFormat(cfg, p.sampleRate, p.language)
	return startSegmentedSession(ctx, p.seg, f, lang, func(ctx context.Context, pcm []byte, f audio.Format, lang string) (string, error) {
		return p.inference(ctx, audio.EncodeWAV(pcm, f), "audio.wav", lang, "")
	}), nil
}

// Transcribe implements stt.Transcriber. The clip is uploaded as is; the
// server must be able to decode its container (WAV always works).
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, opts stt.TranscribeOptions) (string, error) {
	if len(a.Data) == 0 {
		return "", nil
	}
	name := a.Filename
	if name == "" {
		name = "audio.wav"
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.inference(ctx, a.Data, name, lang, opts.Prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// inference POSTs an audio file to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) inference(ctx context.Context, file []byte, filename, language, prompt string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(file); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := map[string]string{
		"language":        language,
		"model":           p.model,
		"prompt":          prompt,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// streamFormat applies provider defaults to a stream config.
func streamFormat(cfg stt.StreamConfig, defaultRate int, defaultLang string) (audio.Format, string) {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = defaultLang
	}
	// whisper.cpp expects ISO-639-1 codes ("en"), not BCP-47 tags ("en-US").
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return f, strings.ToLower(lang)
}
