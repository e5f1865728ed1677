// Package pipeline runs one spoken tutoring turn on the server: transcribe
// the recorded question, ask the language model, and synthesise the reply.
//
// # Turn contract
//
//  1. The recording is transcribed. An empty transcript ends the turn early:
//     no model or synthesis call is made and the chat context is returned
//     unchanged.
//  2. The model receives the tutor's system prompt, the chat context and the
//     transcript as the newest user message.
//  3. Whiteboard blocks are stripped from the reply and the remaining text is
//     synthesised.
//
// The returned context is always the input context plus exactly the turn's
// user and assistant messages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// ErrEmptyAudio is returned by Process when the request carries no audio.
var ErrEmptyAudio = errors.New("pipeline: audio must not be empty")

// ErrNoMessages is returned by Chat when the request has no messages.
var ErrNoMessages = errors.New("pipeline: messages must not be empty")

// Request is one spoken turn.
type Request struct {
	// Audio is the recorded question; Filename and ContentType describe its
	// container.
	Audio       []byte
	Filename    string
	ContentType string

	TutorRole   tutor.Role
	Context     []llm.Message
	Model       string
	Temperature float64

	// Voice, TTSModel, ResponseFormat and Speed configure synthesis. Empty
	// values select the provider defaults.
	Voice          string
	TTSModel       string
	ResponseFormat string
	Speed          float64
}

// Result is the outcome of a turn.
type Result struct {
	// Transcript is the recognised question; "" when no speech was found.
	Transcript string

	// ResponseText is the full assistant reply including whiteboard blocks.
	ResponseText string

	// Context is the updated chat context.
	Context []llm.Message

	// Audio is the synthesised reply in Format. Empty when the transcript or
	// the speakable reply was empty.
	Audio  []byte
	Format string

	Usage llm.Usage
}

// ChatRequest is a text-only completion for the plain chat endpoint.
type ChatRequest struct {
	Messages    []llm.Message
	Model       string
	Temperature float64
	TutorRole   tutor.Role
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage latencies and turn outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithDefaultFormat sets the response format used when a request names
// none. Defaults to mp3.
func WithDefaultFormat(format string) Option {
	return func(p *Pipeline) { p.defaultFormat = format }
}

// WithProviderNames sets the provider labels used in metrics.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(p *Pipeline) {
		p.sttName, p.llmName, p.ttsName = sttName, llmName, ttsName
	}
}

// Pipeline is safe for concurrent use; every call is independent.
type Pipeline struct {
	stt stt.Transcriber
	llm llm.Provider
	tts tts.Provider

	metrics       *observe.Metrics
	language      string
	defaultFormat string

	sttName, llmName, ttsName string
}

// New creates a Pipeline over the three providers.
func New(transcriber stt.Transcriber, model llm.Provider, speech tts.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:           transcriber,
		llm:           model,
		tts:           speech,
		defaultFormat: tts.FormatMP3,
		sttName:       "stt",
		llmName:       "llm",
		ttsName:       "tts",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs one turn.
func (p *Pipeline) Process(ctx context.Context, req Request) (res *Result, err error) {
	if len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.Process",
		trace.WithAttributes(attribute.String("tutor.role", string(req.TutorRole))))
	defer span.End()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveTurns.Add(ctx, 1)
		defer p.metrics.ActiveTurns.Add(ctx, -1)
	}
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Transcript == "":
			outcome = "empty"
		}
		if p.metrics != nil {
			p.metrics.RecordTurn(ctx, outcome)
			p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		observe.Logger(ctx).Info("pipeline: turn finished", "outcome", outcome, "elapsed", time.Since(start))
	}()

	// ── Stage 1: transcription ───────────────────────────────────────────────

	text, err := p.transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	history := cloneMessages(req.Context)
	if text == "" {
		return &Result{Context: history}, nil
	}

	// ── Stage 2: completion ──────────────────────────────────────────────────

	user := llm.Message{Role: llm.RoleUser, Content: text}
	resp, err := p.complete(ctx, "pipeline.complete", llm.CompletionRequest{
		Messages:     append(cloneMessages(history), user),
		Model:        req.Model,
		Temperature:  req.Temperature,
		SystemPrompt: req.TutorRole.SystemPrompt(),
	})
	if err != nil {
		return nil, err
	}

	res = &Result{
		Transcript:   text,
		ResponseText: resp.Content,
		Context:      append(history, user, llm.Message{Role: llm.RoleAssistant, Content: resp.Content}),
		Format:       req.ResponseFormat,
		Usage:        resp.Usage,
	}
	if res.Format == "" {
		res.Format = p.defaultFormat
	}

	// ── Stage 3: synthesis ───────────────────────────────────────────────────

	speakable := writing.Strip(resp.Content)
	if speakable == "" {
		return res, nil
	}
	sp, err := p.synthesize(ctx, tts.SpeechRequest{
		Text:   speakable,
		Voice:  req.Voice,
		Model:  req.TTSModel,
		Format: res.Format,
		Speed:  req.Speed,
	})
	if err != nil {
		return nil, err
	}
	res.Audio = sp.Audio
	if sp.Format != "" {
		res.Format = sp.Format
	}
	return res, nil
}

// Chat answers a text conversation.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	return p.complete(ctx, "pipeline.Chat", llm.CompletionRequest{
		Messages:     cloneMessages(req.Messages),
		Model:        req.Model,
		Temperature:  req.Temperature,
		SystemPrompt: req.TutorRole.SystemPrompt(),
	})
}

func (p *Pipeline) transcribe(ctx context.Context, req Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	t0 := time.Now()
	text, err := p.stt.Transcribe(ctx, stt.Audio{
		Data:        req.Audio,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	}, stt.TranscribeOptions{Language: p.language})
	p.observeStage(ctx, "stt", p.sttName, t0, err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("pipeline: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	span.SetAttributes(attribute.Int("transcript.chars", len(text)))
	return text, nil
}

func (p *Pipeline) complete(ctx context.Context, name string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := observe.StartSpan(ctx, name, trace.WithAttributes(attribute.Int("messages", len(req.Messages))))
	defer span.End()

	t0 := time.Now()
	resp, err := p.llm.Complete(ctx, req)
	p.observeStage(ctx, "llm", p.llmName, t0, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pipeline: complete: %w", err)
	}
	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	return resp, nil
}

func (p *Pipeline) synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize", trace.WithAttributes(attribute.String("format", req.Format)))
	defer span.End()

	t0 := time.Now()
	sp, err := p.tts.Synthesize(ctx, req)
	p.observeStage(ctx, "tts", p.ttsName, t0, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	return sp, nil
}

// observeStage records the latency and outcome of one provider call.
func (p *Pipeline) observeStage(ctx context.Context, kind, provider string, t0 time.Time, err error) {
	if p.metrics == nil {
		return
	}
	h := p.metrics.TTSDuration
	switch kind {
	case "stt":
		h = p.metrics.STTDuration
	case "llm":
		h = p.metrics.LLMDuration
	}
	h.Record(ctx, time.Since(t0).Seconds(), metric.WithAttributes(attribute.String("provider", provider)))

	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, provider, kind)
	}
	p.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

func cloneMessages(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs), len(msgs)+2)
	copy(out, msgs)
	return out
}
