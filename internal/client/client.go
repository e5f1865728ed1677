// Package client talks to the tutoring server's HTTP API on behalf of the
// local voice loop.
//
// Both clients share a [resilience.CircuitBreaker]: after repeated transport
// failures or server errors further turns fail fast until the breaker's reset
// timeout has passed. Client errors (4xx) do not count against the breaker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/resilience"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

const (
	defaultTimeout  = 60 * time.Second
	maxErrorBody    = 4 << 10
	defaultFilename = "recording.wav"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: %s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("client: %s: server returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// countsAsFailure keeps client mistakes and cancellations from tripping the
// breaker.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// Option configures the clients.
type Option func(*base)

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.http = c }
}

// WithBreaker sets the circuit breaker guarding every call. Passing the same
// breaker to several clients makes them fail together.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(b *base) { b.breaker = cb }
}

type base struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

func newBase(baseURL string, opts []Option) (base, error) {
	if baseURL == "" {
		return base{}, errors.New("client: server URL must not be empty")
	}
	b := base{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(&b)
	}
	if b.breaker == nil {
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "tutor-server",
			IsFailure: countsAsFailure,
		})
	}
	return b, nil
}

// NewBreaker returns a breaker configured to ignore client errors, for
// sharing between clients through [WithBreaker].
func NewBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "tutor-server"
	}
	cfg.IsFailure = countsAsFailure
	return resilience.NewCircuitBreaker(cfg)
}

func (b *base) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	observe.Inject(ctx, req.Header)
	var resp *http.Response
	err := b.breaker.Do(ctx, func(context.Context) error {
		r, err := b.http.Do(req)
		if err != nil {
			return fmt.Errorf("client: %s: %w", op, err)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			defer r.Body.Close()
			return &StatusError{Op: op, StatusCode: r.StatusCode, Message: errorMessage(r.Body)}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var e api.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

// TurnRequest is one recorded question.
type TurnRequest struct {
	// Audio is the recording as a WAV file.
	Audio    []byte
	Filename string

	TutorRole tutor.Role
	Context   []llm.Message

	Voice          string
	Model          string
	Temperature    *float64
	TTSModel       string
	ResponseFormat string
	Speed          float64
}

// TurnResponse is the server's answer to a turn.
type TurnResponse struct {
	TurnID       string
	Transcript   string
	ResponseText string

	// Context is the updated chat context. It equals the request context
	// when Transcript is empty.
	Context []llm.Message

	// Audio is the synthesised reply; empty when nothing was spoken.
	Audio  []byte
	Format string
}

// PipelineClient submits recorded turns to the voice pipeline endpoint.
type PipelineClient struct {
	base
}

// NewPipelineClient creates a client for the server at baseURL.
func NewPipelineClient(baseURL string, opts ...Option) (*PipelineClient, error) {
	b, err := newBase(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &PipelineClient{base: b}, nil
}

// Submit uploads a turn and returns the decoded reply.
func (c *PipelineClient) Submit(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("client: submit turn: audio must not be empty")
	}
	body, contentType, err := encodeTurn(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+api.PathPipeline, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create pipeline request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.do(ctx, "submit turn", httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeTurn(resp, req)
}

func encodeTurn(req TurnRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = defaultFilename
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, api.FieldAudio, filename))
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("client: encode turn: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("client: encode turn: %w", err)
	}

	ctxJSON, err := json.Marshal(nonNil(req.Context))
	if err != nil {
		return nil, "", fmt.Errorf("client: encode chat context: %w", err)
	}
	fields := []formField{
		{api.FieldTutorRole, string(req.TutorRole)},
		{api.FieldChatContext, string(ctxJSON)},
		{api.FieldVoice, req.Voice},
		{api.FieldModel, req.Model},
		{api.FieldTTSModel, req.TTSModel},
		{api.FieldResponseFormat, req.ResponseFormat},
	}
	if req.Temperature != nil {
		fields = append(fields, formField{api.FieldTemperature, strconv.FormatFloat(*req.Temperature, 'f', -1, 64)})
	}
	if req.Speed > 0 {
		fields = append(fields, formField{api.FieldSpeed, strconv.FormatFloat(req.Speed, 'f', -1, 64)})
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("client: encode turn: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("client: encode turn: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

type formField struct{ name, value string }

func decodeTurn(resp *http.Response, req TurnRequest) (*TurnResponse, error) {
	out := &TurnResponse{
		TurnID: resp.Header.Get(api.HeaderTurnID),
		Format: tts.FormatOf(resp.Header.Get("Content-Type")),
	}
	if out.Format == "" {
		out.Format = req.ResponseFormat
	}
	var err error
	if out.Transcript, err = api.DecodeHeader(resp.Header.Get(api.HeaderTranscription)); err != nil {
		return nil, fmt.Errorf("client: transcription header: %w", err)
	}
	if out.ResponseText, err = api.DecodeHeader(resp.Header.Get(api.HeaderResponseText)); err != nil {
		return nil, fmt.Errorf("client: response text header: %w", err)
	}

	raw := resp.Header.Get(api.HeaderChatContext)
	if raw == "" {
		out.Context = append([]llm.Message(nil), req.Context...)
	} else {
		plain, err := api.DecodeHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("client: chat context header: %w", err)
		}
		if out.Context, err = session.DecodeMessages([]byte(plain)); err != nil {
			return nil, fmt.Errorf("client: chat context header: %w", err)
		}
	}

	if out.Audio, err = io.ReadAll(resp.Body); err != nil {
		return nil, fmt.Errorf("client: read reply audio: %w", err)
	}
	return out, nil
}

func nonNil(msgs []llm.Message) []llm.Message {
	if msgs == nil {
		return []llm.Message{}
	}
	return msgs
}

// ─── Chat ────────────────────────────────────────────────────────────────────

// ChatClient calls the plain chat endpoint.
type ChatClient struct {
	base
}

// NewChatClient creates a client for the server at baseURL.
func NewChatClient(baseURL string, opts ...Option) (*ChatClient, error) {
	b, err := newBase(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &ChatClient{base: b}, nil
}

// Complete sends req and returns the assistant's reply.
func (c *ChatClient) Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("client: chat: messages must not be empty")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+api.PathChat, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("client: create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, "chat", httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode chat response: %w", err)
	}
	return &out, nil
}
