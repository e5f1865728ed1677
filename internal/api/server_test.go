package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/pipeline"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxtutor/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxtutor/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxtutor/pkg/provider/tts/mock"
)

// fakePipeline records requests and returns fixed results.
type fakePipeline struct {
	mu       sync.Mutex
	result   *pipeline.Result
	err      error
	chat     *llm.CompletionResponse
	chatErr  error
	requests []pipeline.Request
	chats    []pipeline.ChatRequest
}

func (f *fakePipeline) Process(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakePipeline) Chat(_ context.Context, req pipeline.ChatRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, req)
	return f.chat, f.chatErr
}

func newTestServer(t *testing.T, p api.Pipeline, opts ...api.ServerOption) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.NewServer(p, opts...).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if audio != nil {
		fw, err := mw.CreateFormFile(api.FieldAudio, "turn.wav")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(audio)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postPipeline(t *testing.T, srv *httptest.Server, audio []byte, fields map[string]string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, audio, fields)
	resp, err := http.Post(srv.URL+api.PathPipeline, ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodedHeader(t *testing.T, resp *http.Response, name string) string {
	t.Helper()
	v, err := api.DecodeHeader(resp.Header.Get(name))
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return v
}

func TestPipeline_Success(t *testing.T) {
	t.Parallel()
	newCtx := []llm.Message{
		{Role: llm.RoleUser, Content: "What is 2+2?"},
		{Role: llm.RoleAssistant, Content: "Four. [writing]2+2=4[/writing]"},
	}
	fp := &fakePipeline{result: &pipeline.Result{
		Transcript:   "What is 2+2?",
		ResponseText: "Four. [writing]2+2=4[/writing]",
		Context:      newCtx,
		Audio:        []byte("OggS-audio"),
		Format:       "opus",
	}}
	srv := newTestServer(t, fp)

	resp := postPipeline(t, srv, []byte("RIFFdata"), map[string]string{
		api.FieldTutorRole:      "Math",
		api.FieldChatContext:    `[]`,
		api.FieldVoice:          "nova",
		api.FieldModel:          "gpt-4o-mini",
		api.FieldTemperature:    "0.4",
		api.FieldTTSModel:       "tts-1",
		api.FieldResponseFormat: "opus",
		api.FieldSpeed:          "1.25",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/opus" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := decodedHeader(t, resp, api.HeaderTranscription); got != "What is 2+2?" {
		t.Errorf("transcription = %q", got)
	}
	if got := decodedHeader(t, resp, api.HeaderResponseText); got != "Four. [writing]2+2=4[/writing]" {
		t.Errorf("response text = %q", got)
	}
	var gotCtx []llm.Message
	if err := json.Unmarshal([]byte(decodedHeader(t, resp, api.HeaderChatContext)), &gotCtx); err != nil {
		t.Fatalf("context header: %v", err)
	}
	if !reflect.DeepEqual(gotCtx, newCtx) {
		t.Errorf("context = %+v, want %+v", gotCtx, newCtx)
	}
	if resp.Header.Get(api.HeaderTurnID) == "" {
		t.Error("missing turn id")
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Expose-Headers"), api.HeaderChatContext) {
		t.Error("context header not exposed")
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if body.String() != "OggS-audio" {
		t.Errorf("body = %q", body.String())
	}

	req := fp.requests[0]
	if req.TutorRole != tutor.Math || req.Voice != "nova" || req.Model != "gpt-4o-mini" ||
		req.Temperature != 0.4 || req.TTSModel != "tts-1" || req.ResponseFormat != "opus" ||
		req.Speed != 1.25 || string(req.Audio) != "RIFFdata" || req.Filename != "turn.wav" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Context) != 0 {
		t.Errorf("request context = %+v", req.Context)
	}
}

func TestPipeline_Defaults(t *testing.T) {
	t.Parallel()
	fp := &fakePipeline{result: &pipeline.Result{Format: "mp3"}}
	srv := newTestServer(t, fp, api.WithDefaults(api.Defaults{
		TutorRole:      tutor.Science,
		Model:          "default-model",
		Temperature:    0.7,
		Voice:          "alloy",
		ResponseFormat: "mp3",
		Speed:          1,
	}))

	resp := postPipeline(t, srv, []byte("x"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	req := fp.requests[0]
	if req.TutorRole != tutor.Science || req.Model != "default-model" || req.Temperature != 0.7 ||
		req.Voice != "alloy" || req.ResponseFormat != "mp3" || req.Speed != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestPipeline_EmptyTranscript(t *testing.T) {
	t.Parallel()
	history := []llm.Message{{Role: llm.RoleUser, Content: "Hi"}, {Role: llm.RoleAssistant, Content: "Hello"}}
	fp := &fakePipeline{result: &pipeline.Result{Context: history, Format: "mp3"}}
	srv := newTestServer(t, fp)

	ctxJSON, _ := json.Marshal(history)
	resp := postPipeline(t, srv, []byte("silence"), map[string]string{api.FieldChatContext: string(ctxJSON)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decodedHeader(t, resp, api.HeaderTranscription); got != "" {
		t.Errorf("transcription = %q, want empty", got)
	}
	if got := decodedHeader(t, resp, api.HeaderChatContext); got != string(ctxJSON) {
		t.Errorf("context = %s, want %s", got, ctxJSON)
	}
	if resp.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0", resp.ContentLength)
	}
	if !reflect.DeepEqual(fp.requests[0].Context, history) {
		t.Errorf("forwarded context = %+v", fp.requests[0].Context)
	}
}

func TestPipeline_BadRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		audio  []byte
		fields map[string]string
	}{
		{"missing audio", nil, nil},
		{"empty audio", []byte{}, nil},
		{"bad context json", []byte("a"), map[string]string{api.FieldChatContext: "{not json"}},
		{"bad context role", []byte("a"), map[string]string{api.FieldChatContext: `[{"role":"robot","content":"x"}]`}},
		{"bad temperature", []byte("a"), map[string]string{api.FieldTemperature: "warm"}},
		{"temperature out of range", []byte("a"), map[string]string{api.FieldTemperature: "3"}},
		{"bad speed", []byte("a"), map[string]string{api.FieldSpeed: "fast"}},
		{"unknown format", []byte("a"), map[string]string{api.FieldResponseFormat: "ogg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fp := &fakePipeline{result: &pipeline.Result{}}
			srv := newTestServer(t, fp)
			resp := postPipeline(t, srv, tt.audio, tt.fields)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var e api.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("error body = %+v, %v", e, err)
			}
			if len(fp.requests) != 0 {
				t.Error("pipeline called for invalid request")
			}
		})
	}
}

func TestPipeline_ProcessFailure(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakePipeline{err: errors.New("stt down")})
	resp := postPipeline(t, srv, []byte("a"), nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var e api.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Error == "" || strings.Contains(e.Error, "stt down") {
		t.Errorf("error = %q, want a generic message", e.Error)
	}
}

func TestPipeline_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakePipeline{})
	resp, err := http.Get(srv.URL + api.PathPipeline)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()
	p := pipeline.New(
		&sttmock.Transcriber{Text: "Who was Ada Lovelace?"},
		&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "A mathematician."}},
		&ttsmock.Provider{},
	)
	srv := newTestServer(t, p)

	resp := postPipeline(t, srv, []byte("RIFF"), map[string]string{
		api.FieldTutorRole:      "history",
		api.FieldResponseFormat: "wav",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	var ctx []llm.Message
	json.Unmarshal([]byte(decodedHeader(t, resp, api.HeaderChatContext)), &ctx)
	if len(ctx) != 2 || ctx[0].Content != "Who was Ada Lovelace?" || ctx[1].Content != "A mathematician." {
		t.Errorf("context = %+v", ctx)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if body.String() != "A mathematician." {
		t.Errorf("body = %q", body.String())
	}
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+api.PathChat, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChat(t *testing.T) {
	t.Parallel()
	fp := &fakePipeline{chat: &llm.CompletionResponse{
		Content: "Photosynthesis turns light into sugar.",
		Model:   "gpt-4o-mini",
		Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}}
	srv := newTestServer(t, fp, api.WithDefaults(api.Defaults{Temperature: 0.5}))

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"Explain photosynthesis"}],"tutorRole":"science","temperature":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got api.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := api.ChatResponse{
		Content: "Photosynthesis turns light into sugar.",
		Model:   "gpt-4o-mini",
		Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	req := fp.chats[0]
	if req.TutorRole != tutor.Science {
		t.Errorf("TutorRole = %q", req.TutorRole)
	}
	if req.Temperature != 0 {
		t.Errorf("explicit zero temperature overridden: %v", req.Temperature)
	}
}

func TestChat_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		chatErr error
		status  int
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"no messages", `{"messages":[]}`, nil, http.StatusBadRequest},
		{"upstream failure", `{"messages":[{"role":"user","content":"hi"}]}`, errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakePipeline{chatErr: tt.chatErr})
			resp := postChat(t, srv, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var e api.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("error body = %+v, %v", e, err)
			}
		})
	}
}
