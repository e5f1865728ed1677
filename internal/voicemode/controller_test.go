package voicemode_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/synthesis"
	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/internal/voicemode"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ── fakes ───────────────────────────────────────────────────────────────────

type fakeRecognizer struct {
	sink func(recognition.Event)
}

func (*fakeRecognizer) Start() error { return nil }
func (*fakeRecognizer) Stop()        {}
func (*fakeRecognizer) Abort()       {}

type fakeBackend struct {
	mu   sync.Mutex
	recs []*fakeRecognizer
}

func (*fakeBackend) Supported() bool     { return true }
func (*fakeBackend) NetworkBacked() bool { return true }

func (b *fakeBackend) NewRecognizer(_ recognition.Config, sink func(recognition.Event)) (recognition.Recognizer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &fakeRecognizer{sink: sink}
	b.recs = append(b.recs, r)
	return r, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

func (b *fakeBackend) emit(ev recognition.Event) {
	b.mu.Lock()
	r := b.recs[len(b.recs)-1]
	b.mu.Unlock()
	r.sink(ev)
}

type fakeSpeaker struct {
	mu       sync.Mutex
	texts    []string
	opts     []synthesis.SpeakOptions
	stops    int
	speaking bool
}

func (s *fakeSpeaker) Speak(text string, opts synthesis.SpeakOptions) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.opts = append(s.opts, opts)
	s.speaking = true
	return true
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.speaking = false
}

func (s *fakeSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// finish ends the last utterance.
func (s *fakeSpeaker) finish() {
	s.mu.Lock()
	opts := s.opts[len(s.opts)-1]
	s.speaking = false
	s.mu.Unlock()
	opts.OnEnd()
}

type fakeChat struct {
	mu       sync.Mutex
	resp     *api.ChatResponse
	err      error
	block    chan struct{}
	requests []api.ChatRequest
}

func (c *fakeChat) Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	resp, err, block := c.resp, c.err, c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (c *fakeChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeConn struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Subscribe(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	return func() {}
}

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	subs := slices.Clone(c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// ── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	c       *voicemode.Controller
	engine  *recognition.Engine
	backend *fakeBackend
	speaker *fakeSpeaker
	chat    *fakeChat
	conn    *fakeConn
	clk     *clock.Fake

	mu      sync.Mutex
	errs    []*voice.Error
	writing [][]writing.Instruction
	toggles []bool
}

func newHarness(t *testing.T, chat *fakeChat, opts ...voicemode.Option) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{},
		speaker: &fakeSpeaker{},
		chat:    chat,
		conn:    &fakeConn{online: true},
		clk:     clock.NewFake(epoch),
	}
	h.engine = recognition.New(h.backend, recognition.WithClock(h.clk), recognition.WithMaxNetworkRetries(0))
	if err := h.engine.Init(); err != nil {
		t.Fatal(err)
	}
	base := []voicemode.Option{
		voicemode.WithClock(h.clk),
		voicemode.WithConnectivity(h.conn),
		voicemode.OnError(func(e *voice.Error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errs = append(h.errs, e)
		}),
		voicemode.OnWriting(func(ins []writing.Instruction) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.writing = append(h.writing, ins)
		}),
		voicemode.OnEnabledChange(func(on bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.toggles = append(h.toggles, on)
		}),
	}
	h.c = voicemode.New(h.engine, h.speaker, chat, append(base, opts...)...)
	t.Cleanup(func() {
		h.c.Close()
		h.engine.Dispose()
	})
	return h
}

func (h *harness) lastError() *voice.Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) == 0 {
		return nil
	}
	return h.errs[len(h.errs)-1]
}

// listening enables voice mode and lets the engine's start delay pass.
func (h *harness) listening(t *testing.T) {
	t.Helper()
	if !h.c.Enable() {
		t.Fatal("Enable() = false")
	}
	h.clk.Advance(100 * time.Millisecond)
	if h.backend.count() == 0 {
		t.Fatal("no recognizer started")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func networkError() recognition.Event {
	return recognition.Event{Type: recognition.EventError, Code: recognition.CodeNetwork}
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestFinalTranscript_ChatsSpeaksAndResumes(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{resp: &api.ChatResponse{
		Content: "Pi is about 3.14. [writing]π ≈ 3.14159[/writing]",
		Model:   "gpt-4o-mini",
	}}
	history := session.NewChatContext(llm.Message{Role: llm.RoleUser, Content: "Hi"})
	h := newHarness(t, chat,
		voicemode.WithChatContext(history),
		voicemode.WithSettings(voicemode.Settings{Lang: "en-US", TutorRole: "math"}),
	)
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventResult, Text: "what is pi", IsFinal: true})
	if h.engine.IsListening() {
		t.Error("still listening while the reply is prepared")
	}
	waitFor(t, "spoken reply", func() bool { return len(h.speaker.spoken()) == 1 })

	if got := h.speaker.spoken()[0]; got != "Pi is about 3.14." {
		t.Errorf("spoken = %q", got)
	}
	chat.mu.Lock()
	req := chat.requests[0]
	chat.mu.Unlock()
	if req.TutorRole != "math" || len(req.Messages) != 2 || req.Messages[1].Content != "what is pi" {
		t.Errorf("chat request = %+v", req)
	}
	if msgs := history.Messages(); len(msgs) != 3 || msgs[2].Role != llm.RoleAssistant {
		t.Errorf("history = %v", msgs)
	}
	h.mu.Lock()
	if len(h.writing) != 1 || h.writing[0][0].Content != "π ≈ 3.14159" {
		t.Errorf("writing = %v", h.writing)
	}
	h.mu.Unlock()

	h.speaker.finish()
	h.clk.Advance(time.Second)
	h.clk.Advance(100 * time.Millisecond)
	if n := h.backend.count(); n != 2 {
		t.Errorf("recognizers = %d, want listening resumed", n)
	}
}

func TestInterimResultsDoNotChat(t *testing.T) {
	t.Parallel()
	var transcripts []string
	chat := &fakeChat{resp: &api.ChatResponse{Content: "ok"}}
	h := newHarness(t, chat, voicemode.OnTranscript(func(text string, final bool) {
		transcripts = append(transcripts, text)
	}))
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventResult, Text: "what is"})
	if chat.count() != 0 {
		t.Error("interim result sent to chat")
	}
	if len(transcripts) != 1 || transcripts[0] != "what is" {
		t.Errorf("transcripts = %v", transcripts)
	}
	if !h.engine.IsListening() {
		t.Error("interim result stopped listening")
	}
}

func TestRepeatedExhaustionDisables(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeChat{})
	h.listening(t)

	h.backend.emit(networkError())
	if !h.c.Enabled() {
		t.Fatal("disabled after the first exhaustion")
	}
	h.clk.Advance(time.Second)
	h.clk.Advance(100 * time.Millisecond)
	if n := h.backend.count(); n != 2 {
		t.Fatalf("recognizers = %d, want a resumed session", n)
	}

	h.backend.emit(networkError())
	if h.c.Enabled() {
		t.Fatal("still enabled after the second exhaustion")
	}
	if e := h.lastError(); e == nil || e.Message != voice.MsgVoiceModeOff {
		t.Errorf("last error = %v", e)
	}
	h.clk.Advance(5 * time.Second)
	if n := h.backend.count(); n != 2 {
		t.Errorf("recognizers = %d after disable", n)
	}

	// Re-enabling starts a fresh budget.
	h.listening(t)
	h.backend.emit(networkError())
	if !h.c.Enabled() {
		t.Error("exhaustions carried over into the new session")
	}
}

func TestMicrophoneErrors_WaitForEnable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		code string
		want voice.ErrorType
	}{
		{name: "not allowed", code: recognition.CodeNotAllowed, want: voice.TypeNotAllowed},
		{name: "permission denied", code: recognition.CodePermissionDenied, want: voice.TypeNotAllowed},
		{name: "no microphone", code: recognition.CodeAudioCapture, want: voice.TypeAudioCapture},
		{name: "aborted", code: recognition.CodeAborted, want: voice.TypeAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, &fakeChat{})
			h.listening(t)

			h.backend.emit(recognition.Event{Type: recognition.EventError, Code: tt.code})
			if e := h.lastError(); e == nil || e.Type != tt.want || !e.IsFinal {
				t.Fatalf("last error = %v, want final %s", e, tt.want)
			}
			for range 5 {
				h.clk.Advance(1100 * time.Millisecond)
			}
			if n := h.backend.count(); n != 1 {
				t.Fatalf("recognizers = %d, want no automatic restart", n)
			}
			if !h.c.Enabled() {
				t.Fatal("voice mode turned off")
			}

			// Coming back online must not restart it either.
			h.conn.set(false)
			h.conn.set(true)
			h.clk.Advance(2 * time.Second)
			if n := h.backend.count(); n != 1 {
				t.Fatalf("recognizers = %d after reconnect", n)
			}

			if !h.c.Enable() {
				t.Fatal("Enable() = false")
			}
			h.clk.Advance(100 * time.Millisecond)
			if n := h.backend.count(); n != 2 {
				t.Errorf("recognizers = %d, want listening after Enable", n)
			}
		})
	}
}

func TestNoSpeech_Resumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeChat{})
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventError, Code: recognition.CodeNoSpeech})
	if e := h.lastError(); e == nil || e.Type != voice.TypeNoSpeech {
		t.Fatalf("last error = %v", e)
	}
	h.clk.Advance(time.Second)
	h.clk.Advance(100 * time.Millisecond)
	if n := h.backend.count(); n != 2 {
		t.Errorf("recognizers = %d, want resumed after no-speech", n)
	}
}

func TestConnectivity_PausesAndResumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeChat{})
	h.listening(t)

	h.conn.set(false)
	if h.engine.IsListening() {
		t.Fatal("still listening while offline")
	}
	if e := h.lastError(); e == nil || e.Message != voice.MsgOffline {
		t.Errorf("last error = %v", e)
	}
	h.clk.Advance(5 * time.Second)
	if n := h.backend.count(); n != 1 {
		t.Fatalf("recognizers = %d while offline", n)
	}

	h.conn.set(true)
	h.clk.Advance(999 * time.Millisecond)
	if h.engine.IsListening() {
		t.Fatal("resumed before the delay")
	}
	h.clk.Advance(time.Millisecond)
	h.clk.Advance(100 * time.Millisecond)
	if n := h.backend.count(); n != 2 {
		t.Errorf("recognizers = %d, want resumed", n)
	}
}

func TestConnectivity_NoResumeWhileSpeaking(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{resp: &api.ChatResponse{Content: "Sure."}}
	h := newHarness(t, chat)
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventResult, Text: "help", IsFinal: true})
	waitFor(t, "spoken reply", func() bool { return len(h.speaker.spoken()) == 1 })

	h.conn.set(false)
	h.conn.set(true)
	h.clk.Advance(2 * time.Second)
	if h.engine.IsListening() {
		t.Error("resumed listening while the reply was playing")
	}
}

func TestEnable_Offline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeChat{})
	h.conn.set(false)

	if h.c.Enable() {
		t.Error("Enable() = true while offline")
	}
	if !h.c.Enabled() {
		t.Fatal("voice mode not enabled")
	}
	h.conn.set(true)
	h.clk.Advance(time.Second)
	h.clk.Advance(100 * time.Millisecond)
	if h.backend.count() != 1 {
		t.Error("did not start listening once online")
	}
}

func TestChatFailure_ReportsAndResumes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeChat{err: errors.New("client: chat: status 502")})
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventResult, Text: "hello", IsFinal: true})
	waitFor(t, "chat error", func() bool {
		e := h.lastError()
		return e != nil && e.Type == voice.TypeTransport
	})
	waitFor(t, "scheduled resume", func() bool { return h.clk.Pending() == 1 })
	h.clk.Advance(time.Second)
	h.clk.Advance(100 * time.Millisecond)
	if n := h.backend.count(); n != 2 {
		t.Errorf("recognizers = %d, want resumed after chat failure", n)
	}
	if len(h.speaker.spoken()) != 0 {
		t.Error("spoke after chat failure")
	}
}

func TestDisable_DropsPendingReply(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{resp: &api.ChatResponse{Content: "Late."}, block: make(chan struct{})}
	h := newHarness(t, chat)
	h.listening(t)

	h.backend.emit(recognition.Event{Type: recognition.EventResult, Text: "hello", IsFinal: true})
	waitFor(t, "chat request", func() bool { return chat.count() == 1 })

	h.c.Disable()
	close(chat.block)
	time.Sleep(10 * time.Millisecond)

	if len(h.speaker.spoken()) != 0 {
		t.Error("reply spoken after disable")
	}
	if h.c.ChatContext().Len() != 0 {
		t.Error("reply recorded after disable")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.toggles) != 2 || !h.toggles[0] || h.toggles[1] {
		t.Errorf("toggles = %v", h.toggles)
	}
}
