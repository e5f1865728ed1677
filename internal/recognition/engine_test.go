package recognition_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/mic"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/internal/voice"
)

// ── fakes ───────────────────────────────────────────────────────────────────

type fakeRecognizer struct {
	cfg  recognition.Config
	sink func(recognition.Event)

	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	aborts   int
}

func (r *fakeRecognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.startErr
}

func (r *fakeRecognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *fakeRecognizer) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
}

func (r *fakeRecognizer) networkError() {
	r.sink(recognition.Event{Type: recognition.EventError, Code: recognition.CodeNetwork})
}

func (r *fakeRecognizer) result(text string, final bool) {
	r.sink(recognition.Event{Type: recognition.EventResult, Text: text, IsFinal: final})
}

type fakeBackend struct {
	mu        sync.Mutex
	supported bool
	networked bool
	startErr  error
	recs      []*fakeRecognizer
}

func (b *fakeBackend) Supported() bool     { return b.supported }
func (b *fakeBackend) NetworkBacked() bool { return b.networked }

func (b *fakeBackend) NewRecognizer(cfg recognition.Config, sink func(recognition.Event)) (recognition.Recognizer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &fakeRecognizer{cfg: cfg, sink: sink, startErr: b.startErr}
	b.recs = append(b.recs, r)
	return r, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

func (b *fakeBackend) last() *fakeRecognizer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recs[len(b.recs)-1]
}

type fakeNetwork struct {
	online bool
	probed chan struct{}
}

func (n *fakeNetwork) Online() bool { return n.online }

func (n *fakeNetwork) Probe(context.Context) error {
	if n.probed != nil {
		close(n.probed)
	}
	return errors.New("probe target unreachable")
}

// recorder collects engine callbacks.
type recorder struct {
	starts  int
	ends    int
	results []string
	errs    []*voice.Error
}

func (r *recorder) options() recognition.Options {
	return recognition.Options{
		Lang:           "en-US",
		Continuous:     true,
		InterimResults: true,
		OnStart:        func() { r.starts++ },
		OnEnd:          func() { r.ends++ },
		OnResult: func(text string, final bool) {
			if final {
				r.results = append(r.results, text)
			}
		},
		OnError: func(e *voice.Error) { r.errs = append(r.errs, e) },
	}
}

func newEngine(t *testing.T, b *fakeBackend, opts ...recognition.Option) (*recognition.Engine, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Unix(0, 0))
	eng := recognition.New(b, append([]recognition.Option{recognition.WithClock(c)}, opts...)...)
	if err := eng.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(eng.Dispose)
	return eng, c
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestBackoff(t *testing.T) {
	t.Parallel()
	want := map[int]time.Duration{
		1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second,
		4: 8 * time.Second, 5: 8 * time.Second, 30: 8 * time.Second,
	}
	for n, d := range want {
		if got := recognition.Backoff(n); got != d {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, d)
		}
	}
}

func TestStartListening_StartsAfterGraceDelay(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder

	if !eng.StartListening(rec.options()) {
		t.Fatal("StartListening returned false")
	}
	if b.count() != 0 {
		t.Fatal("recognizer created before the grace delay")
	}
	c.Advance(100 * time.Millisecond)
	if b.count() != 1 || b.last().starts != 1 {
		t.Fatalf("recognizers = %d, want 1 started", b.count())
	}
	if got := b.last().cfg; got.Lang != "en-US" || !got.Continuous || !got.InterimResults {
		t.Errorf("config = %+v", got)
	}
	if !eng.IsListening() {
		t.Error("IsListening() = false")
	}
}

func TestStartListening_Unsupported(t *testing.T) {
	t.Parallel()
	eng, _ := newEngine(t, &fakeBackend{supported: false})
	var rec recorder
	if eng.StartListening(rec.options()) {
		t.Fatal("StartListening on unsupported backend returned true")
	}
	if len(rec.errs) != 1 || rec.errs[0].Type != voice.TypeUnsupported {
		t.Errorf("errors = %+v", rec.errs)
	}
}

func TestStartListening_OfflineRefused(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true, networked: true}
	eng, _ := newEngine(t, b, recognition.WithNetwork(&fakeNetwork{online: false}))
	var rec recorder

	if eng.StartListening(rec.options()) {
		t.Fatal("StartListening while offline returned true")
	}
	if len(rec.errs) != 1 || rec.errs[0].Type != voice.TypeNetwork || !rec.errs[0].IsFinal {
		t.Errorf("errors = %+v", rec.errs)
	}
}

func TestStartListening_ProbeFailureDoesNotBlock(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true, networked: true}
	n := &fakeNetwork{online: true, probed: make(chan struct{})}
	eng, c := newEngine(t, b, recognition.WithNetwork(n))
	var rec recorder

	if !eng.StartListening(rec.options()) {
		t.Fatal("StartListening returned false")
	}
	select {
	case <-n.probed:
	case <-time.After(2 * time.Second):
		t.Fatal("pre-flight probe never ran")
	}
	c.Advance(100 * time.Millisecond)
	if b.count() != 1 {
		t.Error("failed probe prevented the recognizer from starting")
	}
	if len(rec.errs) != 0 {
		t.Errorf("probe failure surfaced errors: %+v", rec.errs)
	}
}

// Scenario A: two network errors then success.
func TestNetworkErrors_RetryWithBackoffThenSucceed(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	first := b.last()
	first.networkError()
	if eng.RetryCount() != 1 || first.aborts != 1 {
		t.Fatalf("after first error: retry=%d aborts=%d", eng.RetryCount(), first.aborts)
	}
	c.Advance(999 * time.Millisecond)
	if b.count() != 1 {
		t.Fatal("retry fired before 1s")
	}
	c.Advance(time.Millisecond)
	if b.count() != 2 {
		t.Fatalf("recognizers = %d after 1s, want 2", b.count())
	}

	// Events from the discarded recognizer are ignored.
	first.result("stale", true)

	b.last().networkError()
	c.Advance(1999 * time.Millisecond)
	if b.count() != 2 {
		t.Fatal("second retry fired before 2s")
	}
	c.Advance(time.Millisecond)
	if b.count() != 3 {
		t.Fatalf("recognizers = %d after 2s, want 3", b.count())
	}

	b.last().result("two plus two", true)

	if len(rec.errs) != 2 {
		t.Fatalf("errors = %d, want 2", len(rec.errs))
	}
	for i, e := range rec.errs {
		if !e.IsRetrying || e.IsFinal || e.Type != voice.TypeNetwork {
			t.Errorf("error[%d] = %+v, want retrying network error", i, e)
		}
	}
	if !strings.Contains(rec.errs[0].Message, "1s (attempt 1 of 3)") ||
		!strings.Contains(rec.errs[1].Message, "2s (attempt 2 of 3)") {
		t.Errorf("countdown messages = %q, %q", rec.errs[0].Message, rec.errs[1].Message)
	}
	if len(rec.results) != 1 || rec.results[0] != "two plus two" {
		t.Errorf("results = %v", rec.results)
	}
	if eng.RetryCount() != 0 {
		t.Errorf("RetryCount() = %d after final result, want 0", eng.RetryCount())
	}
}

// Scenario B: maxNetworkRetries+1 consecutive network errors.
func TestNetworkErrors_ExhaustedEmitsOneFinalError(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b, recognition.WithMaxNetworkRetries(3))
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	for i := 0; i < 4; i++ {
		b.last().networkError()
		c.Advance(recognition.Backoff(i + 1))
	}
	c.Advance(time.Minute)

	if b.count() != 4 {
		t.Errorf("recognizers = %d, want 4 (no rebuild after the final error)", b.count())
	}
	var finals, retrying int
	for _, e := range rec.errs {
		if e.IsFinal {
			finals++
		}
		if e.IsRetrying {
			retrying++
		}
	}
	if finals != 1 || retrying != 3 {
		t.Errorf("final=%d retrying=%d, want 1 and 3", finals, retrying)
	}
	if last := rec.errs[len(rec.errs)-1]; !last.IsFinal || last.IsRetrying {
		t.Errorf("last error = %+v, want final", last)
	}
	if eng.IsListening() {
		t.Error("engine still listening after exhausting retries")
	}
	if eng.Exhaustions() != 1 {
		t.Errorf("Exhaustions() = %d, want 1", eng.Exhaustions())
	}
	if rec.ends != 1 {
		t.Errorf("OnEnd calls = %d, want 1", rec.ends)
	}
}

func TestNonNetworkErrors_AreFinal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want voice.ErrorType
	}{
		{recognition.CodeNotAllowed, voice.TypeNotAllowed},
		{recognition.CodeServiceNotAllowed, voice.TypeNotAllowed},
		{recognition.CodePermissionDenied, voice.TypeNotAllowed},
		{recognition.CodeAudioCapture, voice.TypeAudioCapture},
		{recognition.CodeNoSpeech, voice.TypeNoSpeech},
		{recognition.CodeAborted, voice.TypeAborted},
		{"bad-grammar", voice.TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			b := &fakeBackend{supported: true}
			eng, c := newEngine(t, b)
			var rec recorder
			eng.StartListening(rec.options())
			c.Advance(100 * time.Millisecond)

			b.last().sink(recognition.Event{Type: recognition.EventError, Code: tt.code})
			c.Advance(time.Minute)

			if b.count() != 1 {
				t.Errorf("recognizers = %d, want 1 (no retry)", b.count())
			}
			if len(rec.errs) != 1 || rec.errs[0].Type != tt.want || !rec.errs[0].IsFinal || rec.errs[0].IsRetrying {
				t.Errorf("errors = %+v", rec.errs)
			}
		})
	}
}

func TestStopListening_IdempotentAndCancelsPendingStart(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder

	eng.StartListening(rec.options())
	eng.StopListening()
	eng.StopListening()
	c.Advance(time.Second)

	if b.count() != 0 {
		t.Error("recognizer started after StopListening")
	}
	if rec.ends != 1 {
		t.Errorf("OnEnd calls = %d, want 1", rec.ends)
	}
	if eng.IsListening() {
		t.Error("IsListening() = true after StopListening")
	}
}

func TestStopListening_ResetsRetriesAndCancelsBackoff(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	b.last().networkError()
	eng.StopListening()
	c.Advance(time.Minute)

	if eng.RetryCount() != 0 {
		t.Errorf("RetryCount() = %d, want 0", eng.RetryCount())
	}
	if b.count() != 1 {
		t.Errorf("recognizers = %d, pending retry was not cancelled", b.count())
	}
}

func TestInterimText(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	b.last().sink(recognition.Event{Type: recognition.EventStart})
	b.last().result("what is", false)
	if eng.InterimText() != "what is" {
		t.Errorf("InterimText() = %q", eng.InterimText())
	}
	b.last().result("what is pi", true)
	if eng.InterimText() != "" {
		t.Errorf("InterimText() = %q after final, want empty", eng.InterimText())
	}
	if rec.starts != 1 {
		t.Errorf("OnStart calls = %d, want 1", rec.starts)
	}
}

func TestHandleOffline(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b)
	var rec recorder

	eng.HandleOffline() // not listening: no-op
	if len(rec.errs) != 0 {
		t.Fatal("HandleOffline emitted while idle")
	}

	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)
	eng.HandleOffline()

	if eng.IsListening() {
		t.Error("still listening after HandleOffline")
	}
	if len(rec.errs) != 1 || rec.errs[0].Type != voice.TypeNetwork || !rec.errs[0].IsFinal {
		t.Errorf("errors = %+v", rec.errs)
	}
	if b.last().aborts != 1 {
		t.Error("recognizer not discarded")
	}
}

func TestMicrophone_FailFastAndRelease(t *testing.T) {
	t.Parallel()
	var tok mic.Token
	b := &fakeBackend{supported: true}
	eng, c := newEngine(t, b, recognition.WithMicrophone(&tok))
	var rec recorder

	release, _ := tok.Acquire(mic.HolderConversation)
	if eng.StartListening(rec.options()) {
		t.Fatal("StartListening succeeded while the conversation holds the mic")
	}
	if len(rec.errs) != 1 || rec.errs[0].Type != voice.TypeAudioCapture ||
		!strings.Contains(rec.errs[0].Message, "conversation") {
		t.Errorf("errors = %+v", rec.errs)
	}
	release()

	if !eng.StartListening(rec.options()) {
		t.Fatal("StartListening failed with a free mic")
	}
	c.Advance(100 * time.Millisecond)
	if tok.Holder() != mic.HolderRecognition {
		t.Errorf("Holder() = %q", tok.Holder())
	}
	eng.StopListening()
	if tok.Holder() != "" {
		t.Errorf("mic still held after StopListening: %q", tok.Holder())
	}
}

func TestDispose_CancelsPendingRetry(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true}
	c := clock.NewFake(time.Unix(0, 0))
	eng := recognition.New(b, recognition.WithClock(c))
	_ = eng.Init()
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	b.last().networkError()
	eng.Dispose()
	c.Advance(time.Minute)

	if b.count() != 1 {
		t.Errorf("recognizers = %d, retry fired after Dispose", b.count())
	}
	if eng.StartListening(rec.options()) {
		t.Error("StartListening succeeded after Dispose")
	}
	if err := eng.Init(); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	if !eng.StartListening(rec.options()) {
		t.Error("StartListening failed after re-Init")
	}
	eng.Dispose()
}

func TestStartFailure_RoutesThroughErrorPolicy(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{supported: true, networked: true, startErr: context.DeadlineExceeded}
	eng, c := newEngine(t, b)
	var rec recorder
	eng.StartListening(rec.options())
	c.Advance(100 * time.Millisecond)

	if len(rec.errs) != 1 || !rec.errs[0].IsRetrying {
		t.Fatalf("errors = %+v, want one retrying network error", rec.errs)
	}
	if b.last().aborts != 1 {
		t.Error("failed recognizer was not discarded")
	}
}
