package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		Language:       "en",
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Keywords: []stt.KeywordBoost{
			{Keyword: "hypotenuse", Boost: 5},
			{Keyword: "mitochondria", Boost: 3.5},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["hypotenuse:5"] || !found["mitochondria:3.5"] {
		t.Errorf("unexpected keywords %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"channel": {
			"alternatives": [{
				"transcript": "What is a prime number",
				"confidence": 0.95,
				"words": [
					{"word": "What", "start": 0.1, "end": 0.3, "confidence": 0.97},
					{"word": "is", "start": 0.35, "end": 0.4, "confidence": 0.93}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "What is a prime number", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("timestamp = %v", tr.Timestamp)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ---- Session tests ----

func TestStartStream_DeliversTranscriptsAndReportsAbnormalClose(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		gotAudio <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what is"}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"what is gravity"}]}}`))
		conn.Close(websocket.StatusInternalError, "upstream failure")
	}))
	defer srv.Close()

	p, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, InterimResults: true})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-gotAudio:
		if len(data) != 4 {
			t.Errorf("server got %d bytes", len(data))
		}
	case <-ctx.Done():
		t.Fatal("server never received audio")
	}

	partial := <-sess.Partials()
	assertEqual(t, "partial", "what is", partial.Text)
	final := <-sess.Finals()
	assertEqual(t, "final", "what is gravity", final.Text)

	// Finals closes once the socket drops.
	for range sess.Finals() {
	}
	if sess.Err() == nil {
		t.Error("expected a transport error after abnormal close")
	}
}

func TestSession_SendAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	sess, err := p.StartStream(t.Context(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0}); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after close = %v, want ErrSessionClosed", err)
	}
	if sess.Err() != nil {
		t.Errorf("normal close should not record an error, got %v", sess.Err())
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
