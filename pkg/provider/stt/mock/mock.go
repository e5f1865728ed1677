// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to push controlled Transcript values and inspect
// which audio chunks were delivered. Use Transcriber for batch transcription.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal("hello")
//	sess.Fail(errors.New("connection reset"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

// ─── Provider ────────────────────────────────────────────────────────────────

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, every call
	// returns a fresh Session from NewSession, retrievable through Sessions.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	created []*Session
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.created = append(p.created, s)
	return s, nil
}

// Sessions returns the sessions created by StartStream when Session is nil.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.created...)
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.created = nil
}

var _ stt.Provider = (*Provider)(nil)

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of stt.SessionHandle. Its transcript
// channels are owned by the mock and closed exactly once, by Close or Fail.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	once     sync.Once
	closed   bool
	err      error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls holds a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr, or
// stt.ErrSessionClosed once the session has ended.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }
func (s *Session) Finals() <-chan stt.Transcript   { return s.finals }

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// EmitPartial delivers an interim transcript. It is a no-op after the
// session ended.
func (s *Session) EmitPartial(text string) {
	s.emit(s.partials, stt.Transcript{Text: text})
}

// EmitFinal delivers a final transcript. It is a no-op after the session
// ended.
func (s *Session) EmitFinal(text string) {
	s.emit(s.finals, stt.Transcript{Text: text, IsFinal: true})
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ch <- t
}

// Fail ends the session with err, as a dropped connection would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.end()
}

// Close records the call, ends the session and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.end()
	return s.CloseErr
}

func (s *Session) end() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.partials)
		close(s.finals)
		s.mu.Unlock()
	})
}

// SendAudioCallCount returns the number of recorded SendAudio calls.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closed reports whether the session ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ stt.SessionHandle = (*Session)(nil)

// ─── Transcriber ─────────────────────────────────────────────────────────────

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Audio stt.Audio
	Opts  stt.TranscribeOptions
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// TranscribeFunc, if set, replaces the fixed Text/Err result.
	TranscribeFunc func(ctx context.Context, a stt.Audio, opts stt.TranscribeOptions) (string, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (t *Transcriber) Transcribe(ctx context.Context, a stt.Audio, opts stt.TranscribeOptions) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Audio: a, Opts: opts})
	fn, text, err := t.TranscribeFunc, t.Text, t.Err
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, a, opts)
	}
	return text, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
