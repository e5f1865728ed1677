// Package voicemode runs hands-free voice input: continuous recognition feeds
// final transcripts to the chat endpoint, the reply's whiteboard blocks are
// published and the rest is spoken, then listening resumes.
package voicemode

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/client"
	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/netstate"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/synthesis"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

const (
	defaultResumeDelay    = time.Second
	defaultMaxExhaustions = 2
)

// Recognizer is the subset of [recognition.Engine] the controller drives.
type Recognizer interface {
	StartListening(opts recognition.Options) bool
	StopListening()
	HandleOffline()
	IsListening() bool
	Exhaustions() int
	ResetExhaustions()
}

// Speaker is the subset of [synthesis.Engine] the controller drives.
type Speaker interface {
	Speak(text string, opts synthesis.SpeakOptions) bool
	Stop()
	IsSpeaking() bool
}

// Chat completes a conversation on the tutoring server.
type Chat interface {
	Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
}

// Connectivity reports and announces online/offline transitions.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

var (
	_ Recognizer   = (*recognition.Engine)(nil)
	_ Speaker      = (*synthesis.Engine)(nil)
	_ Chat         = (*client.ChatClient)(nil)
	_ Connectivity = (*netstate.Monitor)(nil)
)

// Settings are the recognition language and chat parameters.
type Settings struct {
	Lang        string
	TutorRole   tutor.Role
	Model       string
	Temperature *float64
}

// Reply is one answered utterance.
type Reply struct {
	Transcript string
	Content    string
	Speakable  string
	Model      string
	Usage      llm.Usage
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock drives the resume delay from c.
func WithClock(c clock.Clock) Option { return func(v *Controller) { v.clock = c } }

// WithResumeDelay sets how long the controller waits before listening
// again. Defaults to 1 s.
func WithResumeDelay(d time.Duration) Option {
	return func(v *Controller) { v.resumeDelay = d }
}

// WithMaxExhaustions sets after how many exhausted retry budgets voice mode
// turns itself off. Defaults to 2.
func WithMaxExhaustions(n int) Option {
	return func(v *Controller) { v.maxExhaustions = n }
}

// WithConnectivity pauses voice mode while offline.
func WithConnectivity(c Connectivity) Option {
	return func(v *Controller) { v.conn = c }
}

// WithChatContext uses ctx as the rolling chat context.
func WithChatContext(ctx *session.ChatContext) Option {
	return func(v *Controller) { v.history = ctx }
}

// WithSettings sets the language and chat parameters.
func WithSettings(s Settings) Option { return func(v *Controller) { v.settings = s } }

// OnTranscript receives interim and final transcripts.
func OnTranscript(fn func(text string, final bool)) Option {
	return func(v *Controller) { v.onTranscript = fn }
}

// OnReply receives every chat reply before it is spoken.
func OnReply(fn func(Reply)) Option { return func(v *Controller) { v.onReply = fn } }

// OnWriting receives the whiteboard instructions of each reply that carries
// any.
func OnWriting(fn func([]writing.Instruction)) Option {
	return func(v *Controller) { v.onWriting = fn }
}

// OnError receives recognition, chat and synthesis errors.
func OnError(fn func(*voice.Error)) Option { return func(v *Controller) { v.onError = fn } }

// OnEnabledChange is called whenever voice mode turns on or off.
func OnEnabledChange(fn func(enabled bool)) Option {
	return func(v *Controller) { v.onEnabled = fn }
}

// Controller turns voice mode on and off and keeps it running across
// replies, connectivity changes and recognition failures.
//
// Each enable starts a new session generation; callbacks from an older
// session are dropped.
type Controller struct {
	rec     Recognizer
	speaker Speaker
	chat    Chat
	conn    Connectivity
	history *session.ChatContext

	clock          clock.Clock
	sched          *clock.Scheduler
	resumeDelay    time.Duration
	maxExhaustions int

	onTranscript func(string, bool)
	onReply      func(Reply)
	onWriting    func([]writing.Instruction)
	onError      func(*voice.Error)
	onEnabled    func(bool)

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu       sync.Mutex
	settings Settings
	enabled  bool
	busy     bool
	online   bool
	halted   bool
	gen      uint64
	pending  *clock.Task
}

// New creates a Controller. Call Close when done.
func New(rec Recognizer, speaker Speaker, chat Chat, opts ...Option) *Controller {
	c := &Controller{
		rec:            rec,
		speaker:        speaker,
		chat:           chat,
		resumeDelay:    defaultResumeDelay,
		maxExhaustions: defaultMaxExhaustions,
		settings:       Settings{TutorRole: tutor.General},
		online:         true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.history == nil {
		c.history = session.NewChatContext()
	}
	c.sched = clock.NewScheduler(c.clock)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if c.conn != nil {
		c.online = c.conn.Online()
		c.unsubscribe = c.conn.Subscribe(c.setOnline)
	}
	return c
}

// Enabled reports whether voice mode is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ChatContext returns the rolling chat context.
func (c *Controller) ChatContext() *session.ChatContext { return c.history }

// UpdateSettings changes the language and chat parameters. A new language
// applies from the next listening session.
func (c *Controller) UpdateSettings(fn func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
}

// Enable turns voice mode on and starts listening. It reports whether
// listening started; while offline it starts once the connection returns.
// Calling Enable after a microphone error listens again.
func (c *Controller) Enable() bool {
	c.mu.Lock()
	if c.enabled && !c.halted {
		c.mu.Unlock()
		return true
	}
	wasEnabled := c.enabled
	c.enabled = true
	c.busy = false
	c.halted = false
	c.gen++
	gen, online := c.gen, c.online
	c.mu.Unlock()

	if wasEnabled {
		slog.Info("voicemode: listening again after a microphone error")
		if !online {
			return false
		}
		return c.listen(gen)
	}

	c.rec.ResetExhaustions()
	slog.Info("voicemode: enabled", "online", online)
	if c.onEnabled != nil {
		c.onEnabled(true)
	}
	if !online {
		return false
	}
	return c.listen(gen)
}

// Disable turns voice mode off, stopping recognition and speech.
func (c *Controller) Disable() {
	if c.disable() {
		slog.Info("voicemode: disabled")
	}
}

func (c *Controller) disable() bool {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return false
	}
	c.enabled = false
	c.busy = false
	c.halted = false
	c.gen++
	c.pending.Cancel()
	c.pending = nil
	c.mu.Unlock()

	c.rec.StopListening()
	c.speaker.Stop()
	if c.onEnabled != nil {
		c.onEnabled(false)
	}
	return true
}

// Close disables voice mode and releases the controller.
func (c *Controller) Close() {
	c.Disable()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.sched.Close()
	c.cancel()
}

// currentLocked reports whether gen is the active, enabled session.
func (c *Controller) currentLocked(gen uint64) bool {
	return c.enabled && gen == c.gen
}

func (c *Controller) listen(gen uint64) bool {
	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()
	return c.rec.StartListening(recognition.Options{
		Lang:           s.Lang,
		Continuous:     true,
		InterimResults: true,
		OnResult:       func(text string, final bool) { c.handleResult(gen, text, final) },
		OnError:        func(err *voice.Error) { c.handleError(gen, err) },
		OnEnd:          func() { c.scheduleResume(gen) },
	})
}

// ─── Recognition callbacks ───────────────────────────────────────────────────

func (c *Controller) handleResult(gen uint64, text string, final bool) {
	c.mu.Lock()
	if !c.currentLocked(gen) || c.busy {
		c.mu.Unlock()
		return
	}
	text = strings.TrimSpace(text)
	take := final && text != ""
	if take {
		c.busy = true
	}
	c.mu.Unlock()

	if c.onTranscript != nil {
		c.onTranscript(text, final)
	}
	if !take {
		return
	}
	// The tutor's own voice must not be transcribed.
	c.rec.StopListening()
	go c.reply(gen, text)
}

func (c *Controller) handleError(gen uint64, err *voice.Error) {
	c.mu.Lock()
	current := c.currentLocked(gen)
	c.mu.Unlock()
	if !current {
		return
	}
	c.report(err)

	switch {
	case userActionable(err.Type):
		// Stays enabled but idle until the user calls Enable again.
		c.mu.Lock()
		if c.currentLocked(gen) {
			c.halted = true
			c.pending.Cancel()
			c.pending = nil
		}
		c.mu.Unlock()
		slog.Info("voicemode: recognition paused until re-enabled", "type", err.Type)
	case err.Type == voice.TypeUnsupported:
		c.Disable()
	case err.Type == voice.TypeNetwork && err.IsFinal && c.rec.Exhaustions() >= c.maxExhaustions:
		slog.Warn("voicemode: recognition kept failing, turning voice mode off", "exhaustions", c.rec.Exhaustions())
		if c.disable() {
			c.report(voice.Final(voice.TypeNetwork, voice.MsgVoiceModeOff))
		}
	}
}

// userActionable reports whether t needs the user to act before
// recognition can succeed again.
func userActionable(t voice.ErrorType) bool {
	switch t {
	case voice.TypeNotAllowed, voice.TypeAudioCapture, voice.TypeAborted:
		return true
	}
	return false
}

// scheduleResume listens again after the resume delay unless the session
// ended, a reply is in progress, a microphone error needs the user or the
// connection is down.
func (c *Controller) scheduleResume(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(gen) || c.busy || c.halted || !c.online {
		return
	}
	c.pending.Cancel()
	c.pending = c.sched.Schedule(c.resumeDelay, func() { c.resume(gen) })
}

func (c *Controller) resume(gen uint64) {
	c.mu.Lock()
	ok := c.currentLocked(gen) && !c.busy && !c.halted && c.online
	c.pending = nil
	c.mu.Unlock()
	if !ok || c.rec.IsListening() || c.speaker.IsSpeaking() {
		return
	}
	slog.Debug("voicemode: resuming recognition")
	c.listen(gen)
}

func (c *Controller) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	gen, enabled := c.gen, c.enabled
	if !online {
		c.pending.Cancel()
		c.pending = nil
	}
	c.mu.Unlock()

	if !enabled {
		return
	}
	if !online {
		slog.Info("voicemode: connection lost, pausing recognition")
		c.rec.HandleOffline()
		return
	}
	slog.Info("voicemode: connection restored")
	c.scheduleResume(gen)
}

// ─── Replies ─────────────────────────────────────────────────────────────────

func (c *Controller) reply(gen uint64, transcript string) {
	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()

	user := llm.Message{Role: llm.RoleUser, Content: transcript}
	resp, err := c.chat.Complete(c.ctx, api.ChatRequest{
		Messages:    append(c.history.Messages(), user),
		Model:       s.Model,
		Temperature: s.Temperature,
		TutorRole:   string(s.TutorRole),
	})

	c.mu.Lock()
	current := c.currentLocked(gen)
	c.mu.Unlock()
	if !current {
		return
	}
	if err != nil {
		slog.Warn("voicemode: chat request failed", "err", err)
		ve := voice.Normalize(err)
		if ve.Type == voice.TypeUnknown {
			ve = voice.Final(voice.TypeTransport, voice.MsgTransport)
		}
		c.report(ve)
		c.replyDone(gen)
		return
	}

	c.history.Append(user, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	doc := writing.Parse(resp.Content)
	if len(doc.Instructions) > 0 && c.onWriting != nil {
		c.onWriting(doc.Instructions)
	}
	if c.onReply != nil {
		c.onReply(Reply{
			Transcript: transcript,
			Content:    resp.Content,
			Speakable:  doc.Speakable,
			Model:      resp.Model,
			Usage:      resp.Usage,
		})
	}

	spoken := c.speaker.Speak(doc.Speakable, synthesis.SpeakOptions{
		Lang:  s.Lang,
		OnEnd: func() { c.replyDone(gen) },
		OnError: func(err *voice.Error) {
			c.report(err)
			c.replyDone(gen)
		},
	})
	if !spoken {
		c.replyDone(gen)
	}
}

func (c *Controller) replyDone(gen uint64) {
	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.busy = false
	c.mu.Unlock()
	c.scheduleResume(gen)
}

func (c *Controller) report(err *voice.Error) {
	if c.onError != nil {
		c.onError(err)
	}
}
