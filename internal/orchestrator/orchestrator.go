// Package orchestrator runs the speech-to-speech tutoring loop: record a
// question, let the silence detector end the recording, submit it to the
// tutoring server, play the spoken reply and, with auto-conversation on,
// listen again.
//
// The loop is a single state machine (see [State]) driven by events on a
// channel. [Orchestrator.Run] owns every resource; the exported methods only
// post events, so they are safe to call from any goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxtutor/internal/client"
	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/mic"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/silence"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

const (
	defaultRestartDelay = time.Second
	defaultReplyRate    = 24000
	eventBuffer         = 32
)

var (
	// ErrTurnInFlight is returned by Start while a question is being recorded
	// or answered.
	ErrTurnInFlight = errors.New("orchestrator: a turn is already in progress")

	// ErrNotRunning is returned when Run has not been started or has exited.
	ErrNotRunning = errors.New("orchestrator: not running")
)

// Submitter sends a recorded turn to the tutoring server.
type Submitter interface {
	Submit(ctx context.Context, req client.TurnRequest) (*client.TurnResponse, error)
}

var _ Submitter = (*client.PipelineClient)(nil)

// Stopper is anything producing speech that a cancel must silence, such as
// the synthesis engine.
type Stopper interface {
	Stop()
}

// Settings are the per-turn request parameters.
type Settings struct {
	TutorRole      tutor.Role
	Voice          string
	Model          string
	Temperature    *float64
	TTSModel       string
	ResponseFormat string
	Speed          float64
}

// Turn describes a completed exchange, delivered to OnTurn.
type Turn struct {
	ID           string
	Transcript   string
	ResponseText string

	// Speakable is the reply without whiteboard blocks.
	Speakable string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings sets the initial request parameters.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithAutoConversation enables listening again after each reply.
func WithAutoConversation(on bool) Option {
	return func(o *Orchestrator) { o.m.auto = on }
}

// WithRestartDelay sets the grace delay before auto-conversation listens
// again. Defaults to 1 s.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.restartDelay = d }
}

// WithClock drives the restart delay and the silence detector from c.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithSilenceOptions configures the silence detector of each recording.
func WithSilenceOptions(opts ...silence.Option) Option {
	return func(o *Orchestrator) { o.silenceOpts = append(o.silenceOpts, opts...) }
}

// WithMic shares a microphone token with other capture components.
func WithMic(t *mic.Token) Option {
	return func(o *Orchestrator) { o.mic = t }
}

// WithChatContext uses ctx as the rolling chat context.
func WithChatContext(ctx *session.ChatContext) Option {
	return func(o *Orchestrator) { o.chat = ctx }
}

// WithSpeech registers a speech producer that Cancel stops.
func WithSpeech(s Stopper) Option {
	return func(o *Orchestrator) { o.speech = s }
}

// WithMetrics records silence-forced stops on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// OnState is called after every state change.
func OnState(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// OnError is called when a turn fails.
func OnError(fn func(*voice.Error)) Option {
	return func(o *Orchestrator) { o.onError = fn }
}

// OnWriting is called with the whiteboard instructions of each reply that
// carries any.
func OnWriting(fn func([]writing.Instruction)) Option {
	return func(o *Orchestrator) { o.onWriting = fn }
}

// OnTurn is called for each answered question, before its reply plays.
func OnTurn(fn func(Turn)) Option {
	return func(o *Orchestrator) { o.onTurn = fn }
}

// Orchestrator is the conversation loop. Create it with New and start Run on
// its own goroutine.
type Orchestrator struct {
	pipeline     Submitter
	device       audio.Device
	player       audio.Player
	mic          *mic.Token
	chat         *session.ChatContext
	speech       Stopper
	clock        clock.Clock
	sched        *clock.Scheduler
	silenceOpts  []silence.Option
	restartDelay time.Duration
	metrics      *observe.Metrics

	onState   func(State)
	onError   func(*voice.Error)
	onWriting func([]writing.Instruction)
	onTurn    func(Turn)

	events  chan event
	done    chan struct{}
	running sync.Once

	mu       sync.Mutex
	m        machine
	settings Settings

	// Owned by the Run goroutine.
	runCtx       context.Context
	rec          *audio.Recording
	detector     *silence.Detector
	releaseMic   func()
	submitCancel context.CancelFunc
	playCancel   context.CancelFunc
	restart      *clock.Task
}

// New creates an Orchestrator that records from device, submits through
// pipeline and plays replies on player.
func New(pipeline Submitter, device audio.Device, player audio.Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pipeline:     pipeline,
		device:       device,
		player:       player,
		restartDelay: defaultRestartDelay,
		events:       make(chan event, eventBuffer),
		done:         make(chan struct{}),
		m:            machine{state: Idle{}},
		settings:     Settings{TutorRole: tutor.General},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.mic == nil {
		o.mic = &mic.Token{}
	}
	if o.chat == nil {
		o.chat = session.NewChatContext()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	o.sched = clock.NewScheduler(o.clock)
	return o
}

// ─── Public API ──────────────────────────────────────────────────────────────

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.state
}

// ChatContext returns the rolling chat context.
func (o *Orchestrator) ChatContext() *session.ChatContext { return o.chat }

// Settings returns the current request parameters.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// UpdateSettings changes the request parameters from the next submitted turn
// on.
func (o *Orchestrator) UpdateSettings(fn func(*Settings)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.settings)
}

// AutoConversation reports whether auto-conversation is on.
func (o *Orchestrator) AutoConversation() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.auto
}

// SetAutoConversation turns auto-conversation on or off. Turning it off
// cancels a pending restart. The change is applied by the run loop, so
// AutoConversation reports it once Run has processed it.
func (o *Orchestrator) SetAutoConversation(on bool) {
	o.post(autoConversationToggled{on: on})
}

// Start begins recording a question. It returns ErrTurnInFlight while a
// turn is recording or awaiting its answer, and the normalized error when
// the microphone cannot be opened.
func (o *Orchestrator) Start(ctx context.Context) error {
	replyCh := make(chan error, 1)
	if !o.postCtx(ctx, startRequested{turnID: uuid.NewString(), reply: replyCh}) {
		return ErrNotRunning
	}
	select {
	case err := <-replyCh:
		return err
	case <-o.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the recording and submits it. It has no effect in other states.
func (o *Orchestrator) Stop() {
	o.post(stopRequested{})
}

// Cancel abandons the current turn and returns to Idle once every resource
// is released. It never fails; after Run exited it returns immediately.
func (o *Orchestrator) Cancel() {
	done := make(chan struct{})
	if !o.post(cancelRequested{done: done}) {
		return
	}
	select {
	case <-done:
	case <-o.done:
	}
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) post(ev event) bool {
	return o.postCtx(context.Background(), ev)
}

func (o *Orchestrator) postCtx(ctx context.Context, ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ─── Run loop ────────────────────────────────────────────────────────────────

// Run processes events until ctx is cancelled and then releases every
// resource. It must be called once, before any other method that waits on
// the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := false
	o.running.Do(func() { started = true })
	if !started {
		return errors.New("orchestrator: Run called twice")
	}
	o.runCtx = ctx
	defer close(o.done)
	defer o.teardown()

	slog.Info("orchestrator: conversation loop started", "auto_conversation", o.AutoConversation())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.dispatch(ev)
		}
	}
}

// dispatch applies ev and every event its effects produce synchronously.
func (o *Orchestrator) dispatch(ev event) {
	queue := []event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]

		o.mu.Lock()
		prev := o.m.state
		next, effects := transition(o.m, ev)
		o.m = next
		o.mu.Unlock()

		if next.state != prev {
			slog.Debug("orchestrator: state changed", "from", prev.String(), "to", next.state.String())
			if o.onState != nil {
				o.onState(next.state)
			}
		}
		for _, eff := range effects {
			if follow := o.execute(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
}

// execute carries out one effect and returns the event it produced
// synchronously, if any.
func (o *Orchestrator) execute(eff effect) event {
	switch eff := eff.(type) {
	case startRecording:
		if err := o.openRecording(eff.turnID); err != nil {
			return recordingFailed{turnID: eff.turnID, err: err, reply: eff.reply}
		}
		return recordingStarted{turnID: eff.turnID, reply: eff.reply}

	case reply:
		eff.ch <- eff.err

	case stopRecording:
		return recordingStopped{turnID: eff.turnID, audio: o.closeRecording(true)}

	case abortRecording:
		o.closeRecording(false)

	case submitTurn:
		o.submit(eff.turnID, eff.audio)

	case cancelSubmit:
		if o.submitCancel != nil {
			o.submitCancel()
			o.submitCancel = nil
		}

	case commitContext:
		o.chat.Replace(eff.msgs)

	case publish:
		if len(eff.doc.Instructions) > 0 && o.onWriting != nil {
			o.onWriting(eff.doc.Instructions)
		}
		if o.onTurn != nil {
			o.onTurn(Turn{
				ID:           eff.turnID,
				Transcript:   eff.resp.Transcript,
				ResponseText: eff.resp.ResponseText,
				Speakable:    eff.doc.Speakable,
			})
		}

	case playReply:
		return o.play(eff.turnID, eff.audio, eff.format)

	case stopPlayback:
		if o.playCancel != nil {
			o.playCancel()
			o.playCancel = nil
			o.player.Stop()
		}
		if o.speech != nil {
			o.speech.Stop()
		}

	case scheduleRestart:
		o.restart.Cancel()
		o.restart = o.sched.Schedule(o.restartDelay, func() {
			o.post(restartFired{turnID: uuid.NewString()})
		})

	case cancelRestart:
		o.restart.Cancel()
		o.restart = nil

	case reportError:
		slog.Warn("orchestrator: turn failed", "type", string(eff.err.Type), "message", eff.err.Message)
		if o.onError != nil {
			o.onError(eff.err)
		}

	case signalDone:
		close(eff.ch)
	}
	return nil
}

func (o *Orchestrator) openRecording(turnID string) error {
	release, err := o.mic.Acquire(mic.HolderConversation)
	if err != nil {
		return voice.Normalize(err)
	}
	rec, err := audio.Record(o.runCtx, o.device)
	if err != nil {
		release()
		return voice.Normalize(err)
	}
	o.rec, o.releaseMic = rec, release

	opts := append([]silence.Option{silence.WithClock(o.clock)}, o.silenceOpts...)
	o.detector = silence.ForRecording(rec, func() {
		if o.metrics != nil {
			o.metrics.SilenceStops.Add(context.Background(), 1)
		}
		o.post(silenceDetected{turnID: turnID})
	}, opts...)
	o.detector.Start()
	slog.Debug("orchestrator: recording", "turn", turnID)
	return nil
}

// closeRecording releases the microphone and returns the captured WAV when
// keep is set.
func (o *Orchestrator) closeRecording(keep bool) []byte {
	if o.rec == nil {
		return nil
	}
	o.detector.Stop()
	var wav []byte
	if keep {
		wav = o.rec.Stop()
	} else {
		o.rec.Abort()
	}
	o.releaseMic()
	o.rec, o.detector, o.releaseMic = nil, nil, nil
	return wav
}

func (o *Orchestrator) submit(turnID string, wav []byte) {
	s := o.Settings()
	req := client.TurnRequest{
		Audio:          wav,
		TutorRole:      s.TutorRole,
		Context:        o.chat.Messages(),
		Voice:          s.Voice,
		Model:          s.Model,
		Temperature:    s.Temperature,
		TTSModel:       s.TTSModel,
		ResponseFormat: s.ResponseFormat,
		Speed:          s.Speed,
	}
	ctx, cancel := context.WithCancel(o.runCtx)
	o.submitCancel = cancel

	go func() {
		defer cancel()
		start := time.Now()
		resp, err := o.pipeline.Submit(ctx, req)
		if err != nil {
			slog.Warn("orchestrator: submit turn", "turn", turnID, "err", err)
			o.post(requestFailed{turnID: turnID, err: err})
			return
		}
		slog.Info("orchestrator: turn answered", "turn", turnID,
			"server_turn", resp.TurnID, "latency", time.Since(start), "audio_bytes", len(resp.Audio))
		o.post(responseReceived{turnID: turnID, resp: resp})
	}()
}

// play starts playback on its own goroutine. An empty reply ends at once.
func (o *Orchestrator) play(turnID string, data []byte, format string) event {
	if len(data) == 0 {
		return playbackEnded{turnID: turnID}
	}
	clip, err := audio.DecodeClip(data, tts.ContentType(format), audio.Format{SampleRate: defaultReplyRate, Channels: 1})
	if err != nil {
		return playbackFailed{turnID: turnID, err: fmt.Errorf("orchestrator: decode reply: %w", err)}
	}
	ctx, cancel := context.WithCancel(o.runCtx)
	o.playCancel = cancel
	go func() {
		defer cancel()
		err := o.player.Play(ctx, clip)
		switch {
		case err == nil:
			o.post(playbackEnded{turnID: turnID})
		case errors.Is(err, audio.ErrStopped), ctx.Err() != nil:
			// Superseded by cancel or a new turn.
		default:
			o.post(playbackFailed{turnID: turnID, err: err})
		}
	}()
	return nil
}

// teardown releases everything when Run exits.
func (o *Orchestrator) teardown() {
	o.sched.Close()
	o.closeRecording(false)
	if o.submitCancel != nil {
		o.submitCancel()
	}
	if o.playCancel != nil {
		o.playCancel()
		o.player.Stop()
	}
	o.mu.Lock()
	o.m.state = Idle{}
	o.mu.Unlock()
	slog.Info("orchestrator: conversation loop stopped")
}
