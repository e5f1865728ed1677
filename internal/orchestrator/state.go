package orchestrator

import (
	"strings"

	"github.com/MrWong99/voxtutor/internal/client"
	"github.com/MrWong99/voxtutor/internal/voice"
	"github.com/MrWong99/voxtutor/internal/writing"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

// ─── States ──────────────────────────────────────────────────────────────────

// State is one of Idle, Recording, AwaitingResponse, Playing or Failed.
type State interface {
	String() string

	// turn returns the turn the state belongs to, or "".
	turn() string
}

// Idle waits for a start. RestartPending is set while the auto-conversation
// grace delay runs.
type Idle struct {
	RestartPending bool
}

// Recording captures the student's question.
type Recording struct {
	TurnID string
}

// AwaitingResponse waits for the tutoring server.
type AwaitingResponse struct {
	TurnID string
}

// Playing plays the spoken reply.
type Playing struct {
	TurnID string
}

// Failed ended the last turn with an error. A new turn may start at any
// time.
type Failed struct {
	Message string
}

func (Idle) turn() string               { return "" }
func (s Recording) turn() string        { return s.TurnID }
func (s AwaitingResponse) turn() string { return s.TurnID }
func (s Playing) turn() string          { return s.TurnID }
func (Failed) turn() string             { return "" }

func (s Idle) String() string {
	if s.RestartPending {
		return "idle (restart pending)"
	}
	return "idle"
}
func (Recording) String() string        { return "recording" }
func (AwaitingResponse) String() string { return "awaiting-response" }
func (Playing) String() string          { return "playing" }
func (Failed) String() string           { return "failed" }

// inFlight reports whether s blocks a new turn.
func inFlight(s State) bool {
	switch s.(type) {
	case Recording, AwaitingResponse:
		return true
	}
	return false
}

// ─── Events ──────────────────────────────────────────────────────────────────

type event interface{ event() }

type (
	startRequested struct {
		turnID string
		reply  chan<- error
	}
	stopRequested    struct{}
	silenceDetected  struct{ turnID string }
	recordingStarted struct {
		turnID string
		reply  chan<- error
	}
	recordingFailed struct {
		turnID string
		err    error
		reply  chan<- error
	}
	recordingStopped struct {
		turnID string
		audio  []byte
	}
	responseReceived struct {
		turnID string
		resp   *client.TurnResponse
	}
	requestFailed struct {
		turnID string
		err    error
	}
	playbackEnded  struct{ turnID string }
	playbackFailed struct {
		turnID string
		err    error
	}
	restartFired            struct{ turnID string }
	cancelRequested         struct{ done chan<- struct{} }
	autoConversationToggled struct{ on bool }
)

func (startRequested) event()          {}
func (stopRequested) event()           {}
func (silenceDetected) event()         {}
func (recordingStarted) event()        {}
func (recordingFailed) event()         {}
func (recordingStopped) event()        {}
func (responseReceived) event()        {}
func (requestFailed) event()           {}
func (playbackEnded) event()           {}
func (playbackFailed) event()          {}
func (restartFired) event()            {}
func (cancelRequested) event()         {}
func (autoConversationToggled) event() {}

// ─── Effects ─────────────────────────────────────────────────────────────────

type effect interface{ effect() }

type (
	// startRecording opens the microphone and reports back with
	// recordingStarted or recordingFailed, which answer reply.
	startRecording struct {
		turnID string
		reply  chan<- error
	}
	reply struct {
		ch  chan<- error
		err error
	}
	stopRecording  struct{ turnID string }
	abortRecording struct{}
	submitTurn     struct {
		turnID string
		audio  []byte
	}
	cancelSubmit  struct{}
	commitContext struct{ msgs []llm.Message }
	publish       struct {
		turnID string
		resp   *client.TurnResponse
		doc    writing.Document
	}
	playReply struct {
		turnID string
		audio  []byte
		format string
	}
	stopPlayback    struct{}
	scheduleRestart struct{}
	cancelRestart   struct{}
	reportError     struct{ err *voice.Error }
	signalDone      struct{ ch chan<- struct{} }
)

func (startRecording) effect()  {}
func (reply) effect()           {}
func (stopRecording) effect()   {}
func (abortRecording) effect()  {}
func (submitTurn) effect()      {}
func (cancelSubmit) effect()    {}
func (commitContext) effect()   {}
func (publish) effect()         {}
func (playReply) effect()       {}
func (stopPlayback) effect()    {}
func (scheduleRestart) effect() {}
func (cancelRestart) effect()   {}
func (reportError) effect()     {}
func (signalDone) effect()      {}

// ─── Transition ──────────────────────────────────────────────────────────────

// machine is the complete input of transition.
type machine struct {
	state State
	auto  bool
}

// transition is the conversation state machine. It has no side effects; the
// returned effects are carried out by the run loop in order. Events that
// name a turn other than the current one are stale and ignored.
func transition(m machine, ev event) (machine, []effect) {
	switch ev := ev.(type) {
	case startRequested:
		if inFlight(m.state) {
			return m, []effect{reply{ch: ev.reply, err: ErrTurnInFlight}}
		}
		var effs []effect
		switch s := m.state.(type) {
		case Idle:
			if s.RestartPending {
				effs = append(effs, cancelRestart{})
			}
		case Playing:
			effs = append(effs, stopPlayback{})
		}
		m.state = Recording{TurnID: ev.turnID}
		return m, append(effs, startRecording{turnID: ev.turnID, reply: ev.reply})

	case restartFired:
		if s, ok := m.state.(Idle); !ok || !s.RestartPending {
			return m, nil
		}
		m.state = Recording{TurnID: ev.turnID}
		return m, []effect{startRecording{turnID: ev.turnID}}

	case recordingStarted:
		return m, replyTo(ev.reply, nil)

	case recordingFailed:
		ve := voice.Normalize(ev.err)
		if !isTurn[Recording](m.state, ev.turnID) {
			return m, replyTo(ev.reply, ve)
		}
		next, effs := failed(m, ve)
		return next, append(effs, replyTo(ev.reply, ve)...)

	case stopRequested:
		s, ok := m.state.(Recording)
		if !ok {
			return m, nil
		}
		m.state = AwaitingResponse{TurnID: s.TurnID}
		return m, []effect{stopRecording{turnID: s.TurnID}}

	case silenceDetected:
		if !isTurn[Recording](m.state, ev.turnID) {
			return m, nil
		}
		m.state = AwaitingResponse{TurnID: ev.turnID}
		return m, []effect{stopRecording{turnID: ev.turnID}}

	case recordingStopped:
		if !isTurn[AwaitingResponse](m.state, ev.turnID) {
			return m, nil
		}
		return m, []effect{submitTurn{turnID: ev.turnID, audio: ev.audio}}

	case responseReceived:
		if !isTurn[AwaitingResponse](m.state, ev.turnID) {
			return m, nil
		}
		if strings.TrimSpace(ev.resp.Transcript) == "" {
			return failed(m, voice.Final(voice.TypeNoSpeech, voice.MsgNoSpeechTurn))
		}
		m.state = Playing{TurnID: ev.turnID}
		return m, []effect{
			commitContext{msgs: ev.resp.Context},
			publish{turnID: ev.turnID, resp: ev.resp, doc: writing.Parse(ev.resp.ResponseText)},
			playReply{turnID: ev.turnID, audio: ev.resp.Audio, format: ev.resp.Format},
		}

	case requestFailed:
		if !isTurn[AwaitingResponse](m.state, ev.turnID) {
			return m, nil
		}
		return failed(m, transportError(ev.err))

	case playbackEnded:
		if !isTurn[Playing](m.state, ev.turnID) {
			return m, nil
		}
		if m.auto {
			m.state = Idle{RestartPending: true}
			return m, []effect{scheduleRestart{}}
		}
		m.state = Idle{}
		return m, nil

	case playbackFailed:
		if !isTurn[Playing](m.state, ev.turnID) {
			return m, nil
		}
		return failed(m, voice.Final(voice.TypePlayback, voice.MsgPlayback))

	case cancelRequested:
		m.state = Idle{}
		return m, []effect{
			cancelRestart{},
			abortRecording{},
			cancelSubmit{},
			stopPlayback{},
			signalDone{ch: ev.done},
		}

	case autoConversationToggled:
		m.auto = ev.on
		if s, ok := m.state.(Idle); ok && s.RestartPending && !ev.on {
			m.state = Idle{}
			return m, []effect{cancelRestart{}}
		}
		return m, nil
	}
	return m, nil
}

func replyTo(ch chan<- error, err error) []effect {
	if ch == nil {
		return nil
	}
	return []effect{reply{ch: ch, err: err}}
}

func failed(m machine, err *voice.Error) (machine, []effect) {
	m.state = Failed{Message: err.Message}
	return m, []effect{abortRecording{}, reportError{err: err}}
}

// isTurn reports whether s is the state variant T for turnID.
func isTurn[T State](s State, turnID string) bool {
	v, ok := s.(T)
	return ok && v.turn() == turnID
}

func transportError(err error) *voice.Error {
	ve := voice.Normalize(err)
	if ve.Type == voice.TypeUnknown {
		return voice.Final(voice.TypeTransport, voice.MsgTransport)
	}
	return ve
}
