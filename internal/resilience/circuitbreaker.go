// Package resilience protects calls to remote providers and the tutoring
// server.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// rejects calls for a while after repeated failures. [FallbackGroup] chains
// several instances of one provider type, each behind its own breaker, and the
// LLM, transcription, speech and streaming wrappers in this package expose a
// group as the provider interface itself.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/clock"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the tuning knobs of a [CircuitBreaker]. Zero
// values select the defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and errors.
	Name string `yaml:"-"`

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls admitted in the half-open
	// state, and the number of successes needed to close. Default: 3.
	HalfOpenMax int `yaml:"half_open_max"`

	// IsFailure decides whether an error counts against the breaker. The
	// default counts every error except context cancellation.
	IsFailure func(error) bool `yaml:"-"`

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Clock defaults to the wall clock.
	Clock clock.Clock `yaml:"-"`
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

// countsAsFailure ignores errors the caller caused by giving up.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a closed [CircuitBreaker].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits the call. A rejected call returns an
// error wrapping [ErrCircuitOpen] and fn is not run.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, change, err := cb.admit()
	cb.notify(change)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	if callErr != nil && cb.cfg.IsFailure(callErr) {
		change = cb.onFailureLocked(probe)
	} else {
		change = cb.onSuccessLocked(probe)
	}
	cb.mu.Unlock()
	cb.notify(change)
	return callErr
}

// Do is Execute for context-aware calls. A cancelled ctx is returned without
// consulting the breaker.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cb.Execute(func() error { return fn(ctx) })
}

type transition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probe bool, change *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Clock.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, fmt.Errorf("resilience: %s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		change = cb.setLocked(StateHalfOpen)
		cb.probes, cb.probeSuccesses = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, change, fmt.Errorf("resilience: %s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.probes++
		return true, change, nil
	}
	return false, change, nil
}

func (cb *CircuitBreaker) onFailureLocked(probe bool) *transition {
	if probe || cb.state == StateHalfOpen {
		cb.openedAt = cb.cfg.Clock.Now()
		return cb.setLocked(StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Clock.Now()
		return cb.setLocked(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) onSuccessLocked(probe bool) *transition {
	if !probe {
		cb.consecutiveFail = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.probeSuccesses++
	if cb.probeSuccesses < cb.cfg.HalfOpenMax {
		return nil
	}
	cb.consecutiveFail = 0
	return cb.setLocked(StateClosed)
}

func (cb *CircuitBreaker) setLocked(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit breaker state changed",
		"name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.setLocked(StateClosed)
	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
	cb.mu.Unlock()
	cb.notify(change)
}
