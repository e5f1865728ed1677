// Package netstate tracks whether the tutoring server is reachable.
//
// A [Monitor] probes a URL with HEAD requests on an interval. Connectivity is
// assumed until enough consecutive probes fail; the first successful probe
// restores it. Subscribers are told about every transition.
package netstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/clock"
)

const (
	defaultInterval         = 15 * time.Second
	defaultTimeout          = 3 * time.Second
	defaultFailureThreshold = 2
)

// Monitor reports online/offline state. It is safe for concurrent use.
type Monitor struct {
	url       string
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	threshold int
	sched     *clock.Scheduler

	mu       sync.Mutex
	online   bool
	failures int
	subs     map[int]func(online bool)
	nextSub  int
	task     *clock.Task
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe period. Defaults to 15 s.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithTimeout bounds each probe. Defaults to 3 s.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithFailureThreshold sets how many consecutive failed probes mark the
// monitor offline. Defaults to 2.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// WithHTTPClient replaces the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithClock drives the probe schedule from c.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.sched = clock.NewScheduler(c) }
}

// New creates a Monitor for url. It starts online and does not probe until
// Start is called.
func New(url string, opts ...Option) (*Monitor, error) {
	if url == "" {
		return nil, errors.New("netstate: probe URL must not be empty")
	}
	m := &Monitor{
		url:       url,
		client:    http.DefaultClient,
		interval:  defaultInterval,
		timeout:   defaultTimeout,
		threshold: defaultFailureThreshold,
		online:    true,
		subs:      make(map[int]func(bool)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.sched == nil {
		m.sched = clock.NewScheduler(nil)
	}
	if m.threshold < 1 {
		m.threshold = 1
	}
	return m, nil
}

// Start begins periodic probing. Calling Start twice has no effect.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != nil {
		return
	}
	m.task = m.sched.Every(m.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		_ = m.Probe(ctx)
	})
}

// Stop ends periodic probing.
func (m *Monitor) Stop() {
	m.sched.Close()
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for state transitions and returns a function that
// removes it. fn is called outside the monitor's lock.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe checks the URL once and updates the state. Any response below 500
// counts as reachable.
func (m *Monitor) Probe(ctx context.Context) error {
	err := m.head(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	m.record(err == nil)
	return err
}

func (m *Monitor) head(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		return fmt.Errorf("netstate: create probe: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("netstate: probe %s: %w", m.url, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("netstate: probe %s: status %d", m.url, resp.StatusCode)
	}
	return nil
}

// SetOnline forces the state, for platforms that report connectivity
// changes directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if online {
		m.failures = 0
	} else {
		m.failures = m.threshold
	}
	subs := m.setLocked(online)
	m.mu.Unlock()
	notify(subs, online)
}

func (m *Monitor) record(ok bool) {
	m.mu.Lock()
	online := m.online
	if ok {
		m.failures = 0
		online = true
	} else {
		m.failures++
		if m.failures >= m.threshold {
			online = false
		}
	}
	subs := m.setLocked(online)
	m.mu.Unlock()
	notify(subs, online)
}

// setLocked returns the subscribers to notify, or nil when nothing changed.
func (m *Monitor) setLocked(online bool) []func(bool) {
	if m.online == online {
		return nil
	}
	m.online = online
	slog.Info("netstate: connectivity changed", "online", online, "url", m.url)
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(bool), online bool) {
	for _, fn := range subs {
		fn(online)
	}
}
