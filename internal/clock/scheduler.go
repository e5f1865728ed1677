package clock

import (
	"sync"
	"time"
)

// Scheduler owns a group of cancellable tasks created from one Clock.
//
// CancelAll and Close invalidate every task created before the call, even a
// task whose timer already expired and is waiting for the scheduler lock.
// Callbacks never run while the scheduler lock is held, so a callback may
// freely schedule or cancel other tasks.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	gen    uint64
	closed bool
	tasks  map[*Task]struct{}
}

// Task is a handle to one scheduled callback.
type Task struct {
	s     *Scheduler
	gen   uint64
	every time.Duration
	f     func()
	timer Timer
	done  bool
}

// NewScheduler creates a Scheduler on c. A nil c selects Real().
func NewScheduler(c Clock) *Scheduler {
	if c == nil {
		c = Real()
	}
	return &Scheduler{clock: c, tasks: make(map[*Task]struct{})}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock { return s.clock }

// Schedule runs f once after d. After Close it returns an already cancelled
// task.
func (s *Scheduler) Schedule(d time.Duration, f func()) *Task {
	return s.schedule(d, 0, f)
}

// Every runs f every d until the task is cancelled. The first run happens
// after d.
func (s *Scheduler) Every(d time.Duration, f func()) *Task {
	return s.schedule(d, d, f)
}

func (s *Scheduler) schedule(d, every time.Duration, f func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Task{s: s, gen: s.gen, every: every, f: f}
	if s.closed {
		t.done = true
		return t
	}
	s.tasks[t] = struct{}{}
	// Neither clock implementation calls f synchronously, so arming under
	// the lock is safe.
	t.timer = s.clock.AfterFunc(d, t.fire)
	return t
}

func (t *Task) fire() {
	s := t.s
	s.mu.Lock()
	if t.done || t.gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	if t.every == 0 {
		t.done = true
		delete(s.tasks, t)
	}
	s.mu.Unlock()

	t.f()

	if t.every == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.done && t.gen == s.gen && !s.closed {
		t.timer = s.clock.AfterFunc(t.every, t.fire)
	}
}

// Cancel prevents the task from running (again). It reports whether the task
// was still pending. Safe to call more than once and from inside the task's
// own callback.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	delete(s.tasks, t)
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Pending reports whether the task can still run.
func (t *Task) Pending() bool {
	if t == nil {
		return false
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return !t.done && t.gen == t.s.gen && !t.s.closed
}

// CancelAll cancels every outstanding task. Tasks scheduled afterwards run
// normally.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

func (s *Scheduler) cancelAllLocked() {
	s.gen++
	for t := range s.tasks {
		t.done = true
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, t)
	}
}

// Close cancels every task and rejects new ones. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
	s.closed = true
}

// Len returns the number of outstanding tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
