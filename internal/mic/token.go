// Package mic arbitrates the single microphone between the components that
// capture audio. Acquisition fails fast; nothing is ever stopped implicitly.
package mic

import (
	"errors"
	"fmt"
	"sync"
)

// Holder names used by the capture components.
const (
	HolderRecognition  = "recognition"
	HolderConversation = "conversation"
)

// ErrBusy is matched (via errors.Is) by every BusyError.
var ErrBusy = errors.New("mic: microphone is busy")

// BusyError reports which component currently owns the microphone.
type BusyError struct {
	Holder string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("mic: microphone is in use by %s", e.Holder)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// Token is a mutual-exclusion token for the microphone. The zero value is
// free and ready to use.
type Token struct {
	mu     sync.Mutex
	holder string
	epoch  uint64
}

// Acquire claims the microphone for holder. It returns a *BusyError when
// any holder, including holder itself, already owns it.
//
// The returned release function is idempotent, and a no-op once the token
// has been acquired again after it.
func (t *Token) Acquire(holder string) (release func(), err error) {
	if holder == "" {
		return nil, errors.New("mic: holder name must not be empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holder != "" {
		return nil, &BusyError{Holder: t.holder}
	}
	t.holder = holder
	t.epoch++
	epoch := t.epoch

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.epoch == epoch {
				t.holder = ""
			}
		})
	}, nil
}

// Holder returns the current owner, or "" when the microphone is free.
func (t *Token) Holder() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holder
}
