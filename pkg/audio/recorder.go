package audio

import (
	"context"
	"fmt"
	"sync"
)

// Recording captures microphone audio until stopped, feeding every frame to an
// Analyser for live level monitoring.
type Recording struct {
	capture  Capture
	analyser *Analyser

	mu  sync.Mutex
	pcm []byte

	done     chan struct{}
	stopOnce sync.Once
}

// Record opens dev and starts buffering its frames.
func Record(ctx context.Context, dev Device, opts ...AnalyserOption) (*Recording, error) {
	capture, err := dev.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("audio: open microphone: %w", err)
	}
	r := &Recording{
		capture:  capture,
		analyser: NewAnalyser(opts...),
		done:     make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Recording) run() {
	defer close(r.done)
	for frame := range r.capture.Frames() {
		r.analyser.Feed(frame)
		r.mu.Lock()
		r.pcm = append(r.pcm, frame.Data...)
		r.mu.Unlock()
	}
}

// Analyser returns the live analyser of this recording.
func (r *Recording) Analyser() *Analyser { return r.analyser }

// Tracks returns the capture tracks.
func (r *Recording) Tracks() []Track { return r.capture.Tracks() }

// Format reports the format of the buffered PCM.
func (r *Recording) Format() Format { return r.capture.Format() }

// Stop releases the microphone and returns everything captured as a WAV file.
// Calling Stop again returns the same audio.
func (r *Recording) Stop() []byte {
	r.release()
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return EncodeWAV(r.pcm, r.capture.Format())
}

// Abort releases the microphone and discards the captured audio.
func (r *Recording) Abort() {
	r.release()
	<-r.done
	r.mu.Lock()
	r.pcm = nil
	r.mu.Unlock()
}

func (r *Recording) release() {
	r.stopOnce.Do(func() {
		for _, t := range r.capture.Tracks() {
			t.Stop()
		}
		_ = r.analyser.Close()
	})
}
