package whisper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// inferFunc transcribes one buffered utterance of 16-bit PCM.
type inferFunc func(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error)

// segmentConfig holds the utterance segmentation parameters shared by the
// HTTP and native providers.
type segmentConfig struct {
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// segmentedSession simulates streaming on top of a batch engine: incoming PCM
// is buffered, an energy-based silence detector closes each utterance, and the
// utterance is transcribed as a whole. whisper.cpp cannot produce true
// partials, so each committed utterance is emitted as a partial and a final
// with the same text.
//
// All buffering state is confined to the processLoop goroutine.
type segmentedSession struct {
	cfg      segmentConfig
	format   audio.Format
	language string
	infer    inferFunc

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript
	started  time.Time

	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func startSegmentedSession(ctx context.Context, cfg segmentConfig, f audio.Format, language string, infer inferFunc) *segmentedSession {
	s := &segmentedSession{
		cfg:      cfg,
		format:   f,
		language: language,
		infer:    infer,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		started:  time.Now(),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// SendAudio queues a chunk of raw 16-bit little-endian PCM for silence
// analysis and buffering.
func (s *segmentedSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.exited:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.exited:
		return stt.ErrSessionClosed
	}
}

func (s *segmentedSession) Partials() <-chan stt.Transcript { return s.partials }
func (s *segmentedSession) Finals() <-chan stt.Transcript   { return s.finals }

// Err returns the inference error that ended the session, if any.
func (s *segmentedSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes any pending speech for a final transcription, closes the
// transcript channels and releases resources. Safe to call more than once.
func (s *segmentedSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *segmentedSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.exited)
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
		utterance time.Duration
	)

	bytesPerMs := s.format.SampleRate * s.format.Channels * 2 / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz, mono, 16-bit
	}
	maxBufferBytes := s.cfg.maxBufferDurationMs * bytesPerMs

	// flush transcribes the buffered utterance. It reports false when the
	// engine failed, which ends the session.
	flush := func(fctx context.Context) bool {
		pcm, speech, at := buffer, hadSpeech, utterance
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return true
		}

		text, err := s.infer(fctx, pcm, s.format, s.language)
		if err != nil {
			if fctx.Err() == nil {
				slog.Warn("whisper: inference failed", "err", err)
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return false
		}
		if text == "" {
			return true
		}

		// Channels are buffered; drop rather than deadlock during shutdown.
		select {
		case s.partials <- stt.Transcript{Text: text, Timestamp: at}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true, Timestamp: at}:
		default:
		}
		return true
	}

	// finalFlush uses a fresh context since ctx may already be cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return

		case <-s.done:
			finalFlush()
			return

		case chunk := <-s.audioCh:
			chunkMs := audio.DurationMs(chunk, s.format)

			if audio.RMS(chunk) < defaultRMSThreshold {
				// Leading silence before any speech is discarded.
				if !hadSpeech {
					continue
				}
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.cfg.silenceThresholdMs && !flush(ctx) {
					return
				}
				continue
			}

			if !hadSpeech {
				utterance = time.Since(s.started)
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes && !flush(ctx) {
				return
			}
		}
	}
}

var _ stt.SessionHandle = (*segmentedSession)(nil)
