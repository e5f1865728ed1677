// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxtutor/pkg/audio"
	"github.com/MrWong99/voxtutor/pkg/provider/stt"
)

var (
	_ stt.Provider    = (*NativeProvider)(nil)
	_ stt.Transcriber = (*NativeProvider)(nil)
)

// whisperSampleRate is the only rate whisper.cpp models accept.
const whisperSampleRate = 16000

// NativeProvider implements stt.Provider and stt.Transcriber using the
// whisper.cpp Go bindings. The model is loaded once and shared by all
// sessions; every inference gets its own whisper context.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	seg      segmentConfig
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration that
// closes an utterance in streaming mode. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum utterance length before a
// forced flush. Defaults to 10 000 ms.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.maxBufferDurationMs = ms }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		seg: segmentConfig{
			silenceThresholdMs:  defaultSilenceThresholdMs,
			maxBufferDurationMs: defaultMaxBufferDurationMs,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a segmented transcription session.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	f, lang := streamFormat(cfg, whisperSampleRate, p.language)
	return startSegmentedSession(ctx, p.seg, f, lang, p.infer), nil
}

// Transcribe implements stt.Transcriber. Only WAV input is accepted; it is
// downmixed and resampled to 16 kHz before inference.
func (p *NativeProvider) Transcribe(ctx context.Context, a stt.Audio, opts stt.TranscribeOptions) (string, error) {
	if len(a.Data) == 0 {
		return "", nil
	}
	pcm, f, err := audio.DecodeWAV(a.Data)
	if err != nil {
		return "", fmt.Errorf("whisper: decode upload: %w", err)
	}
	_, lang := streamFormat(stt.StreamConfig{Language: opts.Language}, whisperSampleRate, p.language)
	return p.infer(ctx, pcm, f, lang)
}

// infer converts PCM to 16 kHz mono float32, runs whisper.cpp inference in a
// fresh context and returns the concatenated segment text.
func (p *NativeProvider) infer(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error) {
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
		f.Channels = 1
	}
	pcm = audio.ResampleMono16(pcm, f.SampleRate, whisperSampleRate)
	samples := audio.PCMToFloat32Mono(pcm, f.Channels)

	// Contexts are not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
