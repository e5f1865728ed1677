package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of 16-bit PCM in sample units
// (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMs returns the length of a PCM chunk in milliseconds.
func DurationMs(pcm []byte, f Format) int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return len(pcm) * 1000 / (f.SampleRate * f.Channels * 2)
}

// PCMToFloat32Mono converts 16-bit PCM to mono float32 samples in [-1, 1],
// averaging channels per frame.
func PCMToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(sampleAt(pcm, i*channels+ch)) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ApplyGain scales 16-bit PCM by gain with clipping. Gain 1 returns pcm as is.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1 {
		return pcm
	}
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain
		v = math.Max(-32768, math.Min(32767, v))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}
