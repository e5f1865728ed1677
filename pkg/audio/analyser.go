package audio

import (
	"math"
	"math/cmplx"
	"sync"
)

// Analyser defaults mirror a Web Audio AnalyserNode so that energy values and
// thresholds are comparable with browser-based clients.
const (
	DefaultFFTSize   = 2048
	DefaultSmoothing = 0.8
	minDecibels      = -100.0
	maxDecibels      = -30.0
)

// AnalyserOption configures an Analyser.
type AnalyserOption func(*Analyser)

// WithFFTSize sets the analysis window in samples. Must be a power of two.
func WithFFTSize(n int) AnalyserOption {
	return func(a *Analyser) {
		if n >= 32 && n&(n-1) == 0 {
			a.size = n
		}
	}
}

// WithSmoothing sets the time-smoothing constant in [0, 1).
func WithSmoothing(s float64) AnalyserOption {
	return func(a *Analyser) {
		if s >= 0 && s < 1 {
			a.smoothing = s
		}
	}
}

// Analyser keeps the most recent window of captured audio and reports its
// frequency-domain energy. Feed and ByteFrequencyEnergy may be called from
// different goroutines.
type Analyser struct {
	mu        sync.Mutex
	size      int
	smoothing float64
	window    []float64
	ring      []float64
	pos       int
	smoothed  []float64
	closed    bool
}

// NewAnalyser creates an Analyser.
func NewAnalyser(opts ...AnalyserOption) *Analyser {
	a := &Analyser{size: DefaultFFTSize, smoothing: DefaultSmoothing}
	for _, o := range opts {
		o(a)
	}
	a.ring = make([]float64, a.size)
	a.smoothed = make([]float64, a.size/2)
	a.window = blackman(a.size)
	return a
}

// Feed appends a captured frame to the analysis window. Frames fed after Close
// are ignored.
func (a *Analyser) Feed(frame AudioFrame) {
	samples := PCMToFloat32Mono(frame.Data, frame.Channels)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.size
	}
}

// ByteFrequencyEnergy returns the average of the byte-scaled frequency bins of
// the current window: each bin's smoothed magnitude in dB is mapped linearly
// from [-100, -30] dB onto [0, 255]. Silence reads 0.
func (a *Analyser) ByteFrequencyEnergy() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0
	}

	buf := make([]complex128, a.size)
	for i := range a.size {
		buf[i] = complex(a.ring[(a.pos+i)%a.size]*a.window[i], 0)
	}
	fft(buf)

	var sum float64
	for k := range a.smoothed {
		mag := cmplx.Abs(buf[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		sum += byteFromDecibels(20 * math.Log10(a.smoothed[k]))
	}
	return sum / float64(len(a.smoothed))
}

// Close releases the analyser. Subsequent reads return 0.
func (a *Analyser) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (a *Analyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func byteFromDecibels(db float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	v := math.Floor(255 / (maxDecibels - minDecibels) * (db - minDecibels))
	return math.Max(0, math.Min(255, v))
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range n {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform. len(x) must be a
// power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := range size / 2 {
				u := x[start+k]
				v := x[start+k+size/2] * w
				x[start+k] = u + v
				x[start+k+size/2] = u - v
				w *= step
			}
		}
	}
}
