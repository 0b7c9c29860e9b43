// Package visualizer turns the live call's remote audio into frequency bars.
package visualizer

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/ashureev/calldesk/internal/media"
)

// Analyser parameters. They mirror a browser AnalyserNode with fftSize 64.
const (
	FFTSize            = 64
	BinCount           = FFTSize / 2
	SmoothingTimeConst = 0.8
	MinDecibels        = -100.0
	MaxDecibels        = -30.0
)

// FrequencySource produces byte frequency data for one stream.
type FrequencySource interface {
	ByteFrequencyData(dst []uint8) int
	Close()
}

// Analyser computes smoothed byte frequency bins from a stream's most recent
// FFTSize samples.
type Analyser struct {
	stream media.Stream

	mu       sync.Mutex
	fft      *fourier.FFT
	window   []float64
	samples  []float64
	coeffs   []complex128
	smoothed []float64
	closed   bool
}

// NewAnalyser attaches an analyser to s.
func NewAnalyser(s media.Stream) *Analyser {
	win := make([]float64, FFTSize)
	for i := range win {
		win[i] = 1
	}
	window.Blackman(win)

	return &Analyser{
		stream:   s,
		fft:      fourier.NewFFT(FFTSize),
		window:   win,
		samples:  make([]float64, FFTSize),
		smoothed: make([]float64, BinCount),
	}
}

// ByteFrequencyData fills dst with up to BinCount bins scaled to 0..255.
// It returns the number of bins written, 0 once closed.
func (a *Analyser) ByteFrequencyData(dst []uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0
	}

	for i := range a.samples {
		a.samples[i] = 0
	}
	// Right-align so a short history is zero-padded at the front.
	buf := make([]float64, FFTSize)
	n := a.stream.Samples(buf)
	copy(a.samples[FFTSize-n:], buf[:n])
	for i := range a.samples {
		a.samples[i] *= a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.samples)

	out := BinCount
	if len(dst) < out {
		out = len(dst)
	}
	scale := 255 / (MaxDecibels - MinDecibels)
	for k := 0; k < BinCount; k++ {
		mag := cmplxAbs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = SmoothingTimeConst*a.smoothed[k] + (1-SmoothingTimeConst)*mag
		if k >= out {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := (db - MinDecibels) * scale
		dst[k] = uint8(math.Max(0, math.Min(255, v)))
	}
	return out
}

// Close releases the analyser. Further reads return no data.
func (a *Analyser) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
