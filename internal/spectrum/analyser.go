// Package spectrum turns a window of PCM samples into byte-scaled frequency
// magnitudes, matching the behaviour of a browser AnalyserNode: Blackman
// window, FFT, exponential smoothing across frames, and a decibel range mapped
// onto 0..255.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	MinFFTSize     = 32
	MaxFFTSize     = 32768
	DefaultFFTSize = 2048

	defaultSmoothing = 0.8
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
)

// ErrInvalidFFTSize is returned for sizes that are not a power of two inside
// [MinFFTSize, MaxFFTSize].
var ErrInvalidFFTSize = errors.New("fft size must be a power of two between 32 and 32768")

// Analyser keeps the FFT plan, window and per-bin smoothing state for one
// audio source.
type Analyser struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// Option customises an Analyser.
type Option func(*Analyser)

// WithSmoothing sets the time constant applied between frames (0 disables smoothing).
func WithSmoothing(tau float64) Option {
	return func(a *Analyser) {
		if tau < 0 {
			tau = 0
		} else if tau >= 1 {
			tau = 0.999
		}
		a.smoothing = tau
	}
}

// WithDecibelRange sets the dB values mapped to byte 0 and byte 255.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(a *Analyser) {
		if maxDB > minDB {
			a.minDB, a.maxDB = minDB, maxDB
		}
	}
}

// ValidFFTSize reports whether n can be used as an analyser size.
func ValidFFTSize(n int) bool {
	return n >= MinFFTSize && n <= MaxFFTSize && n&(n-1) == 0
}

// New allocates an analyser for the given FFT size.
func New(fftSize int, opts ...Option) (*Analyser, error) {
	if !ValidFFTSize(fftSize) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFFTSize, fftSize)
	}
	ones := make([]float64, fftSize)
	for i := range ones {
		ones[i] = 1
	}
	a := &Analyser{
		fftSize:   fftSize,
		smoothing: defaultSmoothing,
		minDB:     defaultMinDB,
		maxDB:     defaultMaxDB,
		fft:       fourier.NewFFT(fftSize),
		window:    window.Blackman(ones),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FFTSize returns the configured transform length.
func (a *Analyser) FFTSize() int { return a.fftSize }

// BinCount returns fftSize/2.
func (a *Analyser) BinCount() int { return a.fftSize / 2 }

// Reset clears the smoothing history, used when a track is rewound.
func (a *Analyser) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

// ByteFrequencyData analyses the fftSize samples that end just before index
// end and writes BinCount values into dst, growing it when needed. Samples
// before the start of the slice are treated as silence.
func (a *Analyser) ByteFrequencyData(samples []float32, end int, dst []uint8) []uint8 {
	bins := a.BinCount()
	if cap(dst) < bins {
		dst = make([]uint8, bins)
	}
	dst = dst[:bins]

	start := end - a.fftSize
	for i := 0; i < a.fftSize; i++ {
		idx := start + i
		v := 0.0
		if idx >= 0 && idx < len(samples) {
			v = float64(samples[idx])
		}
		a.frame[i] = v * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 1.0 / float64(a.fftSize)
	tau := a.smoothing
	rangeDB := a.maxDB - a.minDB
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeffs[k]) * scale
		s := tau*a.smoothed[k] + (1-tau)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smoothed[k] = s
		dst[k] = toByte(s, a.minDB, rangeDB)
	}
	return dst
}

func toByte(mag, minDB, rangeDB float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := math.Floor(255 * (db - minDB) / rangeDB)
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}
