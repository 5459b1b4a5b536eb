package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser settings, matching a browser AnalyserNode with default options.
const (
	FFTSize               = 256
	SmoothingTimeConstant = 0.8
	MinDecibels           = -100.0
	MaxDecibels           = -30.0
)

// Analyser computes smoothed byte magnitudes over the most recent FFTSize
// samples played by the owning context.
type Analyser struct {
	window func(dst []float64)

	mu       sync.Mutex
	fft      *fourier.FFT
	blackman []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyser(window func(dst []float64)) *Analyser {
	a := &Analyser{
		window:   window,
		fft:      fourier.NewFFT(FFTSize),
		blackman: make([]float64, FFTSize),
		frame:    make([]float64, FFTSize),
		smoothed: make([]float64, FFTSize/2),
	}
	const alpha = 0.16
	for i := range a.blackman {
		x := 2 * math.Pi * float64(i) / FFTSize
		a.blackman[i] = (1-alpha)/2 - 0.5*math.Cos(x) + alpha/2*math.Cos(2*x)
	}
	return a
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return FFTSize / 2
}

// ByteFrequencyData fills dst with magnitudes scaled to 0..255 and returns
// the number of bins written.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.frame)
	for i := range a.frame {
		a.frame[i] *= a.blackman[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	n := len(dst)
	if n > len(a.smoothed) {
		n = len(a.smoothed)
	}

	const scale = 255 / (MaxDecibels - MinDecibels)
	for k := range a.smoothed {
		magnitude := cmplx.Abs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = SmoothingTimeConstant*a.smoothed[k] + (1-SmoothingTimeConstant)*magnitude
		if k >= n {
			continue
		}

		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - MinDecibels))
		switch {
		case math.IsNaN(v) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
	return n
}
