// Package dsp computes the features shown for a clip: duration, a magnitude
// spectrogram, an onset envelope and a tempo estimate with beat positions.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Default short-time Fourier transform parameters.
const (
	DefaultNFFT = 2048
	DefaultHop  = 512
)

// ErrNoSamples is returned when a transform is asked to run on an empty signal.
var ErrNoSamples = errors.New("signal has no samples")

// StftConfig holds the framing parameters of a short-time Fourier transform.
type StftConfig struct {
	NFFT int // window and FFT length
	Hop  int // samples between frame starts
}

// DefaultStftConfig returns the 2048/512 framing used for analysis.
func DefaultStftConfig() StftConfig {
	return StftConfig{NFFT: DefaultNFFT, Hop: DefaultHop}
}

func (c StftConfig) validate() error {
	if c.NFFT < 2 {
		return fmt.Errorf("n_fft must be at least 2, got %d", c.NFFT)
	}
	if c.Hop < 1 {
		return fmt.Errorf("hop length must be positive, got %d", c.Hop)
	}
	return nil
}

// Spectrogram is a magnitude (or dB) spectrogram stored frame by frame.
// Frames[t][k] is the value of frequency bin k in frame t.
type Spectrogram struct {
	Frames     [][]float64
	NFFT       int
	Hop        int
	SampleRate int
}

// NumFrames returns the number of time frames.
func (s *Spectrogram) NumFrames() int {
	return len(s.Frames)
}

// NumBins returns the number of frequency bins per frame.
func (s *Spectrogram) NumBins() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// FrameTime returns the centre time of frame t in seconds.
func (s *Spectrogram) FrameTime(t int) float64 {
	return float64(t*s.Hop) / float64(s.SampleRate)
}

// BinFrequency returns the centre frequency of bin k in Hz.
func (s *Spectrogram) BinFrequency(k int) float64 {
	return float64(k*s.SampleRate) / float64(s.NFFT)
}

// Max returns the largest value in the spectrogram.
func (s *Spectrogram) Max() float64 {
	peak := math.Inf(-1)
	for _, frame := range s.Frames {
		for _, v := range frame {
			peak = max(peak, v)
		}
	}
	return peak
}

// HannWindow returns a periodic Hann window of length n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// STFT computes the magnitude spectrogram of y. Frames are centred: the
// signal is zero padded by NFFT/2 on both sides, so frame t is centred on
// sample t*Hop and there are 1+len(y)/Hop frames of NFFT/2+1 bins.
func STFT(y []float32, rate int, cfg StftConfig) (*Spectrogram, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(y) == 0 {
		return nil, ErrNoSamples
	}
	if rate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", rate)
	}

	pad := cfg.NFFT / 2
	padded := make([]float64, len(y)+2*pad)
	for i, v := range y {
		padded[pad+i] = float64(v)
	}

	window := HannWindow(cfg.NFFT)
	numFrames := 1 + (len(padded)-cfg.NFFT)/cfg.Hop
	numBins := cfg.NFFT/2 + 1

	sg := &Spectrogram{
		Frames:     make([][]float64, numFrames),
		NFFT:       cfg.NFFT,
		Hop:        cfg.Hop,
		SampleRate: rate,
	}

	buf := make([]float64, cfg.NFFT)
	for t := range numFrames {
		start := t * cfg.Hop
		for i := range buf {
			buf[i] = padded[start+i] * window[i]
		}
		coeffs := fft.FFTReal(buf)

		mags := make([]float64, numBins)
		for k := range mags {
			mags[k] = cmplx.Abs(coeffs[k])
		}
		sg.Frames[t] = mags
	}

	return sg, nil
}

// Duration returns the length in seconds of n samples at rate Hz.
func Duration(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

// FramesToTime converts frame indices to seconds.
func FramesToTime(frames []int, rate, hop int) []float64 {
	times := make([]float64, len(frames))
	for i, f := range frames {
		times[i] = float64(f*hop) / float64(rate)
	}
	return times
}
