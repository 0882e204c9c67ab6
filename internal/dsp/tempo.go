package dsp

import (
	"math"
)

// Tempo estimation defaults.
const (
	DefaultStartBPM  = 120.0
	DefaultStdBPM    = 1.0
	DefaultMaxBPM    = 320.0
	DefaultACWindow  = 8.0
	DefaultTightness = 100.0
)

// TempoConfig controls the tempo prior and autocorrelation window.
type TempoConfig struct {
	StartBPM  float64 // centre of the log-normal tempo prior
	StdBPM    float64 // prior width in octaves
	MaxBPM    float64 // tempos above this are never chosen
	WindowSec float64 // longest period considered, in seconds
}

// DefaultTempoConfig returns the prior used for analysis.
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		StartBPM:  DefaultStartBPM,
		StdBPM:    DefaultStdBPM,
		MaxBPM:    DefaultMaxBPM,
		WindowSec: DefaultACWindow,
	}
}

func (c TempoConfig) withDefaults() TempoConfig {
	if c.StartBPM <= 0 {
		c.StartBPM = DefaultStartBPM
	}
	if c.StdBPM <= 0 {
		c.StdBPM = DefaultStdBPM
	}
	if c.MaxBPM <= 0 {
		c.MaxBPM = DefaultMaxBPM
	}
	if c.WindowSec <= 0 {
		c.WindowSec = DefaultACWindow
	}
	return c
}

// EstimateTempo estimates the global tempo in BPM of an onset envelope
// sampled every hop samples at rate Hz. The envelope autocorrelation,
// normalized to its zero-lag value, is weighted by a log-normal prior around
// StartBPM and the lag with the best score wins. An envelope without any
// onset energy yields 0.
func EstimateTempo(env []float64, rate, hop int, cfg TempoConfig) float64 {
	if rate <= 0 || hop <= 0 || !hasEnergy(env) {
		return 0
	}
	cfg = cfg.withDefaults()

	framesPerMinute := 60 * float64(rate) / float64(hop)
	maxLag := min(int(math.Round(cfg.WindowSec*float64(rate)/float64(hop))), len(env)-1)
	if maxLag < 1 {
		return 0
	}

	ac := autocorrelate(env, maxLag)
	if ac[0] <= 0 {
		return 0
	}

	bestLag, bestScore := 0, math.Inf(-1)
	for lag := 1; lag <= maxLag; lag++ {
		bpm := framesPerMinute / float64(lag)
		if bpm > cfg.MaxBPM {
			continue
		}
		octaves := (math.Log2(bpm) - math.Log2(cfg.StartBPM)) / cfg.StdBPM
		score := math.Log1p(1e6*max(ac[lag]/ac[0], 0)) - 0.5*octaves*octaves
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}

	if bestLag == 0 {
		return 0
	}
	return framesPerMinute / float64(bestLag)
}

// autocorrelate returns the raw autocorrelation of x for lags 0..maxLag.
func autocorrelate(x []float64, maxLag int) []float64 {
	ac := make([]float64, maxLag+1)
	for lag := range ac {
		var sum float64
		for i := 0; i+lag < len(x); i++ {
			sum += x[i] * x[i+lag]
		}
		ac[lag] = sum
	}
	return ac
}

func hasEnergy(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return true
		}
	}
	return false
}
