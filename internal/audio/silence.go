package audio

import (
	"sync"
	"time"
)

// Silence detection defaults for offline clip analysis.
const (
	DefaultSilenceThreshold = -50.0
	DefaultSilenceDuration  = 500 * time.Millisecond
	DefaultSilenceRecovery  = 100 * time.Millisecond
	silenceBlock            = 50 * time.Millisecond
)

// SilenceConfig holds the configurable thresholds for silence detection.
type SilenceConfig struct {
	Threshold float64       // dB level below which audio is considered silent
	Duration  time.Duration // silence required before a span counts
	Recovery  time.Duration // audio required before a span ends
}

// DefaultSilenceConfig returns thresholds suited to short clips.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold: DefaultSilenceThreshold,
		Duration:  DefaultSilenceDuration,
		Recovery:  DefaultSilenceRecovery,
	}
}

// SilenceEvent represents the result of a silence detection update.
type SilenceEvent struct {
	InSilence     bool          // Currently in confirmed silence state
	Duration      time.Duration // Current silence duration (0 if not silent)
	JustEntered   bool          // True on the update when silence is first confirmed
	JustRecovered bool          // True on the update when recovery completes
	Total         time.Duration // Total silence duration (only set when JustRecovered)
}

// SilenceDetector tracks silence state over a timeline supplied by the caller.
// It is safe for concurrent use.
type SilenceDetector struct {
	mu            sync.Mutex
	silenceStart  time.Duration
	recoveryStart time.Duration
	silent        bool // below threshold since silenceStart
	recovering    bool // above threshold since recoveryStart
	inSilence     bool // confirmed silence
	duration      time.Duration
}

// NewSilenceDetector creates a new silence detector.
func NewSilenceDetector() *SilenceDetector {
	return &SilenceDetector{}
}

// Update feeds the level measured at position at and returns the current state.
func (d *SilenceDetector) Update(db float64, cfg SilenceConfig, at time.Duration) SilenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var event SilenceEvent

	if db < cfg.Threshold {
		d.recovering = false

		if !d.silent {
			d.silent = true
			d.silenceStart = at
		}
		d.duration = at - d.silenceStart

		if d.inSilence {
			event.InSilence = true
			event.Duration = d.duration
		} else if d.duration >= cfg.Duration {
			d.inSilence = true
			event.InSilence = true
			event.Duration = d.duration
			event.JustEntered = true
		}
		return event
	}

	if !d.inSilence {
		d.silent = false
		return event
	}

	if !d.recovering {
		d.recovering = true
		d.recoveryStart = at
	}

	if at-d.recoveryStart >= cfg.Recovery {
		event.JustRecovered = true
		event.Total = d.recoveryStart - d.silenceStart
		d.reset()
		return event
	}

	event.InSilence = true
	return event
}

// Reset clears the silence detection state.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *SilenceDetector) reset() {
	d.silenceStart = 0
	d.recoveryStart = 0
	d.silent = false
	d.recovering = false
	d.inSilence = false
	d.duration = 0
}

// SilenceRatio returns the fraction of a clip spent in confirmed silence,
// measured over fixed blocks in sample time.
func SilenceRatio(clip Clip, cfg SilenceConfig) float64 {
	if clip.SampleRate <= 0 || len(clip.Samples) == 0 {
		return 0
	}

	blockLen := max(int(int64(clip.SampleRate)*int64(silenceBlock)/int64(time.Second)), 1)
	detector := NewSilenceDetector()

	var (
		silent    time.Duration
		spanStart time.Duration
		inSpan    bool
		data      LevelData
	)

	for start := 0; start < len(clip.Samples); start += blockLen {
		end := min(start+blockLen, len(clip.Samples))
		data.Reset()
		ProcessSamples(clip.Samples[start:end], &data)
		levels := CalculateLevels(&data)

		at := samplesToDuration(start, clip.SampleRate)
		event := detector.Update(levels.RMS, cfg, at)

		switch {
		case event.JustEntered:
			inSpan = true
			spanStart = at - event.Duration
		case event.JustRecovered:
			silent += event.Total
			inSpan = false
		}
	}

	total := samplesToDuration(len(clip.Samples), clip.SampleRate)
	if inSpan {
		silent += total - spanStart
	}

	return min(float64(silent)/float64(total), 1)
}

func samplesToDuration(n, rate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
