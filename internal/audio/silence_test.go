package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func TestSilenceDetectorLifecycle(t *testing.T) {
	cfg := SilenceConfig{Threshold: -40, Duration: time.Second, Recovery: 200 * time.Millisecond}
	d := NewSilenceDetector()

	assert.False(t, d.Update(-60, cfg, 0).InSilence)
	assert.False(t, d.Update(-60, cfg, 500*time.Millisecond).InSilence)

	entered := d.Update(-60, cfg, time.Second)
	assert.True(t, entered.JustEntered)
	assert.Equal(t, time.Second, entered.Duration)

	recovering := d.Update(-10, cfg, 1100*time.Millisecond)
	assert.True(t, recovering.InSilence)
	assert.False(t, recovering.JustRecovered)

	recovered := d.Update(-10, cfg, 1300*time.Millisecond)
	assert.True(t, recovered.JustRecovered)
	assert.Equal(t, 1100*time.Millisecond, recovered.Total)
	assert.False(t, recovered.InSilence)
}

func TestSilenceDetectorShortDipIgnored(t *testing.T) {
	cfg := SilenceConfig{Threshold: -40, Duration: time.Second, Recovery: 100 * time.Millisecond}
	d := NewSilenceDetector()

	d.Update(-60, cfg, 0)
	d.Update(-10, cfg, 300*time.Millisecond)
	event := d.Update(-60, cfg, 1100*time.Millisecond)

	assert.False(t, event.InSilence, "silence timer restarts after audio returns")
}

func TestSilenceRatio(t *testing.T) {
	const rate = 8000
	cfg := DefaultSilenceConfig()

	t.Run("all silent", func(t *testing.T) {
		clip := Clip{SampleRate: rate, Samples: make([]float32, 2*rate)}
		assert.InDelta(t, 1.0, SilenceRatio(clip, cfg), 1e-9)
	})

	t.Run("no silence", func(t *testing.T) {
		clip := Clip{SampleRate: rate, Samples: tone(2*rate, 0.5)}
		assert.Zero(t, SilenceRatio(clip, cfg))
	})

	t.Run("silent second half", func(t *testing.T) {
		samples := append(tone(rate, 0.5), make([]float32, rate)...)
		clip := Clip{SampleRate: rate, Samples: samples}
		assert.InDelta(t, 0.5, SilenceRatio(clip, cfg), 0.01)
	})

	t.Run("silent gap in the middle", func(t *testing.T) {
		samples := append(tone(rate, 0.5), make([]float32, rate)...)
		samples = append(samples, tone(rate, 0.5)...)
		clip := Clip{SampleRate: rate, Samples: samples}
		assert.InDelta(t, 1.0/3.0, SilenceRatio(clip, cfg), 0.03)
	})

	t.Run("empty clip", func(t *testing.T) {
		assert.Zero(t, SilenceRatio(Clip{SampleRate: rate}, cfg))
	})
}
