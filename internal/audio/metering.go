// Package audio provides clip loading, channel downmixing and level metering.
package audio

import "math"

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the full-scale magnitude of 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below full scale to catch near-clips.
	ClipThreshold = 32760.0 / MaxSampleValue
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples accumulates level data from normalized mono samples.
func ProcessSamples(samples []float32, data *LevelData) {
	for _, s := range samples {
		v := float64(s)
		data.SumSquares += v * v

		if abs := math.Abs(v); abs > data.Peak {
			data.Peak = abs
		}
		if v >= ClipThreshold || v <= -ClipThreshold {
			data.ClipCount++
		}

		data.SampleCount++
	}
}

// Levels contains calculated audio levels in dBFS.
type Levels struct {
	RMS       float64 `json:"rms_db"`
	Peak      float64 `json:"peak_db"`
	Crest     float64 `json:"crest_db"`
	ClipCount int     `json:"clip_count"`
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	rms := math.Sqrt(data.SumSquares / float64(data.SampleCount))

	levels := Levels{
		RMS:       max(toDB(rms), MinDB),
		Peak:      max(toDB(data.Peak), MinDB),
		ClipCount: data.ClipCount,
	}
	levels.Crest = levels.Peak - levels.RMS
	return levels
}

// MeasureLevels returns the levels of a whole clip.
func MeasureLevels(samples []float32) Levels {
	var data LevelData
	ProcessSamples(samples, &data)
	return CalculateLevels(&data)
}

// Reset resets accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}

func toDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}
