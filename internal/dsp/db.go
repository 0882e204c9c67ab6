package dsp

import "math"

// Decibel conversion defaults.
const (
	DefaultAmin  = 1e-5
	DefaultTopDB = 80.0
)

// AmplitudeToDB converts a magnitude spectrogram to decibels relative to its
// maximum. Values are floored at amin before the logarithm, and when topDB is
// positive the output is clamped to at most topDB below the peak. An all-zero
// input maps to 0 dB everywhere.
func AmplitudeToDB(s *Spectrogram, amin, topDB float64) *Spectrogram {
	if amin <= 0 {
		amin = DefaultAmin
	}

	ref := max(s.Max(), amin)
	refDB := 20 * math.Log10(ref)

	out := &Spectrogram{
		Frames:     make([][]float64, len(s.Frames)),
		NFFT:       s.NFFT,
		Hop:        s.Hop,
		SampleRate: s.SampleRate,
	}

	peak := math.Inf(-1)
	for t, frame := range s.Frames {
		row := make([]float64, len(frame))
		for k, v := range frame {
			row[k] = 20*math.Log10(max(v, amin)) - refDB
			peak = max(peak, row[k])
		}
		out.Frames[t] = row
	}

	if topDB > 0 {
		floor := peak - topDB
		for _, row := range out.Frames {
			for k, v := range row {
				row[k] = max(v, floor)
			}
		}
	}

	return out
}
