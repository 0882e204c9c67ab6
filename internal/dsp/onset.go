package dsp

import "math"

// OnsetStrength returns a spectral flux onset envelope with one value per
// frame of s. Magnitudes are log-compressed against the global peak with an
// 80 dB floor and each value is the mean positive change across bins
// relative to the previous frame. The first frame has no predecessor and is 0.
//
// Only two dB rows are held at a time, so long clips do not pay for a second
// full spectrogram.
func OnsetStrength(s *Spectrogram) []float64 {
	env := make([]float64, s.NumFrames())
	if len(env) < 2 {
		return env
	}

	refDB := 20 * math.Log10(max(s.Max(), DefaultAmin))
	toDB := func(dst, frame []float64) {
		for k, v := range frame {
			dst[k] = max(20*math.Log10(max(v, DefaultAmin))-refDB, -DefaultTopDB)
		}
	}

	bins := s.NumBins()
	prev, cur := make([]float64, bins), make([]float64, bins)
	toDB(prev, s.Frames[0])

	for t := 1; t < len(s.Frames); t++ {
		toDB(cur, s.Frames[t])
		var flux float64
		for k := range cur {
			if d := cur[k] - prev[k]; d > 0 {
				flux += d
			}
		}
		env[t] = flux / float64(bins)
		prev, cur = cur, prev
	}
	return env
}
