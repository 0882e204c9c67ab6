package dsp

import (
	"math"
	"slices"
)

// BeatTrack estimates the tempo of env and tracks beats at that tempo.
// It returns the tempo in BPM and the beat frame indices. Silence yields a
// tempo of 0 and no beats.
func BeatTrack(env []float64, rate, hop int, cfg TempoConfig) (float64, []int) {
	if !hasEnergy(env) {
		return 0, nil
	}
	tempo := EstimateTempo(env, rate, hop, cfg)
	if tempo <= 0 {
		return 0, nil
	}
	return tempo, TrackBeats(env, tempo, rate, hop, DefaultTightness)
}

// TrackBeats places beats on env by dynamic programming: every frame scores
// its onset strength plus the best predecessor roughly one beat period back,
// penalized by how far that gap strays from the period. Weak beats at either
// end are trimmed.
func TrackBeats(env []float64, tempo float64, rate, hop int, tightness float64) []int {
	if tempo <= 0 || rate <= 0 || hop <= 0 || len(env) < 2 || !hasEnergy(env) {
		return nil
	}

	period := int(math.Round(60 * float64(rate) / (float64(hop) * tempo)))
	if period < 1 {
		return nil
	}

	local := localScore(normalizeStd(env), period)
	backlink, cumulative := beatDP(local, period, tightness)

	tail := lastBeat(cumulative, local)
	beats := []int{tail}
	for backlink[beats[len(beats)-1]] >= 0 {
		beats = append(beats, backlink[beats[len(beats)-1]])
	}
	slices.Reverse(beats)

	return trimBeats(local, beats)
}

// normalizeStd divides env by its sample standard deviation.
func normalizeStd(env []float64) []float64 {
	var mean float64
	for _, v := range env {
		mean += v
	}
	mean /= float64(len(env))

	var ss float64
	for _, v := range env {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(env)-1))

	out := make([]float64, len(env))
	if std == 0 {
		copy(out, env)
		return out
	}
	for i, v := range env {
		out[i] = v / std
	}
	return out
}

// localScore smooths env with a Gaussian whose width follows the period.
func localScore(env []float64, period int) []float64 {
	kernel := make([]float64, 2*period+1)
	for i := range kernel {
		x := float64(i-period) * 32 / float64(period)
		kernel[i] = math.Exp(-0.5 * x * x)
	}
	return convolveSame(env, kernel)
}

// beatDP runs the beat dynamic program and returns, for each frame, the index
// of its predecessor beat (-1 for none) and its cumulative score.
func beatDP(local []float64, period int, tightness float64) ([]int, []float64) {
	backlink := make([]int, len(local))
	cumulative := make([]float64, len(local))

	// Candidate predecessors lie between two periods and half a period back.
	lo, hi := -2*period, -int(math.Round(float64(period)/2))
	offsets := make([]int, 0, hi-lo+1)
	penalty := make([]float64, 0, hi-lo+1)
	for off := lo; off <= hi; off++ {
		offsets = append(offsets, off)
		l := math.Log(-float64(off) / float64(period))
		penalty = append(penalty, -tightness*l*l)
	}

	peak := slices.Max(local)
	firstBeat := true

	for i, score := range local {
		best, bestIdx := math.Inf(-1), -1
		for j, off := range offsets {
			cand := penalty[j]
			if prev := i + off; prev >= 0 {
				cand += cumulative[prev]
			}
			if cand > best {
				best, bestIdx = cand, j
			}
		}

		cumulative[i] = score + best
		if firstBeat && score < 0.01*peak {
			backlink[i] = -1
			continue
		}
		firstBeat = false
		if prev := i + offsets[bestIdx]; prev >= 0 {
			backlink[i] = prev
		} else {
			backlink[i] = -1
		}
	}

	return backlink, cumulative
}

// lastBeat picks the last local maximum of the cumulative score that exceeds
// half the median of all local maxima and sits on a real onset. The
// cumulative score keeps rising past the final beat, so a maximum with no
// onset energy of its own would pull the backlink chain off the beat grid.
func lastBeat(cumulative, local []float64) int {
	var maxima []float64
	isMax := make([]bool, len(cumulative))
	for i := range cumulative {
		left := i == 0 || cumulative[i] > cumulative[i-1]
		right := i == len(cumulative)-1 || cumulative[i] >= cumulative[i+1]
		if left && right {
			isMax[i] = true
			maxima = append(maxima, cumulative[i])
		}
	}

	best := 0
	for i, v := range cumulative {
		if v > cumulative[best] {
			best = i
		}
	}
	if len(maxima) == 0 {
		return best
	}

	threshold := 0.5 * median(maxima)
	minOnset := 0.01 * slices.Max(local)
	for i := len(cumulative) - 1; i >= 0; i-- {
		if isMax[i] && cumulative[i] >= threshold && local[i] > minOnset {
			return i
		}
	}
	return best
}

// trimBeats drops leading and trailing beats whose smoothed onset strength
// falls below half the RMS of the beat strengths.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}

	strengths := make([]float64, len(beats))
	for i, b := range beats {
		strengths[i] = local[b]
	}
	smooth := convolveSame(strengths, symmetricHann(5))

	var ss float64
	for _, v := range smooth {
		ss += v * v
	}
	threshold := 0.5 * math.Sqrt(ss/float64(len(smooth)))

	first, last := -1, -1
	for i, v := range smooth {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	return beats[first : last+1]
}

// symmetricHann returns a symmetric Hann window of length n, peaking at 1 in
// the middle for odd n.
func symmetricHann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// convolveSame returns the centre part of the full convolution of x and k,
// with the same length as x.
func convolveSame(x, k []float64) []float64 {
	out := make([]float64, len(x))
	offset := (len(k) - 1) / 2
	for i := range out {
		var sum float64
		for j, kv := range k {
			idx := i + offset - j
			if idx >= 0 && idx < len(x) {
				sum += x[idx] * kv
			}
		}
		out[i] = sum
	}
	return out
}

func median(x []float64) float64 {
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
