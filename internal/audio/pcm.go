package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Int16Max is the scale applied to integer-valued sample data.
const Int16Max = math.MaxInt16

// Downmix averages interleaved channels into one channel. The result has one
// sample per frame; trailing samples that do not complete a frame are dropped.
func Downmix(p PCM) []float32 {
	frames := p.Frames()
	out := make([]float32, frames)
	if frames == 0 {
		return out
	}

	if p.Channels == 1 {
		for i := range out {
			out[i] = float32(p.Samples[i])
		}
		return out
	}

	ch := float64(p.Channels)
	for i := range out {
		var sum float64
		base := i * p.Channels
		for c := range p.Channels {
			sum += p.Samples[base+c]
		}
		out[i] = float32(sum / ch)
	}
	return out
}

// Rescale converts integer-valued samples to the [-1, 1] range in place.
// Data whose maximum does not exceed 1.0 is treated as already normalized.
func Rescale(samples []float32) {
	if len(samples) == 0 {
		return
	}
	peak := samples[0]
	for _, s := range samples[1:] {
		peak = max(peak, s)
	}
	if peak <= 1.0 {
		return
	}
	for i := range samples {
		samples[i] /= Int16Max
	}
}

// FromPCM validates an in-memory tuple and turns it into a mono clip.
func FromPCM(p PCM) (Clip, error) {
	if p.SampleRate <= 0 {
		return Clip{}, ErrInvalidSampleRate
	}
	if p.Channels < 1 {
		return Clip{}, fmt.Errorf("invalid channel count %d", p.Channels)
	}
	if len(p.Samples) == 0 {
		return Clip{}, ErrEmptyBuffer
	}
	if len(p.Samples)%p.Channels != 0 {
		return Clip{}, fmt.Errorf("sample count %d is not a multiple of %d channels", len(p.Samples), p.Channels)
	}
	for i, s := range p.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Clip{}, fmt.Errorf("sample %d is not a finite number", i)
		}
	}

	samples := Downmix(p)
	Rescale(samples)

	return Clip{SampleRate: p.SampleRate, Samples: samples}, nil
}

// S16LEToFloat converts mono little-endian 16-bit PCM to normalized floats.
// A trailing odd byte is ignored.
func S16LEToFloat(buf []byte) []float32 {
	out := make([]float32, len(buf)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / MaxSampleValue
	}
	return out
}
