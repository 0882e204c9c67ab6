package audio

import "errors"

// Errors returned while building or loading clips.
var (
	// ErrEmptyBuffer is returned when an input holds no samples.
	ErrEmptyBuffer = errors.New("audio buffer is empty")
	// ErrInvalidSampleRate is returned when the sample rate is not positive.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrDecoderUnavailable is returned for non-WAV input when FFmpeg is missing.
	ErrDecoderUnavailable = errors.New("no decoder available for this format (FFmpeg not found)")
)

// PCM is an in-memory sample tuple as delivered by a recording widget:
// a sample rate and interleaved samples for one or more channels. Samples may
// be integer-valued (e.g. int16 range) or already normalized floats.
type PCM struct {
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Samples    []float64 `json:"samples"`
}

// Frames returns the number of samples per channel.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Clip is a mono signal ready for analysis.
type Clip struct {
	SampleRate int
	Samples    []float32
}

// Len returns the number of samples in the clip.
func (c Clip) Len() int {
	return len(c.Samples)
}

// Seconds returns the clip length in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Validate checks the clip invariants.
func (c Clip) Validate() error {
	if c.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if len(c.Samples) == 0 {
		return ErrEmptyBuffer
	}
	return nil
}
