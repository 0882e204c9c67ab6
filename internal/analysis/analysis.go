// Package analysis turns an uploaded or recorded clip into a text summary and
// a spectrogram image. Process is the only entry point and never fails: every
// error, including a panic in a lower layer, becomes an error summary.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/oszuidwest/listening-workshop/internal/audio"
	"github.com/oszuidwest/listening-workshop/internal/dsp"
	"github.com/oszuidwest/listening-workshop/internal/render"
	"github.com/oszuidwest/listening-workshop/internal/types"
)

// ErrNoInput is returned when neither a file nor samples were supplied.
var ErrNoInput = errors.New("no audio provided")

// Decoder loads an audio file into a mono clip.
type Decoder interface {
	Load(ctx context.Context, path string) (audio.Clip, error)
}

// Input is one clip to analyze: a file on disk or an in-memory tuple.
// When both are set the samples win.
type Input struct {
	Name string     // display name, e.g. the uploaded filename
	Path string     // decoded with the Decoder
	PCM  *audio.PCM // sample rate plus interleaved samples
}

// Source returns a human-readable name for the input.
func (in Input) Source() string {
	switch {
	case in.Name != "":
		return in.Name
	case in.PCM != nil:
		return "recording"
	default:
		return in.Path
	}
}

// Features are the measurements reported for a clip.
type Features struct {
	DurationSec  float64      `json:"duration_sec"`
	SampleRate   int          `json:"sample_rate"`
	TempoBPM     float64      `json:"tempo_bpm"`
	BeatTimes    []float64    `json:"beat_times"`
	Length       int          `json:"length"`
	Levels       audio.Levels `json:"levels"`
	SilenceRatio float64      `json:"silence_ratio"`
	Frames       int          `json:"frames"`
	Bins         int          `json:"bins"`
}

// Result is what the form displays: a markdown summary and a PNG, or an
// error summary and no image.
type Result struct {
	Summary  string
	Image    []byte
	Features *Features
	Err      error
}

// OK reports whether the analysis succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Analyzer runs the analysis pipeline.
type Analyzer struct {
	decoder  Decoder
	settings func() types.AnalysisSettings
	render   render.Options
}

// New creates an Analyzer. settings is read once per Process call so that
// changes made through the settings page apply to the next analysis.
func New(decoder Decoder, settings func() types.AnalysisSettings) *Analyzer {
	if settings == nil {
		settings = types.DefaultAnalysisSettings
	}
	return &Analyzer{
		decoder:  decoder,
		settings: settings,
		render:   render.DefaultOptions(),
	}
}

// Process analyzes in. It always returns a displayable Result.
func (a *Analyzer) Process(ctx context.Context, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis panicked", "source", in.Source(), "panic", r, "stack", string(debug.Stack()))
			res = failure(fmt.Errorf("internal error: %v", r))
		}
	}()

	clip, err := a.load(ctx, in)
	if err != nil {
		return failure(err)
	}

	features, sg, err := Extract(ctx, clip, a.settings())
	if err != nil {
		return failure(err)
	}

	image, err := render.Spectrogram(sg, a.render)
	if err != nil {
		return failure(err)
	}

	slog.Info("analysis complete",
		"source", in.Source(),
		"duration", features.DurationSec,
		"sample_rate", features.SampleRate,
		"tempo", features.TempoBPM)

	return Result{
		Summary:  FormatSummary(features),
		Image:    image,
		Features: features,
	}
}

func (a *Analyzer) load(ctx context.Context, in Input) (audio.Clip, error) {
	switch {
	case in.PCM != nil:
		return audio.FromPCM(*in.PCM)
	case in.Path != "":
		if a.decoder == nil {
			return audio.Clip{}, audio.ErrDecoderUnavailable
		}
		clip, err := a.decoder.Load(ctx, in.Path)
		if err != nil {
			return audio.Clip{}, err
		}
		return clip, clip.Validate()
	default:
		return audio.Clip{}, ErrNoInput
	}
}

// Extract computes the features of clip and its dB spectrogram.
func Extract(ctx context.Context, clip audio.Clip, s types.AnalysisSettings) (*Features, *dsp.Spectrogram, error) {
	if err := clip.Validate(); err != nil {
		return nil, nil, err
	}

	stft := dsp.StftConfig{NFFT: s.NFFT, Hop: s.HopLength}
	mag, err := dsp.STFT(clip.Samples, clip.SampleRate, stft)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	tempoCfg := dsp.DefaultTempoConfig()
	tempoCfg.StartBPM = s.StartBPM
	tempoCfg.MaxBPM = s.MaxBPM

	env := dsp.OnsetStrength(mag)
	tempo, beats := dsp.BeatTrack(env, clip.SampleRate, s.HopLength, tempoCfg)

	db := dsp.AmplitudeToDB(mag, dsp.DefaultAmin, s.TopDB)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	features := &Features{
		DurationSec:  dsp.Duration(clip.Len(), clip.SampleRate),
		SampleRate:   clip.SampleRate,
		TempoBPM:     tempo,
		BeatTimes:    dsp.FramesToTime(beats, clip.SampleRate, s.HopLength),
		Length:       clip.Len(),
		Levels:       audio.MeasureLevels(clip.Samples),
		SilenceRatio: audio.SilenceRatio(clip, audio.DefaultSilenceConfig()),
		Frames:       db.NumFrames(),
		Bins:         db.NumBins(),
	}
	return features, db, nil
}

func failure(err error) Result {
	slog.Warn("analysis failed", "error", err)
	return Result{Summary: FormatError(err), Err: err}
}
