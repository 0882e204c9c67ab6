package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/listening-workshop/internal/ffmpeg"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
const wavFormatPCM = 1

// errUnsupportedWAV marks WAV files the native decoder cannot handle.
var errUnsupportedWAV = errors.New("unsupported WAV encoding")

// Loader decodes audio files into mono clips at their native sample rate.
type Loader struct {
	ffmpegPath string
}

// NewLoader returns a Loader. An empty ffmpegPath limits decoding to PCM WAV.
func NewLoader(ffmpegPath string) *Loader {
	return &Loader{ffmpegPath: ffmpegPath}
}

// CanDecodeAll reports whether formats other than PCM WAV can be decoded.
func (l *Loader) CanDecodeAll() bool {
	return l.ffmpegPath != ""
}

// Load decodes the file at path.
func (l *Loader) Load(ctx context.Context, path string) (Clip, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Clip{}, util.WrapError("read audio file", err)
	}

	if mtype.Is("audio/wav") {
		clip, err := l.loadWAV(path)
		if err == nil {
			return clip, nil
		}
		if !errors.Is(err, errUnsupportedWAV) || !l.CanDecodeAll() {
			return Clip{}, err
		}
		slog.Debug("falling back to ffmpeg for WAV", "path", path, "error", err)
	}

	if !l.CanDecodeAll() {
		return Clip{}, fmt.Errorf("%w: %s", ErrDecoderUnavailable, mtype.String())
	}

	decoded, err := ffmpeg.Decode(ctx, l.ffmpegPath, path)
	if err != nil {
		return Clip{}, err
	}

	clip := Clip{SampleRate: decoded.SampleRate, Samples: S16LEToFloat(decoded.PCM)}
	if err := clip.Validate(); err != nil {
		return Clip{}, err
	}

	slog.Debug("decoded audio with ffmpeg", "codec", decoded.Codec, "sample_rate", clip.SampleRate, "samples", clip.Len())
	return clip, nil
}

func (l *Loader) loadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, util.WrapError("open WAV file", err)
	}
	defer f.Close() //nolint:errcheck // Read-only file, close error not critical

	return DecodeWAV(f)
}

// DecodeWAV decodes a PCM WAV stream, downmixing all channels to mono.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: invalid WAV header", errUnsupportedWAV)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Clip{}, fmt.Errorf("%w: format tag %d", errUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, util.WrapError("decode WAV", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Clip{}, ErrInvalidSampleRate
	}

	channels := max(buf.Format.NumChannels, 1)
	scale := float64(int64(1) << (max(buf.SourceBitDepth, 8) - 1))
	if buf.SourceBitDepth == 8 {
		// 8-bit WAV is unsigned with a midpoint of 128.
		for i, v := range buf.Data {
			buf.Data[i] = v - 128
		}
	}

	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = float64(v) / scale
	}

	pcm := PCM{SampleRate: buf.Format.SampleRate, Channels: channels, Samples: interleaved}
	if pcm.Frames() == 0 {
		return Clip{}, ErrEmptyBuffer
	}

	return Clip{SampleRate: pcm.SampleRate, Samples: Downmix(pcm)}, nil
}
