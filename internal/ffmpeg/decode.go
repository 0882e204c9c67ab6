// Package ffmpeg decodes audio files with an FFmpeg subprocess.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/oszuidwest/listening-workshop/internal/util"
)

// ErrNoAudioStream is returned when FFmpeg reports no decodable audio.
var ErrNoAudioStream = errors.New("no audio stream found")

// streamRatePattern matches the sample rate in FFmpeg's stream report, e.g.
// "Stream #0:0: Audio: pcm_s16le, 44100 Hz, mono, s16, 705 kb/s".
var streamRatePattern = regexp.MustCompile(`Stream #\d+:\d+.*?: Audio: ([^,]+), (\d+) Hz`)

// Decoded holds raw mono S16LE output and the stream properties FFmpeg reported.
type Decoded struct {
	PCM        []byte
	SampleRate int
	Codec      string // Codec of the input stream
}

// DecodeArgs returns FFmpeg arguments that decode path to mono S16LE on stdout
// at the input's native sample rate.
func DecodeArgs(path string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "info",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// Decode runs FFmpeg on path and returns the decoded samples.
func Decode(ctx context.Context, ffmpegPath, path string) (*Decoded, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, DecodeArgs(path)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := util.ExtractLastError(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg decode: %s", msg)
		}
		return nil, util.WrapError("run ffmpeg", err)
	}

	codec, rate, err := ParseStreamReport(stderr.String())
	if err != nil {
		return nil, err
	}

	return &Decoded{PCM: stdout.Bytes(), SampleRate: rate, Codec: codec}, nil
}

// ParseStreamReport extracts the input codec and the output sample rate from
// FFmpeg's stderr. The first audio stream line belongs to the input, the last
// one to the output.
func ParseStreamReport(stderr string) (codec string, rate int, err error) {
	matches := streamRatePattern.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return "", 0, ErrNoAudioStream
	}

	last := matches[len(matches)-1]
	rate, err = strconv.Atoi(last[2])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("invalid sample rate %q in ffmpeg output", last[2])
	}

	return matches[0][1], rate, nil
}
