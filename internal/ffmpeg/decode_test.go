package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `Input #0, mp3, from 'clip.mp3':
  Duration: 00:00:03.05, start: 0.025057, bitrate: 128 kb/s
  Stream #0:0: Audio: mp3 (mp3float), 44100 Hz, stereo, fltp, 128 kb/s
Stream mapping:
  Stream #0:0 -> #0:0 (mp3 (mp3float) -> pcm_s16le (native))
Output #0, s16le, to 'pipe:1':
  Metadata:
    encoder         : Lavf60.16.100
  Stream #0:0: Audio: pcm_s16le, 44100 Hz, mono, s16, 705 kb/s
size=     263kB time=00:00:03.04 bitrate= 705.6kbits/s speed= 152x
`

func TestParseStreamReport(t *testing.T) {
	codec, rate, err := ParseStreamReport(sampleReport)
	require.NoError(t, err)
	assert.Equal(t, "mp3 (mp3float)", codec)
	assert.Equal(t, 44100, rate)
}

func TestParseStreamReportUsesOutputRate(t *testing.T) {
	report := `  Stream #0:0: Audio: opus, 48000 Hz, mono, fltp
  Stream #0:0: Audio: pcm_s16le, 16000 Hz, mono, s16, 256 kb/s`

	codec, rate, err := ParseStreamReport(report)
	require.NoError(t, err)
	assert.Equal(t, "opus", codec)
	assert.Equal(t, 16000, rate)
}

func TestParseStreamReportWithoutAudio(t *testing.T) {
	_, _, err := ParseStreamReport("  Stream #0:0: Video: h264, yuv420p, 1280x720\n")
	assert.ErrorIs(t, err, ErrNoAudioStream)
}

func TestDecodeArgs(t *testing.T) {
	args := DecodeArgs("/tmp/in.webm")

	assert.Contains(t, args, "/tmp/in.webm")
	assert.Equal(t, "pipe:1", args[len(args)-1])
	assert.Subset(t, args, []string{"-ac", "1", "-f", "s16le"})
	assert.NotContains(t, args, "-ar", "native sample rate must be preserved")
}
