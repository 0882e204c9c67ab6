package util

import "os/exec"

// ResolveFFmpegPath returns the path to the FFmpeg binary used for decoding
// non-WAV uploads. A configured path must resolve to an executable; otherwise
// "ffmpeg" is looked up in PATH. An empty string means FFmpeg is unavailable
// and only WAV input can be analyzed.
func ResolveFFmpegPath(customPath string) string {
	name := "ffmpeg"
	if customPath != "" {
		name = customPath
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	if customPath != "" {
		return customPath
	}
	return path
}
