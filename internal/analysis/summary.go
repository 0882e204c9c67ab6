package analysis

import (
	"fmt"
	"strings"
)

// FormatError renders the error summary shown in place of results.
func FormatError(err error) string {
	return fmt.Sprintf("**Error processing audio:** %s", err)
}

// FormatSummary renders the markdown result panel.
func FormatSummary(f *Features) string {
	var b strings.Builder
	b.WriteString("**Analysis complete!**\n\n")
	b.WriteString("**Audio information:**\n")
	fmt.Fprintf(&b, "- Duration: %.2f seconds\n", f.DurationSec)
	fmt.Fprintf(&b, "- Sample rate: %d Hz\n", f.SampleRate)
	fmt.Fprintf(&b, "- Estimated tempo: %.2f BPM\n", f.TempoBPM)
	fmt.Fprintf(&b, "- Array shape: (%d,)\n", f.Length)
	fmt.Fprintf(&b, "- Levels: peak %.1f dBFS, RMS %.1f dBFS", f.Levels.Peak, f.Levels.RMS)
	if f.Levels.ClipCount > 0 {
		fmt.Fprintf(&b, ", %d clipped samples", f.Levels.ClipCount)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Silence: %.0f%% of the clip\n", f.SilenceRatio*100)
	if len(f.BeatTimes) > 0 {
		fmt.Fprintf(&b, "- Beats tracked: %d\n", len(f.BeatTimes))
	}
	return b.String()
}
