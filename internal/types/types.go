// Package types provides shared type definitions used across the workshop.
package types

import "time"

// EnvironmentKind identifies where the application is running.
type EnvironmentKind string

const (
	// EnvironmentLocal is a developer machine with a locally managed toolchain.
	EnvironmentLocal EnvironmentKind = "local"
	// EnvironmentHosted is a hosted notebook runtime.
	EnvironmentHosted EnvironmentKind = "hosted"
)

// AnalysisSettings holds the tunable parameters of the feature computation.
type AnalysisSettings struct {
	NFFT      int     `json:"n_fft"`      // STFT window length in samples
	HopLength int     `json:"hop_length"` // STFT hop in samples
	TopDB     float64 `json:"top_db"`     // Dynamic range of the rendered spectrogram
	StartBPM  float64 `json:"start_bpm"`  // Center of the tempo prior
	MaxBPM    float64 `json:"max_bpm"`    // Upper bound for tempo candidates
}

// Default analysis parameters.
const (
	DefaultNFFT      = 2048
	DefaultHopLength = 512
	DefaultTopDB     = 80.0
	DefaultStartBPM  = 120.0
	DefaultMaxBPM    = 320.0
)

// DefaultAnalysisSettings returns the default analysis parameters.
func DefaultAnalysisSettings() AnalysisSettings {
	return AnalysisSettings{
		NFFT:      DefaultNFFT,
		HopLength: DefaultHopLength,
		TopDB:     DefaultTopDB,
		StartBPM:  DefaultStartBPM,
		MaxBPM:    DefaultMaxBPM,
	}
}

// AnalysisSummary is the list view of one processed clip.
type AnalysisSummary struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`                 // Upload filename or "microphone"
	CreatedAt   time.Time `json:"created_at"`             // When processing finished
	Success     bool      `json:"success"`                // Features and plot were produced
	DurationSec float64   `json:"duration_sec,omitempty"` // Clip length in seconds
	Length      string    `json:"length,omitempty"`       // Clip length for display
	TempoBPM    float64   `json:"tempo_bpm,omitempty"`    // Estimated tempo
	Error       string    `json:"error,omitempty"`        // Failure reason
}

// EnvironmentInfo describes the detected runtime for the frontend.
type EnvironmentInfo struct {
	Kind      EnvironmentKind `json:"kind"`
	ShareURL  string          `json:"share_url,omitempty"` // Public link advertised in hosted mode
	Installed []string        `json:"installed,omitempty"` // Packages installed at startup
	Failed    []string        `json:"failed,omitempty"`    // Packages that failed to install
}

// WSStatusResponse is sent to clients with the current application status.
type WSStatusResponse struct {
	Type            string           `json:"type"`             // Message type identifier
	FFmpegAvailable bool             `json:"ffmpeg_available"` // Non-WAV formats can be decoded
	Environment     EnvironmentInfo  `json:"environment"`      // Detected runtime
	Settings        AnalysisSettings `json:"settings"`         // Current analysis parameters
	AnalysisCount   int              `json:"analysis_count"`   // Results held in history
	ExportEnabled   bool             `json:"export_enabled"`   // Results are exported to S3
	Version         VersionInfo      `json:"version"`          // Version information
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
