// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"

	"github.com/oszuidwest/listening-workshop/internal/types"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebHost       = "0.0.0.0"
	DefaultWebPort       = 7860
	DefaultWebUsername   = "admin"
	DefaultTitle         = "Machine Listening Workshop"
	DefaultColorLight    = "#E6007E"
	DefaultColorDark     = "#E6007E"
	DefaultMode          = ModeAuto
	DefaultManifestURL   = "https://raw.githubusercontent.com/oszuidwest/listening-workshop/main/packages.txt"
	DefaultMaxUploadMB   = 50
	DefaultHistorySize   = 20
	DefaultExportPrefix  = "analyses"
	DefaultInstallerTool = "apt-get"
)

// Environment modes.
const (
	ModeAuto   = "auto"
	ModeHosted = "hosted"
	ModeLocal  = "local"
)

// Validation patterns define regular expressions for configuration value validation.
var (
	titlePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// DefaultInstaller returns the package install command used in hosted runtimes.
// Package names are appended as trailing arguments.
func DefaultInstaller() []string {
	return []string{DefaultInstallerTool, "install", "-y", "-q"}
}

// DefaultPackages returns the packages installed one by one when the
// manifest-driven install fails.
func DefaultPackages() []string {
	return []string{"ffmpeg"}
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Host       string `json:"host"`        // HTTP listen address
	Port       int    `json:"port"`        // HTTP server port
	Username   string `json:"username"`    // Login username
	Password   string `json:"password"`    // Login password (empty = no login)
	PublicURL  string `json:"public_url"`  // Share link advertised in hosted mode
}

// WebConfig holds page branding settings.
type WebConfig struct {
	Title      string `json:"title"`       // Page title
	ColorLight string `json:"color_light"` // Accent color for light mode (#RRGGBB)
	ColorDark  string `json:"color_dark"`  // Accent color for dark mode (#RRGGBB)
}

// EnvironmentConfig holds runtime detection and provisioning settings.
type EnvironmentConfig struct {
	Mode        string   `json:"mode"`         // auto, hosted or local
	ManifestURL string   `json:"manifest_url"` // Package list fetched in hosted mode
	Installer   []string `json:"installer"`    // Install command, packages appended
	Packages    []string `json:"packages"`     // Fallback packages installed one by one
}

// AnalysisConfig holds feature computation settings.
type AnalysisConfig struct {
	NFFT        int     `json:"n_fft"`         // STFT window length
	HopLength   int     `json:"hop_length"`    // STFT hop length
	TopDB       float64 `json:"top_db"`        // Spectrogram dynamic range
	StartBPM    float64 `json:"start_bpm"`     // Tempo prior center
	MaxBPM      float64 `json:"max_bpm"`       // Highest tempo considered
	MaxUploadMB int     `json:"max_upload_mb"` // Upload size limit
}

// HistoryConfig holds result retention settings.
type HistoryConfig struct {
	Size    int    `json:"size"`     // Results kept in memory
	LogPath string `json:"log_path"` // JSON lines event log (empty = disabled)
}

// S3Config holds object storage export settings.
type S3Config struct {
	Endpoint        string `json:"endpoint"`          // Custom endpoint (empty = AWS)
	Bucket          string `json:"bucket"`            // Target bucket
	AccessKeyID     string `json:"access_key_id"`     // Static access key
	SecretAccessKey string `json:"secret_access_key"` // Static secret key
	Prefix          string `json:"prefix"`            // Key prefix
}

// ExportConfig holds result export settings.
type ExportConfig struct {
	S3 S3Config `json:"s3"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System      SystemConfig      `json:"system"`
	Web         WebConfig         `json:"web"`
	Environment EnvironmentConfig `json:"environment"`
	Analysis    AnalysisConfig    `json:"analysis"`
	History     HistoryConfig     `json:"history"`
	Export      ExportConfig      `json:"export"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	title := c.Web.Title
	if len(title) > 60 || !titlePattern.MatchString(title) {
		return fmt.Errorf("invalid title %q: must be 1-60 printable characters", title)
	}
	if !colorPattern.MatchString(c.Web.ColorLight) {
		return fmt.Errorf("invalid color_light %q: must be hex format (#RRGGBB)", c.Web.ColorLight)
	}
	if !colorPattern.MatchString(c.Web.ColorDark) {
		return fmt.Errorf("invalid color_dark %q: must be hex format (#RRGGBB)", c.Web.ColorDark)
	}
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	switch c.Environment.Mode {
	case ModeAuto, ModeHosted, ModeLocal:
	default:
		return fmt.Errorf("invalid environment mode %q: must be auto, hosted or local", c.Environment.Mode)
	}
	if err := ValidateAnalysis(c.analysisSettingsLocked()); err != nil {
		return err
	}
	if c.Analysis.MaxUploadMB < 1 || c.Analysis.MaxUploadMB > 512 {
		return fmt.Errorf("invalid max_upload_mb %d: must be 1-512", c.Analysis.MaxUploadMB)
	}
	if c.History.Size < 1 || c.History.Size > 1000 {
		return fmt.Errorf("invalid history size %d: must be 1-1000", c.History.Size)
	}
	if c.History.LogPath != "" {
		if err := util.ValidatePath("history.log_path", c.History.LogPath); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAnalysis checks analysis parameters for consistency.
func ValidateAnalysis(s types.AnalysisSettings) error {
	if s.NFFT < 256 || s.NFFT > 8192 || bits.OnesCount(uint(s.NFFT)) != 1 {
		return fmt.Errorf("invalid n_fft %d: must be a power of two between 256 and 8192", s.NFFT)
	}
	if s.HopLength < 64 || s.HopLength > s.NFFT {
		return fmt.Errorf("invalid hop_length %d: must be between 64 and n_fft", s.HopLength)
	}
	if s.TopDB < 10 || s.TopDB > 120 {
		return fmt.Errorf("invalid top_db %.1f: must be between 10 and 120", s.TopDB)
	}
	if s.StartBPM < 30 || s.StartBPM > 300 {
		return fmt.Errorf("invalid start_bpm %.1f: must be between 30 and 300", s.StartBPM)
	}
	if s.MaxBPM <= s.StartBPM || s.MaxBPM > 480 {
		return fmt.Errorf("invalid max_bpm %.1f: must exceed start_bpm and be at most 480", s.MaxBPM)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Host = cmp.Or(c.System.Host, DefaultWebHost)
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.System.Username = cmp.Or(c.System.Username, DefaultWebUsername)
	// Web defaults
	c.Web.Title = cmp.Or(c.Web.Title, DefaultTitle)
	c.Web.ColorLight = cmp.Or(c.Web.ColorLight, DefaultColorLight)
	c.Web.ColorDark = cmp.Or(c.Web.ColorDark, DefaultColorDark)
	// Environment defaults
	c.Environment.Mode = cmp.Or(c.Environment.Mode, DefaultMode)
	c.Environment.ManifestURL = cmp.Or(c.Environment.ManifestURL, DefaultManifestURL)
	if len(c.Environment.Installer) == 0 {
		c.Environment.Installer = DefaultInstaller()
	}
	if len(c.Environment.Packages) == 0 {
		c.Environment.Packages = DefaultPackages()
	}
	// Analysis defaults
	c.Analysis.NFFT = cmp.Or(c.Analysis.NFFT, types.DefaultNFFT)
	c.Analysis.HopLength = cmp.Or(c.Analysis.HopLength, types.DefaultHopLength)
	c.Analysis.TopDB = cmp.Or(c.Analysis.TopDB, types.DefaultTopDB)
	c.Analysis.StartBPM = cmp.Or(c.Analysis.StartBPM, types.DefaultStartBPM)
	c.Analysis.MaxBPM = cmp.Or(c.Analysis.MaxBPM, types.DefaultMaxBPM)
	c.Analysis.MaxUploadMB = cmp.Or(c.Analysis.MaxUploadMB, DefaultMaxUploadMB)
	// History defaults
	c.History.Size = cmp.Or(c.History.Size, DefaultHistorySize)
	// Export defaults
	c.Export.S3.Prefix = cmp.Or(c.Export.S3.Prefix, DefaultExportPrefix)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// analysisSettingsLocked returns the analysis parameters. Caller must hold c.mu.
func (c *Config) analysisSettingsLocked() types.AnalysisSettings {
	return types.AnalysisSettings{
		NFFT:      c.Analysis.NFFT,
		HopLength: c.Analysis.HopLength,
		TopDB:     c.Analysis.TopDB,
		StartBPM:  c.Analysis.StartBPM,
		MaxBPM:    c.Analysis.MaxBPM,
	}
}

// AnalysisSettings returns the current analysis parameters.
func (c *Config) AnalysisSettings() types.AnalysisSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.analysisSettingsLocked()
}

// SetAnalysisSettings validates, applies and persists new analysis parameters.
func (c *Config) SetAnalysisSettings(s types.AnalysisSettings) error {
	_, err := c.UpdateAnalysisSettings(func(types.AnalysisSettings) types.AnalysisSettings { return s })
	return err
}

// UpdateAnalysisSettings derives new analysis parameters from the current
// ones with fn, then validates and persists them under a single lock. If
// validation or the write fails the previous parameters stay in effect and
// are returned alongside the error.
func (c *Config) UpdateAnalysisSettings(fn func(types.AnalysisSettings) types.AnalysisSettings) (types.AnalysisSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.analysisSettingsLocked()
	next := fn(prev)
	if err := ValidateAnalysis(next); err != nil {
		return prev, err
	}

	c.setAnalysisLocked(next)
	if err := c.saveLocked(); err != nil {
		c.setAnalysisLocked(prev)
		return prev, err
	}
	return next, nil
}

// setAnalysisLocked stores analysis parameters. Caller must hold c.mu.
func (c *Config) setAnalysisLocked(s types.AnalysisSettings) {
	c.Analysis.NFFT = s.NFFT
	c.Analysis.HopLength = s.HopLength
	c.Analysis.TopDB = s.TopDB
	c.Analysis.StartBPM = s.StartBPM
	c.Analysis.MaxBPM = s.MaxBPM
}

// FFmpegPath returns the configured FFmpeg binary path.
func (c *Config) FFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebHost     string
	WebPort     int
	WebUser     string
	WebPassword string
	PublicURL   string

	// Web
	Title      string
	ColorLight string
	ColorDark  string

	// Environment
	Mode        string
	ManifestURL string
	Installer   []string
	Packages    []string

	// Analysis
	Analysis    types.AnalysisSettings
	MaxUploadMB int

	// History
	HistorySize    int
	HistoryLogPath string

	// Export
	S3 S3Config
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebHost:     c.System.Host,
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		PublicURL:   c.System.PublicURL,

		Title:      c.Web.Title,
		ColorLight: c.Web.ColorLight,
		ColorDark:  c.Web.ColorDark,

		Mode:        c.Environment.Mode,
		ManifestURL: c.Environment.ManifestURL,
		Installer:   slices.Clone(c.Environment.Installer),
		Packages:    slices.Clone(c.Environment.Packages),

		Analysis:    c.analysisSettingsLocked(),
		MaxUploadMB: c.Analysis.MaxUploadMB,

		HistorySize:    c.History.Size,
		HistoryLogPath: c.History.LogPath,

		S3: c.Export.S3,
	}
}

// AuthEnabled reports whether the web interface requires a login.
func (s *Snapshot) AuthEnabled() bool {
	return s.WebPassword != ""
}

// HasExport reports whether S3 export is fully configured.
func (s *Snapshot) HasExport() bool {
	return util.IsConfigured(s.S3.Bucket, s.S3.AccessKeyID, s.S3.SecretAccessKey)
}

// MaxUploadBytes returns the upload size limit in bytes.
func (s *Snapshot) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}
