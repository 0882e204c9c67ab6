package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/listening-workshop/internal/types"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Contains(t, onDisk, "analysis")

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, ModeAuto, snap.Mode)
	assert.Equal(t, types.DefaultAnalysisSettings(), snap.Analysis)
	assert.False(t, snap.AuthEnabled())
	assert.False(t, snap.HasExport())
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"system":{"port":9000,"password":"secret"},"analysis":{"n_fft":1024}}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, 9000, snap.WebPort)
	assert.True(t, snap.AuthEnabled())
	assert.Equal(t, 1024, snap.Analysis.NFFT)
	assert.Equal(t, types.DefaultHopLength, snap.Analysis.HopLength)
	assert.Equal(t, DefaultInstaller(), snap.Installer)
	assert.Equal(t, DefaultPackages(), snap.Packages)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad color", `{"web":{"color_light":"red"}}`},
		{"bad mode", `{"environment":{"mode":"cloud"}}`},
		{"n_fft not power of two", `{"analysis":{"n_fft":1000}}`},
		{"hop longer than window", `{"analysis":{"n_fft":512,"hop_length":1024}}`},
		{"history too large", `{"history":{"size":5000}}`},
		{"log path traversal", `{"history":{"log_path":"../events.jsonl"}}`},
		{"malformed json", `{"system":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			assert.Error(t, New(path).Load())
		})
	}
}

func TestSetAnalysisSettingsPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	want := types.AnalysisSettings{NFFT: 4096, HopLength: 1024, TopDB: 60, StartBPM: 100, MaxBPM: 240}
	require.NoError(t, cfg.SetAnalysisSettings(want))
	assert.Equal(t, want, cfg.AnalysisSettings())

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, want, reloaded.AnalysisSettings())
}

func TestSetAnalysisSettingsRejectsInvalid(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	before := cfg.AnalysisSettings()

	err := cfg.SetAnalysisSettings(types.AnalysisSettings{NFFT: 2048, HopLength: 512, TopDB: 80, StartBPM: 120, MaxBPM: 100})
	assert.Error(t, err)
	assert.Equal(t, before, cfg.AnalysisSettings())
}

func TestUpdateAnalysisSettingsKeepsOldValuesOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())
	before := cfg.AnalysisSettings()

	// A regular file where the config directory should be makes the write fail.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.filePath = filepath.Join(blocker, "config.json")

	got, err := cfg.UpdateAnalysisSettings(func(s types.AnalysisSettings) types.AnalysisSettings {
		s.TopDB = 40
		return s
	})
	require.Error(t, err)
	assert.Equal(t, before, got)
	assert.Equal(t, before, cfg.AnalysisSettings())
}

func TestUpdateAnalysisSettingsAppliesToCurrentValues(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	bump := func(s types.AnalysisSettings) types.AnalysisSettings {
		s.HopLength += 8
		return s
	}
	start := cfg.AnalysisSettings().HopLength

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := cfg.UpdateAnalysisSettings(bump)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, start+64, cfg.AnalysisSettings().HopLength)
}

func TestSnapshotHasExport(t *testing.T) {
	snap := Snapshot{S3: S3Config{Bucket: "b", AccessKeyID: "k"}}
	assert.False(t, snap.HasExport())

	snap.S3.SecretAccessKey = "s"
	assert.True(t, snap.HasExport())
}

func TestSnapshotMaxUploadBytes(t *testing.T) {
	snap := Snapshot{MaxUploadMB: 2}
	assert.Equal(t, int64(2<<20), snap.MaxUploadBytes())
}
