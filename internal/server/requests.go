package server

import "github.com/oszuidwest/listening-workshop/internal/types"

// SettingsUpdateRequest is the request body for settings/update and
// POST /api/settings. Omitted fields keep their current value.
type SettingsUpdateRequest struct {
	NFFT      *int     `json:"n_fft" validate:"omitempty,oneof=256 512 1024 2048 4096 8192"`
	HopLength *int     `json:"hop_length" validate:"omitempty,gte=64,lte=8192"`
	TopDB     *float64 `json:"top_db" validate:"omitempty,gte=10,lte=120"`
	StartBPM  *float64 `json:"start_bpm" validate:"omitempty,gte=30,lte=300"`
	MaxBPM    *float64 `json:"max_bpm" validate:"omitempty,gte=60,lte=480"`
}

// Apply returns current with the requested changes applied.
func (r *SettingsUpdateRequest) Apply(current types.AnalysisSettings) types.AnalysisSettings {
	if r.NFFT != nil {
		current.NFFT = *r.NFFT
	}
	if r.HopLength != nil {
		current.HopLength = *r.HopLength
	}
	if r.TopDB != nil {
		current.TopDB = *r.TopDB
	}
	if r.StartBPM != nil {
		current.StartBPM = *r.StartBPM
	}
	if r.MaxBPM != nil {
		current.MaxBPM = *r.MaxBPM
	}
	return current
}
