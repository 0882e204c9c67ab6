package types

// WSSettingsResponse is sent in response to settings/get.
type WSSettingsResponse struct {
	Type     string           `json:"type"` // "settings"
	Settings AnalysisSettings `json:"settings"`
}

// WSAnalysesResponse is sent in response to analyses/list.
type WSAnalysesResponse struct {
	Type     string            `json:"type"` // "analyses"
	Analyses []AnalysisSummary `json:"analyses"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}
