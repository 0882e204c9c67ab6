package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/types"
)

const exportTestTimeout = 45 * time.Second

// ErrExportDisabled is returned by export/test when no exporter is configured.
var ErrExportDisabled = errors.New("S3 export is not configured")

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SettingsStore reads and persists analysis settings. UpdateAnalysisSettings
// applies fn to the current settings atomically and returns the stored result.
type SettingsStore interface {
	AnalysisSettings() types.AnalysisSettings
	UpdateAnalysisSettings(fn func(types.AnalysisSettings) types.AnalysisSettings) (types.AnalysisSettings, error)
}

// AnalysisLister lists recent analyses, newest first.
type AnalysisLister interface {
	Summaries() []types.AnalysisSummary
}

// ConnectionTester checks the export destination.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	settings SettingsStore
	analyses AnalysisLister
	exporter ConnectionTester
}

// NewCommandHandler creates a new command handler. exporter may be nil.
func NewCommandHandler(settings SettingsStore, analyses AnalysisLister, exporter ConnectionTester) *CommandHandler {
	return &CommandHandler{
		settings: settings,
		analyses: analyses,
		exporter: exporter,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "settings/update").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "settings":
		h.handleSettings(action, cmd, send)
	case "analyses":
		h.handleAnalyses(action, send)
	case "export":
		h.handleExport(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendData(send, types.WSSettingsResponse{Type: "settings", Settings: h.settings.AnalysisSettings()})
	case "update":
		HandleCommand(cmd, send, func(req *SettingsUpdateRequest) error {
			next, err := h.settings.UpdateAnalysisSettings(req.Apply)
			if err != nil {
				return err
			}
			slog.Info("analysis settings updated", "n_fft", next.NFFT, "hop_length", next.HopLength, "top_db", next.TopDB)
			return nil
		})
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// handleAnalyses routes analyses/* commands
func (h *CommandHandler) handleAnalyses(action string, send chan<- any) {
	switch action {
	case "list":
		SendData(send, types.WSAnalysesResponse{Type: "analyses", Analyses: h.analyses.Summaries()})
	default:
		slog.Warn("unknown analyses action", "action", action)
	}
}

// handleExport routes export/* commands
func (h *CommandHandler) handleExport(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test":
		if h.exporter == nil {
			SendError(send, cmd.Type, ErrExportDisabled)
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), exportTestTimeout)
			defer cancel()
			return nil, h.exporter.TestConnection(ctx)
		})
	default:
		slog.Warn("unknown export action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
