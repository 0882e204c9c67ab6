package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/oszuidwest/listening-workshop/internal/analysis"
	"github.com/oszuidwest/listening-workshop/internal/audio"
	"github.com/oszuidwest/listening-workshop/internal/export"
	"github.com/oszuidwest/listening-workshop/internal/history"
	"github.com/oszuidwest/listening-workshop/internal/server"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

const (
	uploadField    = "audio"
	eventsPageSize = 100
	multipartMem   = 8 << 20
)

// errUnsupportedMedia is returned for uploads that are not audio or video.
var errUnsupportedMedia = errors.New("uploaded file is not an audio file")

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, requestErrorStatus(err), "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// requestErrorStatus maps a request body error to an HTTP status.
func requestErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

// AnalyzeRequest is the JSON body of POST /api/analyze: an in-memory clip
// as sample rate plus interleaved samples. Channels defaults to 1.
type AnalyzeRequest struct {
	Name string `json:"name"`
	audio.PCM
}

// AnalysisResponse describes one stored analysis.
type AnalysisResponse struct {
	ID        string             `json:"id"`
	Source    string             `json:"source"`
	CreatedAt time.Time          `json:"created_at"`
	Success   bool               `json:"success"`
	Summary   string             `json:"summary"`
	ImageURL  string             `json:"image_url,omitempty"`
	Features  *analysis.Features `json:"features,omitempty"`
}

func newAnalysisResponse(e *history.Entry) AnalysisResponse {
	resp := AnalysisResponse{
		ID:        e.ID,
		Source:    e.Source,
		CreatedAt: e.CreatedAt,
		Success:   e.OK(),
		Summary:   e.Summary,
		Features:  e.Features,
	}
	if len(e.Image) > 0 {
		resp.ImageURL = "/api/analyses/" + e.ID + "/spectrogram.png"
	}
	return resp
}

// handleAnalyze analyzes an uploaded file or an in-memory clip.
// POST /api/analyze
//
// A processing failure is not an HTTP error: the response carries the error
// summary and no image, like a successful one carries the results.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	if limit := cfg.MaxUploadBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	in, cleanup, err := s.readAnalyzeInput(r)
	if err != nil {
		s.writeError(w, requestErrorStatus(err), err.Error())
		return
	}
	defer cleanup()

	s.analyzeMu.Lock()
	res := s.analyzer.Process(r.Context(), in)
	s.analyzeMu.Unlock()

	entry := s.history.Add(in.Source(), res)
	if entry.OK() && s.exporter != nil {
		s.exporter.Enqueue(export.Item{
			ID:        entry.ID,
			Source:    entry.Source,
			CreatedAt: entry.CreatedAt,
			Summary:   entry.Summary,
			Features:  entry.Features,
			Image:     entry.Image,
		})
	}

	s.writeJSON(w, http.StatusOK, newAnalysisResponse(entry))
}

// readAnalyzeInput builds the analysis input from a multipart upload or a
// JSON sample tuple. cleanup removes any temporary file.
func (s *Server) readAnalyzeInput(r *http.Request) (in analysis.Input, cleanup func(), err error) {
	cleanup = func() {}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return in, cleanup, fmt.Errorf("invalid content type: %w", err)
	}

	switch mediaType {
	case "application/json":
		var req AnalyzeRequest
		if err := s.readJSON(r, &req); err != nil {
			return in, cleanup, fmt.Errorf("invalid JSON: %w", err)
		}
		if req.Channels == 0 {
			req.Channels = 1
		}
		return analysis.Input{Name: req.Name, PCM: &req.PCM}, cleanup, nil

	case "multipart/form-data":
		path, name, err := saveUpload(r)
		if err != nil {
			return in, cleanup, err
		}
		cleanup = func() {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove upload", "path", path, "error", err)
			}
		}
		return analysis.Input{Name: name, Path: path}, cleanup, nil

	default:
		return in, cleanup, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// saveUpload stores the uploaded audio field in a temporary file and returns
// its path and the client's filename.
func saveUpload(r *http.Request) (path, name string, err error) {
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		return "", "", util.WrapError("read upload", err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll() //nolint:errcheck // Best-effort cleanup of spooled parts
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return "", "", util.WrapError("read upload", err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only multipart file
	}()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return "", "", util.WrapError("detect upload type", err)
	}
	if !isMedia(mtype) {
		slog.Warn("rejected upload", "filename", header.Filename, "mime", mtype.String())
		return "", "", fmt.Errorf("%w (detected %s)", errUnsupportedMedia, mtype.String())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", "", util.WrapError("rewind upload", err)
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = mtype.Extension()
	}
	tmp, err := os.CreateTemp("", "workshop-*"+ext)
	if err != nil {
		return "", "", util.WrapError("create temp file", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()           //nolint:errcheck // Already failing
		_ = os.Remove(tmp.Name()) //nolint:errcheck // Already failing
		return "", "", util.WrapError("store upload", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // Already failing
		return "", "", util.WrapError("store upload", err)
	}

	slog.Info("upload received", "filename", header.Filename, "mime", mtype.String(), "bytes", header.Size)
	return tmp.Name(), header.Filename, nil
}

// isMedia reports whether m is an audio or video container.
func isMedia(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		t := m.String()
		if strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/") || t == "application/ogg" {
			return true
		}
	}
	return false
}

// handleListAnalyses lists recent analyses, newest first.
// GET /api/analyses
func (s *Server) handleListAnalyses(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"analyses": s.history.Summaries(),
	})
}

// handleGetAnalysis returns one analysis.
// GET /api/analyses/{id}
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.history.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	s.writeJSON(w, http.StatusOK, newAnalysisResponse(entry))
}

// handleSpectrogram serves the rendered spectrogram of one analysis.
// GET /api/analyses/{id}/spectrogram.png
func (s *Server) handleSpectrogram(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.history.Get(r.PathValue("id"))
	if !ok || len(entry.Image) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(entry.Image); err != nil {
		slog.Debug("failed to write spectrogram", "id", entry.ID, "error", err)
	}
}

// handleGetSettings returns the analysis settings.
// GET /api/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.AnalysisSettings())
}

// handleUpdateSettings applies a partial settings update.
// POST /api/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.SettingsUpdateRequest](s, w, r)
	if !ok {
		return
	}

	if verr := server.ValidateRequest(&req); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, verr)
		return
	}

	next, err := s.config.UpdateAnalysisSettings(req.Apply)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("analysis settings updated", "n_fft", next.NFFT, "hop_length", next.HopLength, "top_db", next.TopDB)
	s.writeJSON(w, http.StatusOK, next)
}

// handleEvents returns the newest entries of the event log.
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	logPath := s.history.LogPath()
	if logPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "Event log path not configured",
		})
		return
	}

	events, err := history.ReadLast(logPath, eventsPageSize)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  events,
		"path":    logPath,
	})
}

// handleHealth reports liveness.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"ffmpeg":  s.ffmpegAvailable,
	})
}
