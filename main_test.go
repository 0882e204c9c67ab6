package main

import (
	"bytes"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/listening-workshop/internal/analysis"
	"github.com/oszuidwest/listening-workshop/internal/audio"
	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/history"
	"github.com/oszuidwest/listening-workshop/internal/types"
)

func newTestServer(t *testing.T, configJSON string) (*Server, *config.Config) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if configJSON != "" {
		require.NoError(t, os.WriteFile(path, []byte(configJSON), 0o600))
	}
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	store, err := history.NewStore(10, nil)
	require.NoError(t, err)

	srv := NewServer(cfg, ServerDeps{
		Analyzer:    analysis.New(audio.NewLoader(""), cfg.AnalysisSettings),
		History:     store,
		Environment: types.EnvironmentInfo{Kind: types.EnvironmentLocal},
	})
	t.Cleanup(srv.version.Stop)
	return srv, cfg
}

// sineWAV returns a mono 16-bit WAV of a 440 Hz tone.
func sineWAV(t *testing.T, rate int, seconds float64) []byte {
	t.Helper()

	n := int(float64(rate) * seconds)
	data := make([]int, n)
	for i := range data {
		data[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(uploadField, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeAnalysis(t *testing.T, rec *httptest.ResponseRecorder) AnalysisResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := serve(srv.SetupRoutes(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAnalyzeUpload(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.SetupRoutes()

	body, contentType := multipartBody(t, "tone.wav", sineWAV(t, 8000, 1.0))
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", contentType)

	resp := decodeAnalysis(t, serve(h, req))
	assert.True(t, resp.Success)
	assert.Equal(t, "tone.wav", resp.Source)
	assert.Contains(t, resp.Summary, "**Analysis complete!**")
	assert.Contains(t, resp.Summary, "- Duration: 1.00 seconds")
	assert.Contains(t, resp.Summary, "- Sample rate: 8000 Hz")
	assert.Contains(t, resp.Summary, "- Array shape: (8000,)")
	require.NotNil(t, resp.Features)
	assert.Equal(t, 8000, resp.Features.Length)
	require.NotEmpty(t, resp.ImageURL)

	img := serve(h, httptest.NewRequest(http.MethodGet, resp.ImageURL, nil))
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(img.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))

	got := serve(h, httptest.NewRequest(http.MethodGet, "/api/analyses/"+resp.ID, nil))
	assert.Equal(t, resp.ID, decodeAnalysis(t, got).ID)
}

func TestAnalyzeSampleTuple(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.SetupRoutes()

	payload, err := json.Marshal(map[string]any{
		"sample_rate": 8000,
		"channels":    2,
		"samples":     make([]float64, 2*4000),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp := decodeAnalysis(t, serve(h, req))
	assert.True(t, resp.Success)
	assert.Equal(t, "recording", resp.Source)
	assert.Contains(t, resp.Summary, "- Duration: 0.50 seconds")
	assert.Contains(t, resp.Summary, "- Estimated tempo: 0.00 BPM")
	assert.Contains(t, resp.Summary, "- Array shape: (4000,)")
}

func TestAnalyzeEmptyTupleReturnsErrorSummary(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze",
		strings.NewReader(`{"name":"empty","sample_rate":44100,"samples":[]}`))
	req.Header.Set("Content-Type", "application/json")

	resp := decodeAnalysis(t, serve(h, req))
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Summary, "**Error processing audio:**"), resp.Summary)
	assert.Empty(t, resp.ImageURL)

	img := serve(h, httptest.NewRequest(http.MethodGet, "/api/analyses/"+resp.ID+"/spectrogram.png", nil))
	assert.Equal(t, http.StatusNotFound, img.Code)

	list := serve(h, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	var body struct {
		Analyses []types.AnalysisSummary `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	require.Len(t, body.Analyses, 1)
	assert.Equal(t, "empty", body.Analyses[0].Source)
	assert.False(t, body.Analyses[0].Success)
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, `{"analysis":{"max_upload_mb":1}}`)
	h := srv.SetupRoutes()

	t.Run("not audio", func(t *testing.T) {
		body, contentType := multipartBody(t, "notes.txt", []byte("just some text, not a recording"))
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
		req.Header.Set("Content-Type", contentType)
		assert.Equal(t, http.StatusUnsupportedMediaType, serve(h, req).Code)
	})

	t.Run("missing field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("x"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})

	t.Run("too large", func(t *testing.T) {
		payload := `{"sample_rate":8000,"samples":[` + strings.Repeat("0.5,", 600_000) + `0]}`
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusRequestEntityTooLarge, serve(h, req).Code)
	})
}

func TestGetUnknownAnalysis(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := serve(srv.SetupRoutes(), httptest.NewRequest(http.MethodGet, "/api/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsAPI(t *testing.T) {
	srv, cfg := newTestServer(t, "")
	h := srv.SetupRoutes()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.AnalysisSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.DefaultAnalysisSettings(), got)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"n_fft":1024,"hop_length":256}`, http.StatusOK},
		{"field out of range", `{"n_fft":1000}`, http.StatusBadRequest},
		{"max below start", `{"max_bpm":100}`, http.StatusBadRequest},
		{"malformed", `{"n_fft":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}

	after := cfg.AnalysisSettings()
	assert.Equal(t, 1024, after.NFFT)
	assert.Equal(t, 256, after.HopLength)
	assert.InDelta(t, types.DefaultMaxBPM, after.MaxBPM, 1e-9)
}

func TestSettingsValidationErrorNamesField(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(`{"top_db":500}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(srv.SetupRoutes(), req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var verr types.ValidationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verr))
	require.NotEmpty(t, verr.Errors)
	assert.Equal(t, "top_db", verr.Errors[0].Field)
}

func TestEventsWithoutLog(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := serve(srv.SetupRoutes(), httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestIndexPage(t *testing.T) {
	srv, _ := newTestServer(t, `{"web":{"title":"Listening Lab"}}`)
	rec := serve(srv.SetupRoutes(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Listening Lab</title>")
	assert.Contains(t, body, "Analyze Audio")
	assert.Contains(t, body, "How to use")
	assert.Contains(t, body, "recordings are decoded in the browser and analyzed without FFmpeg")
	assert.NotContains(t, body, "/logout")
}

func TestStaticAssets(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.SetupRoutes()

	css := serve(h, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	assert.Equal(t, "text/css", css.Header().Get("Content-Type"))

	favicon := serve(h, httptest.NewRequest(http.MethodGet, "/favicon.svg", nil))
	assert.Equal(t, "image/svg+xml", favicon.Header().Get("Content-Type"))
	assert.Contains(t, favicon.Body.String(), config.DefaultColorLight)

	missing := serve(h, httptest.NewRequest(http.MethodGet, "/nope.js", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func TestLoginFlow(t *testing.T) {
	srv, _ := newTestServer(t, `{"system":{"username":"host","password":"secret"}}`)
	h := srv.SetupRoutes()

	assert.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest(http.MethodGet, "/api/analyses", nil)).Code)
	assert.Equal(t, http.StatusFound, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	login := func(password string) *httptest.ResponseRecorder {
		page := serve(h, httptest.NewRequest(http.MethodGet, "/login", nil))
		require.Equal(t, http.StatusOK, page.Code)
		m := csrfPattern.FindStringSubmatch(page.Body.String())
		require.Len(t, m, 2)

		form := url.Values{"csrf_token": {m[1]}, "username": {"host"}, "password": {password}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return serve(h, req)
	}

	bad := login("wrong")
	assert.Equal(t, http.StatusOK, bad.Code)
	assert.Contains(t, bad.Body.String(), "Invalid username or password")

	good := login("secret")
	require.Equal(t, http.StatusFound, good.Code)
	cookies := good.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	page := httptest.NewRequest(http.MethodGet, "/", nil)
	page.AddCookie(cookies[0])
	assert.Contains(t, serve(h, page).Body.String(), "/logout")
}

func TestLoginRejectsMissingCSRF(t *testing.T) {
	srv, _ := newTestServer(t, `{"system":{"password":"secret"}}`)
	form := url.Values{"username": {"admin"}, "password": {"secret"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	assert.Equal(t, http.StatusBadRequest, serve(srv.SetupRoutes(), req).Code)
}

func TestBuildWSStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")
	status := srv.buildWSStatus()

	assert.Equal(t, "status", status.Type)
	assert.Equal(t, types.EnvironmentLocal, status.Environment.Kind)
	assert.Equal(t, types.DefaultAnalysisSettings(), status.Settings)
	assert.False(t, status.ExportEnabled)
	assert.Zero(t, status.AnalysisCount)
	assert.Equal(t, "dev", status.Version.Current)
}

func TestWebSocketEventLoopLeavesSendOpen(t *testing.T) {
	srv, _ := newTestServer(t, "")

	send := make(chan any, 4)
	done := make(chan struct{})
	close(done)
	srv.runWebSocketEventLoop(send, done, make(chan struct{}))

	// Async command handlers may still reply after the connection is gone.
	assert.NotPanics(t, func() { send <- "late reply" })
}
