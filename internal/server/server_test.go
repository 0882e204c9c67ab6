package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/types"
)

type fakeSettings struct {
	mu sync.Mutex
	s  types.AnalysisSettings
}

func (f *fakeSettings) AnalysisSettings() types.AnalysisSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSettings) UpdateAnalysisSettings(fn func(types.AnalysisSettings) types.AnalysisSettings) (types.AnalysisSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := fn(f.s)
	if err := config.ValidateAnalysis(next); err != nil {
		return f.s, err
	}
	f.s = next
	return next, nil
}

type fakeLister []types.AnalysisSummary

func (f fakeLister) Summaries() []types.AnalysisSummary { return f }

type fakeTester struct{ err error }

func (f fakeTester) TestConnection(context.Context) error { return f.err }

// slowTester fails after a delay and closes returned once it has.
type slowTester struct {
	delay    time.Duration
	returned chan struct{}
}

func (f slowTester) TestConnection(context.Context) error {
	defer close(f.returned)
	time.Sleep(f.delay)
	return errors.New("endpoint unreachable")
}

func newHandler(exporter ConnectionTester) (*CommandHandler, *fakeSettings) {
	settings := &fakeSettings{s: types.DefaultAnalysisSettings()}
	lister := fakeLister{{ID: "a1", Source: "clip.wav", Success: true, DurationSec: 2}}
	return NewCommandHandler(settings, lister, exporter), settings
}

func receive(t *testing.T, send <-chan any) any {
	t.Helper()
	select {
	case msg := <-send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
		return nil
	}
}

func handle(h *CommandHandler, cmdType, data string) (chan any, int) {
	send := make(chan any, 4)
	triggered := 0
	cmd := WSCommand{Type: cmdType}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}
	h.Handle(cmd, send, func() { triggered++ })
	return send, triggered
}

func TestSettingsGet(t *testing.T) {
	h, _ := newHandler(nil)
	send, triggered := handle(h, "settings/get", "")

	resp, ok := receive(t, send).(types.WSSettingsResponse)
	require.True(t, ok)
	assert.Equal(t, "settings", resp.Type)
	assert.Equal(t, types.DefaultAnalysisSettings(), resp.Settings)
	assert.Equal(t, 1, triggered)
}

func TestSettingsUpdate(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		success   bool
		field     string
		wantNFFT  int
		wantTopDB float64
	}{
		{"partial update", `{"n_fft":1024,"top_db":60}`, true, "", 1024, 60},
		{"not a power of two", `{"n_fft":1000}`, false, "n_fft", 2048, 80},
		{"top_db out of range", `{"top_db":5}`, false, "top_db", 2048, 80},
		{"max below start", `{"max_bpm":100}`, false, "", 2048, 80},
		{"hop longer than window", `{"n_fft":256,"hop_length":512}`, false, "", 2048, 80},
		{"invalid json", `{"n_fft":`, false, "", 2048, 80},
		{"missing data", ``, false, "", 2048, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, settings := newHandler(nil)
			send, _ := handle(h, "settings/update", tt.data)

			res, ok := receive(t, send).(types.WSCommandResult)
			require.True(t, ok)
			assert.Equal(t, "settings/update_result", res.Type)
			assert.Equal(t, tt.success, res.Success)
			if !tt.success {
				require.NotNil(t, res.Error)
				require.NotEmpty(t, res.Error.Errors)
				assert.Equal(t, tt.field, res.Error.Errors[0].Field)
			}

			got := settings.AnalysisSettings()
			assert.Equal(t, tt.wantNFFT, got.NFFT)
			assert.InDelta(t, tt.wantTopDB, got.TopDB, 1e-9)
		})
	}
}

func TestAnalysesList(t *testing.T) {
	h, _ := newHandler(nil)
	send, _ := handle(h, "analyses/list", "")

	resp, ok := receive(t, send).(types.WSAnalysesResponse)
	require.True(t, ok)
	require.Len(t, resp.Analyses, 1)
	assert.Equal(t, "a1", resp.Analyses[0].ID)
}

func TestExportTest(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, _ := newHandler(nil)
		send, _ := handle(h, "export/test", "")

		res := receive(t, send).(types.WSCommandResult)
		assert.False(t, res.Success)
		assert.Equal(t, ErrExportDisabled.Error(), res.Error.Error())
	})

	t.Run("success", func(t *testing.T) {
		h, _ := newHandler(fakeTester{})
		send, _ := handle(h, "export/test", "")

		res := receive(t, send).(types.WSCommandResult)
		assert.True(t, res.Success)
		assert.Equal(t, "export/test_result", res.Type)
	})

	t.Run("failure", func(t *testing.T) {
		h, _ := newHandler(fakeTester{err: errors.New("bucket not found")})
		send, _ := handle(h, "export/test", "")

		res := receive(t, send).(types.WSCommandResult)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error.Error(), "bucket not found")
	})

	t.Run("connection closed while running", func(t *testing.T) {
		returned := make(chan struct{})
		h, _ := newHandler(slowTester{delay: 50 * time.Millisecond, returned: returned})

		send := make(chan any, 4)
		h.Handle(WSCommand{Type: "export/test"}, send, func() {})
		close(send)

		select {
		case <-returned:
		case <-time.After(2 * time.Second):
			t.Fatal("export test never finished")
		}
		// Give the handler time to attempt its reply on the closed channel.
		time.Sleep(50 * time.Millisecond)
	})
}

func TestSendOnClosedChannelIsDropped(t *testing.T) {
	send := make(chan any, 1)
	close(send)

	assert.NotPanics(t, func() { SendError(send, "export/test", errors.New("gone")) })
	assert.NotPanics(t, func() { SendSuccess(send, "export/test", nil) })
	assert.NotPanics(t, func() { SendData(send, "x") })
}

func TestUnknownCommandStillTriggersStatus(t *testing.T) {
	h, _ := newHandler(nil)
	send, triggered := handle(h, "nope/what", "")

	assert.Empty(t, send)
	assert.Equal(t, 1, triggered)
}

func TestValidateRequest(t *testing.T) {
	hop := 32
	assert.NotNil(t, ValidateRequest(&SettingsUpdateRequest{HopLength: &hop}))

	hop = 256
	assert.Nil(t, ValidateRequest(&SettingsUpdateRequest{HopLength: &hop}))
	assert.Nil(t, ValidateRequest(&SettingsUpdateRequest{}))
}

func TestSettingsUpdateRequestApply(t *testing.T) {
	nfft, maxBPM := 4096, 200.0
	req := SettingsUpdateRequest{NFFT: &nfft, MaxBPM: &maxBPM}

	got := req.Apply(types.DefaultAnalysisSettings())
	assert.Equal(t, 4096, got.NFFT)
	assert.InDelta(t, 200.0, got.MaxBPM, 1e-9)
	assert.Equal(t, types.DefaultHopLength, got.HopLength)
}

func TestCheckOrigin(t *testing.T) {
	u := NewUpgrader("https://abc123.example.dev")

	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "workshop.local:8080", true},
		{"http://localhost:3000", "workshop.local:8080", true},
		{"http://workshop.local:8080", "workshop.local:8080", true},
		{"http://192.168.1.20:8080", "other:8080", true},
		{"https://abc123.example.dev", "10.0.0.1:8080", true},
		{"https://evil.example.com", "workshop.local:8080", false},
		{"://bad", "workshop.local:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, u.checkOrigin(r))
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	sm := NewSessionManager(nil)

	token := sm.Create()
	require.NotEmpty(t, token)
	assert.True(t, sm.Validate(token))

	sm.Delete(token)
	assert.False(t, sm.Validate(token))
	assert.False(t, sm.Validate(""))
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	sm := NewSessionManager(nil)

	token := sm.CreateCSRFToken()
	assert.True(t, sm.ValidateCSRFToken(token))
	assert.False(t, sm.ValidateCSRFToken(token))
	assert.False(t, sm.ValidateCSRFToken("unknown"))
}

func TestLogin(t *testing.T) {
	sm := NewSessionManager(nil)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	assert.False(t, sm.Login(rec, r, "admin", "wrong", "admin", "secret"))
	assert.Empty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	require.True(t, sm.Login(rec, r, "admin", "secret", "admin", "secret"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, sm.Validate(cookies[0].Value))

	logoutReq := httptest.NewRequest(http.MethodGet, "/logout", nil)
	logoutReq.AddCookie(cookies[0])
	sm.Logout(httptest.NewRecorder(), logoutReq)
	assert.False(t, sm.Validate(cookies[0].Value))
}

func TestAuthMiddleware(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	t.Run("disabled passes through", func(t *testing.T) {
		sm := NewSessionManager(func() bool { return false })
		rec := httptest.NewRecorder()
		sm.AuthMiddleware()(ok)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	sm := NewSessionManager(func() bool { return true })
	tests := []struct {
		path string
		want int
	}{
		{"/", http.StatusFound},
		{"/api/analyses", http.StatusUnauthorized},
		{"/ws", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sm.AuthMiddleware()(ok)(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("valid session", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sm.Create()})
		rec := httptest.NewRecorder()
		sm.AuthMiddleware()(ok)(rec, r)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
