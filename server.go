package main

import (
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/analysis"
	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/export"
	"github.com/oszuidwest/listening-workshop/internal/history"
	"github.com/oszuidwest/listening-workshop/internal/server"
	"github.com/oszuidwest/listening-workshop/internal/types"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

type loginData struct {
	Error      bool
	CSRFToken  string
	Version    string
	Year       int
	Title      string
	PrimaryCSS template.CSS
}

type indexData struct {
	Version     string
	Year        int
	Title       string
	PrimaryCSS  template.CSS
	AuthEnabled bool
	Hosted      bool
	ShareURL    string
	MaxUploadMB int
}

// ServerDeps are the components the web interface drives.
type ServerDeps struct {
	Analyzer        *analysis.Analyzer
	History         *history.Store
	Exporter        *export.Exporter // nil when export is disabled
	Environment     types.EnvironmentInfo
	FFmpegAvailable bool
}

// Server is an HTTP server that provides the web interface for the workshop.
type Server struct {
	config          *config.Config
	analyzer        *analysis.Analyzer
	history         *history.Store
	exporter        *export.Exporter
	sessions        *server.SessionManager
	commands        *server.CommandHandler
	upgrader        *server.Upgrader
	version         *VersionChecker
	env             types.EnvironmentInfo
	ffmpegAvailable bool

	// analyzeMu runs one analysis at a time.
	analyzeMu sync.Mutex
}

// NewServer returns a new Server configured with the provided config and components.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	sessions := server.NewSessionManager(func() bool {
		snap := cfg.Snapshot()
		return snap.AuthEnabled()
	})

	// A nil *Exporter must not become a non-nil interface value.
	var tester server.ConnectionTester
	if deps.Exporter != nil {
		tester = deps.Exporter
	}
	commands := server.NewCommandHandler(cfg, deps.History, tester)

	return &Server{
		config:          cfg,
		analyzer:        deps.Analyzer,
		history:         deps.History,
		exporter:        deps.Exporter,
		sessions:        sessions,
		commands:        commands,
		upgrader:        server.NewUpgrader(deps.Environment.ShareURL, cfg.Snapshot().PublicURL),
		version:         NewVersionChecker(),
		env:             deps.Environment,
		ffmpegAvailable: deps.FFmpegAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader reports the connection gone. send is never closed because
// async command handlers may still hold it.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop sends periodic and on-demand status updates.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	statusTicker := time.NewTicker(3000 * time.Millisecond)
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Environment:     s.env,
		Settings:        s.config.AnalysisSettings(),
		AnalysisCount:   s.history.Len(),
		ExportEnabled:   s.exporter != nil,
		Version:         s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Public static assets (needed for login page styling)
	mux.HandleFunc("GET /style.css", s.handlePublicStatic)
	mux.HandleFunc("GET /favicon.svg", s.handleFavicon)

	// Protected API
	mux.HandleFunc("POST /api/analyze", auth(s.handleAnalyze))
	mux.HandleFunc("GET /api/analyses", auth(s.handleListAnalyses))
	mux.HandleFunc("GET /api/analyses/{id}", auth(s.handleGetAnalysis))
	mux.HandleFunc("GET /api/analyses/{id}/spectrogram.png", auth(s.handleSpectrogram))
	mux.HandleFunc("GET /api/settings", auth(s.handleGetSettings))
	mux.HandleFunc("POST /api/settings", auth(s.handleUpdateSettings))
	mux.HandleFunc("GET /api/events", auth(s.handleEvents))

	// Protected routes
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleStatic))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handlePublicStatic handles requests for static files without authentication.
func (s *Server) handlePublicStatic(w http.ResponseWriter, r *http.Request) {
	if !serveStaticFile(w, r.URL.Path) {
		http.NotFound(w, r)
	}
}

// handleFavicon serves the favicon with the configured accent color.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: cfg.ColorLight}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Authenticated(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	cfg := s.config.Snapshot()
	data := loginData{
		Version:    Version,
		Year:       time.Now().Year(),
		CSRFToken:  s.sessions.CreateCSRFToken(),
		Title:      cfg.Title,
		PrimaryCSS: template.CSS(util.GenerateBrandCSS(cfg.ColorLight, cfg.ColorDark)),
	}

	if r.Method == http.MethodPost {
		csrfToken := r.FormValue("csrf_token")
		if !s.sessions.ValidateCSRFToken(csrfToken) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		username := r.FormValue("username")
		password := r.FormValue("password")

		if s.sessions.Login(w, r, username, password, cfg.WebUser, cfg.WebPassword) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		slog.Warn("failed login attempt", "remote", r.RemoteAddr)
		data.Error = true
		data.CSRFToken = s.sessions.CreateCSRFToken() // New token for retry
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
	// favicon.svg is served dynamically via handleFavicon
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	if path == "/index.html" {
		cfg := s.config.Snapshot()
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, indexData{
			Version:     Version,
			Year:        time.Now().Year(),
			Title:       cfg.Title,
			PrimaryCSS:  template.CSS(util.GenerateBrandCSS(cfg.ColorLight, cfg.ColorDark)),
			AuthEnabled: cfg.AuthEnabled(),
			Hosted:      s.env.Kind == types.EnvironmentHosted,
			ShareURL:    s.env.ShareURL,
			MaxUploadMB: cfg.MaxUploadMB,
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}

	http.NotFound(w, r)
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	cfg := s.config.Snapshot()
	addr := net.JoinHostPort(cfg.WebHost, strconv.Itoa(cfg.WebPort))
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
