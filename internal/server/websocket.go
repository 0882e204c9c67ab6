package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Upgrader upgrades HTTP requests to WebSocket connections after checking
// the request origin.
type Upgrader struct {
	upgrader websocket.Upgrader
	extra    []string
}

// NewUpgrader returns an Upgrader that also accepts the hosts of the given
// public URLs, such as the share link advertised in hosted mode.
func NewUpgrader(publicURLs ...string) *Upgrader {
	u := &Upgrader{}
	for _, raw := range publicURLs {
		if raw == "" {
			continue
		}
		if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
			u.extra = append(u.extra, strings.ToLower(parsed.Hostname()))
		}
	}
	u.upgrader.CheckOrigin = u.checkOrigin
	return u
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func (u *Upgrader) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := strings.ToLower(parsed.Hostname())

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == strings.ToLower(requestHost) {
		return true
	}

	if slices.Contains(u.extra, host) {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// Upgrade upgrades an HTTP connection to WebSocket.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.upgrader.Upgrade(w, r, nil)
}
