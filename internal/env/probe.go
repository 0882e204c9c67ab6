// Package env detects whether the workshop runs inside a hosted notebook
// runtime and prepares that runtime before the server starts.
package env

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/types"
)

// Markers exposed by the hosted notebook runtime.
var (
	MarkerVars = []string{"COLAB_RELEASE_TAG", "COLAB_GPU", "COLAB_BACKEND_VERSION"}
	MarkerDir  = "/opt/google/colab"
)

// Probe looks for hosted runtime markers. Its lookups are fields so tests
// can simulate either runtime.
type Probe struct {
	LookupEnv func(key string) (string, bool)
	Stat      func(name string) (os.FileInfo, error)
}

// NewProbe returns a Probe backed by the process environment and filesystem.
func NewProbe() *Probe {
	return &Probe{LookupEnv: os.LookupEnv, Stat: os.Stat}
}

// Marker returns the first hosted runtime marker found, or "".
func (p *Probe) Marker() string {
	if p.LookupEnv != nil {
		for _, key := range MarkerVars {
			if _, ok := p.LookupEnv(key); ok {
				return "$" + key
			}
		}
	}
	if p.Stat != nil {
		if info, err := p.Stat(MarkerDir); err == nil && info.IsDir() {
			return MarkerDir
		}
	}
	return ""
}

// Hosted reports whether any hosted runtime marker is present.
func (p *Probe) Hosted() bool {
	return p.Marker() != ""
}

// Environment is the outcome of detection.
type Environment struct {
	Kind   types.EnvironmentKind
	Marker string // what triggered hosted detection, empty otherwise
	Forced bool   // kind came from configuration rather than detection
}

// Hosted reports whether the environment is a hosted runtime.
func (e Environment) Hosted() bool {
	return e.Kind == types.EnvironmentHosted
}

// Detect resolves the environment. A mode other than auto skips the probe.
func Detect(p *Probe, mode string) Environment {
	switch mode {
	case config.ModeHosted:
		return Environment{Kind: types.EnvironmentHosted, Forced: true}
	case config.ModeLocal:
		return Environment{Kind: types.EnvironmentLocal, Forced: true}
	}

	if marker := p.Marker(); marker != "" {
		slog.Info("environment detected", "kind", types.EnvironmentHosted, "marker", marker)
		return Environment{Kind: types.EnvironmentHosted, Marker: marker}
	}
	slog.Info("environment detected", "kind", types.EnvironmentLocal)
	return Environment{Kind: types.EnvironmentLocal}
}

// ShareURL returns the address advertised as the public link in hosted mode:
// publicURL when set, otherwise the first non-loopback IPv4 address.
// It returns "" when no address is usable.
func ShareURL(publicURL string, port int, addrs func() ([]net.Addr, error)) string {
	if publicURL != "" {
		return publicURL
	}
	if addrs == nil {
		return ""
	}

	list, err := addrs()
	if err != nil {
		slog.Warn("failed to list interface addresses", "error", err)
		return ""
	}
	for _, addr := range list {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return fmt.Sprintf("http://%s", net.JoinHostPort(ip4.String(), fmt.Sprint(port)))
		}
	}
	return ""
}
