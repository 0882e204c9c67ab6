package env

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/util"
)

const (
	manifestTimeout  = 30 * time.Second
	manifestAttempts = 3
	manifestMaxBytes = 64 << 10
	installTimeout   = 10 * time.Minute
)

// ErrEmptyManifest is returned when a manifest lists no packages.
var ErrEmptyManifest = errors.New("manifest lists no packages")

// Runner executes an installer command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct{}

// Run executes name with args and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Report lists the outcome of provisioning.
type Report struct {
	Installed    []string
	Failed       []string
	UsedFallback bool
}

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	ManifestURL string   // package list, one per line
	Installer   []string // command prefix; packages are appended
	Packages    []string // fallback list installed one at a time
	Client      *http.Client
	Runner      Runner
	Backoff     *util.Backoff // delay between manifest download attempts
}

// Provisioner installs runtime dependencies in a hosted environment.
type Provisioner struct {
	cfg ProvisionerConfig
}

// NewProvisioner returns a Provisioner, filling unset dependencies.
func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: manifestTimeout}
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = util.NewBackoff(2*time.Second, 30*time.Second)
	}
	return &Provisioner{cfg: cfg}
}

// Run downloads the manifest and installs every package with one installer
// call. If either step fails it installs the fallback packages one by one.
// Install failures are logged and reported, never returned.
func (p *Provisioner) Run(ctx context.Context) Report {
	slog.Info("installing dependencies", "manifest", p.cfg.ManifestURL)

	packages, err := p.fetchManifest(ctx)
	if err == nil {
		slog.Info("manifest downloaded", "packages", len(packages))
		if err = p.install(ctx, packages...); err == nil {
			slog.Info("dependencies installed", "packages", packages)
			return Report{Installed: packages}
		}
	}

	slog.Warn("dependency install failed, installing packages individually", "error", err)
	return p.installEach(ctx)
}

func (p *Provisioner) installEach(ctx context.Context) Report {
	report := Report{UsedFallback: true}
	for _, pkg := range p.cfg.Packages {
		if err := p.install(ctx, pkg); err != nil {
			slog.Error("package install failed", "package", pkg, "error", err)
			report.Failed = append(report.Failed, pkg)
			continue
		}
		slog.Info("package installed", "package", pkg)
		report.Installed = append(report.Installed, pkg)
	}
	return report
}

func (p *Provisioner) install(ctx context.Context, packages ...string) error {
	if len(p.cfg.Installer) == 0 {
		return fmt.Errorf("no installer command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	args := append(slices.Clone(p.cfg.Installer[1:]), packages...)
	output, err := p.cfg.Runner.Run(ctx, p.cfg.Installer[0], args...)
	if err != nil {
		if msg := util.ExtractLastError(string(output)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func (p *Provisioner) fetchManifest(ctx context.Context) ([]string, error) {
	if p.cfg.ManifestURL == "" {
		return nil, fmt.Errorf("no manifest URL configured")
	}

	var packages []string
	err := util.Retry(ctx, p.cfg.Backoff, manifestAttempts, func(ctx context.Context) error {
		var err error
		packages, err = p.downloadManifest(ctx)
		if err != nil {
			slog.Debug("manifest download attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		return nil, util.WrapError("download manifest", err)
	}
	return packages, nil
}

func (p *Provisioner) downloadManifest(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ManifestURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup; error doesn't affect caller
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return ParseManifest(io.LimitReader(resp.Body, manifestMaxBytes))
}

// ParseManifest reads one package per line. Blank lines and text after '#'
// are ignored.
func ParseManifest(r io.Reader) ([]string, error) {
	var packages []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			packages = append(packages, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(packages) == 0 {
		return nil, ErrEmptyManifest
	}
	return packages, nil
}
