// Package main provides a small web workshop that analyzes an uploaded or
// recorded audio clip: it reports duration and tempo and renders a spectrogram.
//
// Usage:
//
//	workshop [-config path/to/config.json]
//
// If -config is not specified, the workshop looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/listening-workshop/internal/analysis"
	"github.com/oszuidwest/listening-workshop/internal/audio"
	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/env"
	"github.com/oszuidwest/listening-workshop/internal/export"
	"github.com/oszuidwest/listening-workshop/internal/history"
	"github.com/oszuidwest/listening-workshop/internal/types"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	envInfo := prepareEnvironment(ctx, &snap)

	// FFmpeg may have been installed by provisioning, so resolve it afterwards.
	ffmpegPath := util.ResolveFFmpegPath(cfg.FFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - only WAV files can be analyzed",
			"configured_path", cfg.FFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	analyzer := analysis.New(audio.NewLoader(ffmpegPath), cfg.AnalysisSettings)

	var eventLog *history.Logger
	if snap.HistoryLogPath != "" {
		l, err := history.NewLogger(snap.HistoryLogPath)
		if err != nil {
			slog.Error("failed to open event log, continuing without", "path", snap.HistoryLogPath, "error", err)
		} else {
			eventLog = l
		}
	}

	store, err := history.NewStore(snap.HistorySize, eventLog)
	if err != nil {
		slog.Error("failed to create history", "error", err)
		os.Exit(1)
	}

	var exporter *export.Exporter
	if snap.HasExport() {
		exporter, err = export.New(snap.S3)
		if err != nil {
			slog.Error("failed to start export", "error", err)
		} else {
			exporter.OnDone = func(id string, err error) {
				if err != nil {
					return
				}
				store.Record(&history.Event{Timestamp: time.Now(), Type: history.EventExported, ID: id})
			}
			slog.Info("S3 export enabled", "bucket", snap.S3.Bucket, "prefix", snap.S3.Prefix)
		}
	}

	srv := NewServer(cfg, ServerDeps{
		Analyzer:        analyzer,
		History:         store,
		Exporter:        exporter,
		Environment:     envInfo,
		FFmpegAvailable: ffmpegAvailable,
	})

	httpServer := srv.Start()
	if envInfo.ShareURL != "" {
		slog.Info("public share link", "url", envInfo.ShareURL)
	}

	<-ctx.Done()

	slog.Info("shutting down")

	// Stop version checker goroutine
	srv.version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if exporter != nil {
		exporter.Stop()
	}

	if err := store.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}

// prepareEnvironment detects the runtime and, when hosted, installs
// dependencies and resolves the share link. Install failures are logged only.
func prepareEnvironment(ctx context.Context, snap *config.Snapshot) types.EnvironmentInfo {
	detected := env.Detect(env.NewProbe(), snap.Mode)
	info := types.EnvironmentInfo{Kind: detected.Kind}

	if !detected.Hosted() {
		slog.Info("running in local mode, using the locally managed environment")
		return info
	}

	slog.Info("running in hosted mode", "marker", detected.Marker, "forced", detected.Forced)

	report := env.NewProvisioner(env.ProvisionerConfig{
		ManifestURL: snap.ManifestURL,
		Installer:   snap.Installer,
		Packages:    snap.Packages,
	}).Run(ctx)
	info.Installed = report.Installed
	info.Failed = report.Failed
	if len(report.Failed) > 0 {
		slog.Warn("some dependencies failed to install", "failed", report.Failed)
	}

	info.ShareURL = env.ShareURL(snap.PublicURL, snap.WebPort, net.InterfaceAddrs)
	return info
}
