// Package coverage manages the shared coverage context for a run. The
// server process and the test processes write counter data into one
// GOCOVERDIR, so one merged report covers both sides of the wire.
package coverage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	dataDirName     = "covdata"
	profileFileName = "coverage.txt"
	summaryFileName = "coverage-summary.txt"
)

// Artifacts are the merged coverage outputs of a finished run.
type Artifacts struct {
	// DataDir is the raw GOCOVERDIR with per-process counter files.
	DataDir string
	// ProfilePath is the merged textfmt profile.
	ProfilePath string
	// SummaryPath is the per-package percent summary.
	SummaryPath string
}

// Paths lists the artifact paths that exist on disk.
func (a *Artifacts) Paths() []string {
	var paths []string
	for _, p := range []string{a.ProfilePath, a.SummaryPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// Config holds coverage session configuration.
type Config struct {
	Log *slog.Logger
	// SandboxDir is where the data directory and reports are placed.
	SandboxDir string
	// GoBinary runs `go tool covdata` for merging.
	GoBinary string
}

// Session is the process-wide instrumentation context wrapping both the
// server and the test runner. It spans the whole run and is finalized once
// every wrapped process has exited.
type Session struct {
	log      *slog.Logger
	dataDir  string
	sandbox  string
	goBinary string
}

// NewSession creates the shared coverage directory inside the sandbox.
func NewSession(cfg Config) (*Session, error) {
	if cfg.SandboxDir == "" {
		return nil, fmt.Errorf("sandbox directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}

	dataDir := filepath.Join(cfg.SandboxDir, dataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create coverage data directory: %w", err)
	}

	return &Session{
		log:      cfg.Log,
		dataDir:  dataDir,
		sandbox:  cfg.SandboxDir,
		goBinary: cfg.GoBinary,
	}, nil
}

// DataDir returns the shared GOCOVERDIR.
func (s *Session) DataDir() string {
	return s.dataDir
}

// Env returns the environment entries every wrapped process must run with.
// Binaries built with -cover flush their counters here on exit.
func (s *Session) Env() []string {
	return []string{"GOCOVERDIR=" + s.dataDir}
}

// Finalize merges whatever counter data the wrapped processes flushed into
// a textfmt profile and a percent summary. Called after the last wrapped
// process has exited. A run whose server binary was not built with -cover
// produces no counter files; that is reported, not treated as an error.
func (s *Session) Finalize(ctx context.Context) (*Artifacts, error) {
	artifacts := &Artifacts{DataDir: s.dataDir}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return artifacts, fmt.Errorf("failed to read coverage data directory: %w", err)
	}
	if len(entries) == 0 {
		s.log.Warn("No coverage data collected; server binary likely not built with -cover", "dir", s.dataDir)
		return artifacts, nil
	}

	profile := filepath.Join(s.sandbox, profileFileName)
	out, err := s.covdata(ctx, "textfmt", "-i="+s.dataDir, "-o="+profile)
	if err != nil {
		return artifacts, fmt.Errorf("failed to merge coverage profile: %w (output: %s)", err, out)
	}
	artifacts.ProfilePath = profile

	summary := filepath.Join(s.sandbox, summaryFileName)
	out, err = s.covdata(ctx, "percent", "-i="+s.dataDir)
	if err != nil {
		return artifacts, fmt.Errorf("failed to summarize coverage: %w (output: %s)", err, out)
	}
	if err := os.WriteFile(summary, out, 0o644); err != nil {
		return artifacts, fmt.Errorf("failed to write coverage summary: %w", err)
	}
	artifacts.SummaryPath = summary

	s.log.Info("Coverage finalized", "profile", profile, "summary", summary)
	return artifacts, nil
}

func (s *Session) covdata(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.goBinary, append([]string{"tool", "covdata"}, args...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	s.log.Debug("Running covdata", "command", cmd.String())
	err := cmd.Run()
	return buf.Bytes(), err
}
