package acceptor

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/credvault/vault-acceptor/flags"
)

// Config holds the application configuration
type Config struct {
	ManifestPath    string
	TestDir         string
	SandboxDir      string
	GoBinary        string
	ReadyTimeout    time.Duration // Hard deadline for the readiness probe
	SettleDelay     time.Duration // Extra grace period after the probe succeeds
	ShutdownTimeout time.Duration // Wait after SIGINT before escalating
	TestTimeout     time.Duration // Timeout for the whole suite run
	RunInterval     time.Duration // Interval between harness runs
	RunOnce         bool          // Indicates if the service should exit after one run
	Log             *slog.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log *slog.Logger, manifestPath string, testDir string) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if manifestPath == "" {
		return nil, errors.New("manifest file is required")
	}
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}

	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifestPath, err)
	}
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}
	absSandbox, err := filepath.Abs(ctx.String(flags.SandboxDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for sandbox directory: %w", err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	readyTimeout := ctx.Duration(flags.ReadyTimeout.Name)
	if readyTimeout <= 0 {
		return nil, errors.New("ready-timeout must be positive")
	}
	shutdownTimeout := ctx.Duration(flags.ShutdownTimeout.Name)
	if shutdownTimeout <= 0 {
		return nil, errors.New("shutdown-timeout must be positive")
	}

	return &Config{
		ManifestPath:    absManifest,
		TestDir:         absTestDir,
		SandboxDir:      absSandbox,
		GoBinary:        ctx.String(flags.GoBinary.Name),
		ReadyTimeout:    readyTimeout,
		SettleDelay:     ctx.Duration(flags.SettleDelay.Name),
		ShutdownTimeout: shutdownTimeout,
		TestTimeout:     ctx.Duration(flags.TestTimeout.Name),
		RunInterval:     runInterval,
		RunOnce:         runOnce,
		Log:             log,
	}, nil
}
