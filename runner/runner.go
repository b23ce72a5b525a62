// Package runner executes the acceptance test suite against the live
// server and turns the test2json stream into structured results and a
// JUnit report.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/acarl005/stripansi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/credvault/vault-acceptor/reporting"
	"github.com/credvault/vault-acceptor/types"
)

const (
	reportFileName = "report.xml"

	rawOutputLog      = "test-output.json"
	readableOutputLog = "test-output.log"
)

// Outcome is the result of one suite run. A non-zero ExitCode is a normal,
// outcome-carrying signal, not an exceptional condition; teardown still
// happens either way.
type Outcome struct {
	ExitCode   int
	ReportPath string
	Results    []*types.TestResult
	Stats      ResultStats
	Duration   time.Duration
}

// Status folds the stats into a single run status.
func (o *Outcome) Status() types.TestStatus {
	switch {
	case o.ExitCode != 0 || o.Stats.Failed > 0:
		return types.TestStatusFail
	case o.Stats.Total > 0 && o.Stats.Total == o.Stats.Skipped:
		return types.TestStatusSkip
	default:
		return types.TestStatusPass
	}
}

// Config holds configuration for creating a new runner
type Config struct {
	Log *slog.Logger
	// TestDir is the test suite to run.
	TestDir string
	// WorkDir is the sandbox; the report and captured output land here.
	WorkDir string
	// GoBinary is the path to the Go binary.
	GoBinary string
	// ServerAddr and BundlePath are exported to the tests so they can
	// reach and verify the live server.
	ServerAddr string
	BundlePath string
	// Env is extra environment for the test process (the coverage
	// session lands here).
	Env []string
	// Timeout bounds the whole suite run (0 disables).
	Timeout time.Duration
}

// Runner runs the test suite.
type Runner struct {
	cfg    Config
	log    *slog.Logger
	tracer trace.Tracer
}

// NewRunner creates a new Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("test directory is required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		log:    cfg.Log,
		tracer: otel.Tracer("test runner"),
	}, nil
}

// Run executes the full suite under the shared coverage context and writes
// the JUnit report into the working directory. The returned error is
// reserved for harness problems (the suite could not be invoked at all); a
// failing suite comes back as Outcome.ExitCode != 0 with err == nil.
func (r *Runner) Run(ctx context.Context, runID string) (*Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "suite run")
	defer span.End()

	if r.cfg.Timeout != 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.GoBinary, "test", "./...", "-count=1", "-json")
	cmd.Dir = r.cfg.TestDir
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	if r.cfg.ServerAddr != "" {
		cmd.Env = append(cmd.Env, "VAULT_ACCEPTOR_SERVER_ADDR="+r.cfg.ServerAddr)
	}
	if r.cfg.BundlePath != "" {
		cmd.Env = append(cmd.Env, "VAULT_ACCEPTOR_SERVER_CA="+r.cfg.BundlePath)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Info("Running test suite", "dir", r.cfg.TestDir, "command", cmd.String())

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	outcome := &Outcome{Duration: duration}

	switch {
	case err == nil:
		outcome.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		return nil, fmt.Errorf("test suite timed out after %v", r.cfg.Timeout)
	case ctx.Err() == context.Canceled:
		// An external interrupt killed the suite; there is no verdict to
		// carry, only a harness-level failure.
		return nil, fmt.Errorf("test suite interrupted: %w", ctx.Err())
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The suite never ran (missing go binary, bad directory).
			return nil, fmt.Errorf("failed to invoke test suite: %w (stderr: %s)", err, stderr.String())
		}
		outcome.ExitCode = exitErr.ExitCode()
	}

	r.captureOutput(stdout.Bytes(), stderr.Bytes())

	outcome.Results, outcome.Stats = r.parseTestOutput(stdout.Bytes())

	outcome.ReportPath = filepath.Join(r.cfg.WorkDir, reportFileName)
	if err := reporting.WriteJUnit(outcome.ReportPath, runID, outcome.Results, duration); err != nil {
		return nil, fmt.Errorf("failed to write test report: %w", err)
	}

	r.log.Info("Test suite finished",
		"exit_code", outcome.ExitCode,
		"total", outcome.Stats.Total,
		"passed", outcome.Stats.Passed,
		"failed", outcome.Stats.Failed,
		"skipped", outcome.Stats.Skipped,
		"report", outcome.ReportPath)

	return outcome, nil
}

// captureOutput persists the raw test2json stream and a human-readable,
// ANSI-stripped copy under the sandbox logs directory.
func (r *Runner) captureOutput(stdout, stderr []byte) {
	logsDir := filepath.Join(r.cfg.WorkDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		r.log.Warn("Failed to create logs directory", "error", err)
		return
	}

	if err := os.WriteFile(filepath.Join(logsDir, rawOutputLog), stdout, 0o644); err != nil {
		r.log.Warn("Failed to store raw test output", "error", err)
	}

	var readable bytes.Buffer
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		var event TestEvent
		if jsonErr := unmarshalEvent(line, &event); jsonErr == nil && event.Action == ActionOutput {
			readable.WriteString(stripansi.Strip(event.Output))
		}
	}
	if len(stderr) > 0 {
		readable.WriteString("\n--- stderr ---\n")
		readable.WriteString(stripansi.Strip(string(stderr)))
	}
	if err := os.WriteFile(filepath.Join(logsDir, readableOutputLog), readable.Bytes(), 0o644); err != nil {
		r.log.Warn("Failed to store readable test output", "error", err)
	}
}
