// Package acceptor orchestrates one full acceptance run of the
// credentials server: provision a sandbox, issue a TLS identity, start the
// server under coverage, wait for readiness, drive the test suite, tear
// the server down and collect the artifacts.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/credvault/vault-acceptor/certs"
	"github.com/credvault/vault-acceptor/coverage"
	"github.com/credvault/vault-acceptor/exitcodes"
	"github.com/credvault/vault-acceptor/manifest"
	"github.com/credvault/vault-acceptor/metrics"
	"github.com/credvault/vault-acceptor/reporting"
	"github.com/credvault/vault-acceptor/runner"
	"github.com/credvault/vault-acceptor/sandbox"
	"github.com/credvault/vault-acceptor/supervisor"
	"github.com/credvault/vault-acceptor/types"
)

const summaryFileName = "summary.txt"

// RunResult is the aggregate outcome of one harness run.
type RunResult struct {
	RunID             string
	Status            types.TestStatus
	ExitCode          int
	Phases            []types.PhaseResult
	Outcome           *runner.Outcome
	CoverageArtifacts []string
	Duration          time.Duration
}

// String returns a one-line human summary of the run.
func (r *RunResult) String() string {
	if r.Outcome == nil {
		return fmt.Sprintf("run %s: %s after %.1fs (no tests executed)", r.RunID, r.Status, r.Duration.Seconds())
	}
	return fmt.Sprintf("run %s: %s after %.1fs (%d tests: %d passed, %d failed, %d skipped)",
		r.RunID, r.Status, r.Duration.Seconds(),
		r.Outcome.Stats.Total, r.Outcome.Stats.Passed, r.Outcome.Stats.Failed, r.Outcome.Stats.Skipped)
}

// Acceptor drives the acceptance pipeline, once or on an interval.
type Acceptor struct {
	ctx     context.Context
	config  *Config
	version string

	manifest    *manifest.Manifest
	provisioner *sandbox.Provisioner
	issuer      *certs.Issuer
	scheduler   *Scheduler
	formatter   ResultFormatter
	reporter    MetricsReporter
	tracer      trace.Tracer

	result  *RunResult
	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates an Acceptor from configuration. The manifest is loaded and
// validated here so a broken manifest fails before anything is touched.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating acceptor with config",
		"manifest", config.ManifestPath,
		"testDir", config.TestDir,
		"sandbox", config.SandboxDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	m, err := manifest.Load(manifest.Config{Log: config.Log, Path: config.ManifestPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	provisioner, err := sandbox.NewProvisioner(sandbox.Config{
		Log:  config.Log,
		Dir:  config.SandboxDir,
		Port: m.Server.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioner: %w", err)
	}

	return &Acceptor{
		ctx:              ctx,
		config:           config,
		version:          version,
		manifest:         m,
		provisioner:      provisioner,
		issuer:           certs.NewIssuer(certs.Config{Log: config.Log}),
		scheduler:        NewScheduler(config.RunInterval, config.RunOnce, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		tracer:           otel.Tracer("vault-acceptor"),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the harness. In run-once mode it performs a single run and
// returns its verdict; in continuous mode it schedules runs at the
// configured interval until stopped.
func (a *Acceptor) Start(ctx context.Context) error {
	// Panic in the pipeline is a harness bug, not a test verdict.
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx
	a.running.Store(true)

	if a.config.RunOnce {
		a.config.Log.Info("Starting vault-acceptor in run-once mode")
	} else {
		a.config.Log.Info("Starting vault-acceptor in continuous mode", "interval", a.config.RunInterval)
	}

	if a.config.RunOnce {
		err := a.runHarness(ctx)
		go func() {
			a.shutdownCallback(nil)
		}()
		return err
	}

	a.scheduler.RegisterCallback(func() error {
		return a.runHarness(a.ctx)
	})
	return a.scheduler.Start(ctx)
}

// Stop stops the acceptor service.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping vault-acceptor")

	if !a.running.Load() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	a.running.Store(false)

	if !a.config.RunOnce {
		if err := a.scheduler.Stop(); err != nil {
			return err
		}
	}

	a.config.Log.Info("vault-acceptor stopped successfully")
	return nil
}

// Stopped returns true if the acceptor service is stopped.
func (a *Acceptor) Stopped() bool {
	return !a.running.Load()
}

// Result returns the most recent run result.
func (a *Acceptor) Result() *RunResult {
	return a.result
}

// runHarness performs one complete run and converts its outcome into the
// harness verdict: RuntimeError when the pipeline broke before a test
// verdict existed, TestFailureError carrying the suite's exit code when
// tests failed, nil when everything passed.
func (a *Acceptor) runHarness(ctx context.Context) error {
	result, err := a.executeRun(ctx)
	a.result = result

	if result != nil {
		a.formatter.FormatResults(result)
		a.reporter.ReportResults(result)
	}

	if err != nil {
		a.config.Log.Error("Harness run failed", "error", err)
		return NewRuntimeError(err)
	}

	a.config.Log.Info("Harness run completed", "run_id", result.RunID, "status", result.Status)

	if result.ExitCode != 0 {
		return NewTestFailureError(result.String(), result.ExitCode)
	}
	return nil
}

// executeRun walks the phase machine. Every phase is strictly sequential;
// the only concurrency is the server process running alongside the test
// process once started. After a successful ServerStarting the stop step is
// guaranteed to run on every exit path.
func (a *Acceptor) executeRun(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:  uuid.New().String(),
		Status: types.TestStatusFail,
	}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
	}()

	a.config.Log.Info("Starting harness run", "run_id", result.RunID)

	runPhase := func(phase types.Phase, fn func(context.Context) error) error {
		pctx, span := a.tracer.Start(ctx, phase.String())
		defer span.End()

		phaseStart := time.Now()
		err := fn(pctx)
		duration := time.Since(phaseStart)

		result.Phases = append(result.Phases, types.PhaseResult{Phase: phase, Duration: duration, Err: err})
		metrics.RecordPhase(result.RunID, phase, duration, err)

		if err != nil {
			a.config.Log.Error("Phase failed", "run_id", result.RunID, "phase", phase, "error", err)
		} else {
			a.config.Log.Debug("Phase completed", "run_id", result.RunID, "phase", phase, "duration", duration)
		}
		return err
	}

	var sb *sandbox.Sandbox
	if err := runPhase(types.PhaseProvisioning, func(context.Context) error {
		var err error
		sb, err = a.provisioner.Provision(a.manifest.Templates)
		return err
	}); err != nil {
		return result, err
	}

	var identity *types.TLSIdentity
	if err := runPhase(types.PhaseIssuingCert, func(context.Context) error {
		var err error
		identity, err = a.issuer.Issue(sb.Path, a.manifest.Certificate.Subject)
		return err
	}); err != nil {
		return result, err
	}

	session, err := coverage.NewSession(coverage.Config{
		Log:        a.config.Log,
		SandboxDir: sb.Path,
		GoBinary:   a.config.GoBinary,
	})
	if err != nil {
		return result, err
	}

	sup, err := supervisor.NewSupervisor(supervisor.Config{
		Log:     a.config.Log,
		Binary:  a.manifest.Server.Binary,
		Args:    a.manifest.Server.Args,
		PIDFile: filepath.Join(sb.Path, pidFileName(a.manifest.Server.Binary)),
		LogsDir: sb.LogsDir,
		Env:     session.Env(),
	})
	if err != nil {
		return result, err
	}

	var handle *supervisor.Handle
	if err := runPhase(types.PhaseServerStarting, func(pctx context.Context) error {
		var err error
		handle, err = sup.Start(pctx, sb.Configs[0])
		return err
	}); err != nil {
		return result, err
	}

	// The server is now a held resource: release it on every exit path.
	// The deferred stop only fires when the explicit ServerStopping phase
	// did not get its turn (early error, interrupt, panic).
	stopped := false
	defer func() {
		if stopped {
			return
		}
		a.config.Log.Warn("Stopping server on abnormal exit path", "run_id", result.RunID, "pid", handle.PID)
		if err := sup.Stop(handle, a.config.ShutdownTimeout); err != nil {
			a.reportStopError(err)
		}
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(a.manifest.Server.Port))
	if err := runPhase(types.PhaseAwaitingReadiness, func(pctx context.Context) error {
		return sup.WaitReady(pctx, handle, addr, a.config.ReadyTimeout, a.config.SettleDelay)
	}); err != nil {
		return result, err
	}

	testRunner, err := runner.NewRunner(runner.Config{
		Log:        a.config.Log,
		TestDir:    a.config.TestDir,
		WorkDir:    sb.Path,
		GoBinary:   a.config.GoBinary,
		ServerAddr: addr,
		BundlePath: identity.BundlePath,
		Env:        session.Env(),
		Timeout:    a.config.TestTimeout,
	})
	if err != nil {
		return result, err
	}

	var outcome *runner.Outcome
	if err := runPhase(types.PhaseTestsRunning, func(pctx context.Context) error {
		var err error
		outcome, err = testRunner.Run(pctx, result.RunID)
		return err
	}); err != nil {
		return result, err
	}

	// A failing suite is a verdict, not an error: teardown always runs.
	if err := runPhase(types.PhaseServerStopping, func(context.Context) error {
		return sup.Stop(handle, a.config.ShutdownTimeout)
	}); err != nil {
		a.reportStopError(err)
	}
	stopped = true

	artifacts, err := session.Finalize(ctx)
	if err != nil {
		a.config.Log.Warn("Coverage finalization failed", "run_id", result.RunID, "error", err)
		metrics.RecordErrorDetails("coverage finalize", err)
	}

	result.Outcome = outcome
	result.Status = outcome.Status()
	result.ExitCode = outcome.ExitCode
	result.CoverageArtifacts = artifacts.Paths()
	result.Duration = time.Since(start)

	summary := reporting.RunSummary{
		RunID:     result.RunID,
		Status:    result.Status,
		Duration:  result.Duration,
		ExitCode:  result.ExitCode,
		Phases:    result.Phases,
		Results:   outcome.Results,
		Artifacts: append([]string{outcome.ReportPath}, result.CoverageArtifacts...),
	}
	if err := reporting.WriteSummary(filepath.Join(sb.Path, summaryFileName), summary); err != nil {
		a.config.Log.Warn("Failed to write run summary", "run_id", result.RunID, "error", err)
	}

	a.config.Log.Info("Run complete", "run_id", result.RunID, "phase", types.PhaseDone, "status", result.Status)
	return result, nil
}

// reportStopError surfaces cleanup-phase errors without letting them mask
// the test verdict.
func (a *Acceptor) reportStopError(err error) {
	switch {
	case supervisor.IsProcessNotFound(err):
		a.config.Log.Warn("No server process to stop", "error", err)
	case supervisor.IsShutdownTimeout(err):
		a.config.Log.Error("Server shutdown timed out", "error", err)
	default:
		a.config.Log.Error("Server stop failed", "error", err)
	}
	metrics.RecordErrorDetails("server stop", err)
}

func pidFileName(binary string) string {
	return filepath.Base(binary) + ".pid"
}
