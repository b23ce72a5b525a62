package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	acceptor "github.com/credvault/vault-acceptor"
	"github.com/credvault/vault-acceptor/exitcodes"
	"github.com/credvault/vault-acceptor/flags"
	"github.com/credvault/vault-acceptor/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "vault-acceptor"
	app.Usage = "Credentials Server Acceptance Harness"
	app.Description = "vault-acceptor provisions a sandbox, starts the credentials server under coverage and drives the acceptance suite against it"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed runtime errors
			if acceptor.IsRuntimeError(err) {
				// Harness infrastructure failures use exit code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if acceptor.IsTestFailureError(err) {
				// Propagate the suite's own exit code
				cli.HandleExitCoder(cli.Exit(err.Error(), acceptor.TestFailureExitCode(err)))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup open telemetry: %v\n", err)
		os.Exit(exitcodes.RuntimeErr)
	}
	defer otelShutdown()

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already translated typed errors; anything left
		// is a hard failure.
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(exitcodes.RuntimeErr)
	}
}

func run(cliCtx *cli.Context) error {
	logger := newLogger(cliCtx.String(flags.LogLevel.Name))
	slog.SetDefault(logger)

	cfg, err := acceptor.NewConfig(
		cliCtx,
		logger,
		cliCtx.String(flags.Manifest.Name),
		cliCtx.String(flags.TestDir.Name),
	)
	if err != nil {
		return acceptor.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	logger.Debug("Config created",
		"manifest", cfg.ManifestPath,
		"testdir", cfg.TestDir,
		"sandbox", cfg.SandboxDir)

	// An external interrupt must still tear down any started server, so
	// the whole pipeline runs under a signal-aware context.
	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Operational endpoints (healthz, metrics)
	svc := service.New(logger)
	svc.Start(ctx)
	defer svc.Shutdown()

	harness, err := acceptor.New(ctx, cfg, Version, func(error) { stop() })
	if err != nil {
		return acceptor.NewRuntimeError(fmt.Errorf("failed to create acceptor: %w", err))
	}

	err = harness.Start(ctx)
	if cfg.RunOnce {
		return err
	}
	if err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := harness.Stop(stopCtx); err != nil {
		logger.Error("Failed to stop acceptor cleanly", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
