package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "VAULT_ACCEPTOR"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("MANIFEST"),
		Usage:    "Path to the run manifest file (eg. 'acceptance.yaml')",
	}
	TestDir = &cli.StringFlag{
		Name:     "testdir",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("TESTDIR"),
		Usage:    "Path to the test suite directory to run against the live server",
	}
	SandboxDir = &cli.StringFlag{
		Name:    "sandbox",
		Value:   "sandbox",
		EnvVars: prefixEnvVars("SANDBOX"),
		Usage:   "Well-known sandbox directory; wiped and recreated on every run",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: prefixEnvVars("GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests and merging coverage",
	}
	ReadyTimeout = &cli.DurationFlag{
		Name:    "ready-timeout",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("READY_TIMEOUT"),
		Usage:   "Hard deadline for the server readiness probe after start",
	}
	SettleDelay = &cli.DurationFlag{
		Name:    "settle-delay",
		Value:   0,
		EnvVars: prefixEnvVars("SETTLE_DELAY"),
		Usage:   "Extra grace period applied after the readiness probe succeeds",
	}
	ShutdownTimeout = &cli.DurationFlag{
		Name:    "shutdown-timeout",
		Value:   10 * time.Second,
		EnvVars: prefixEnvVars("SHUTDOWN_TIMEOUT"),
		Usage:   "How long to wait for the server to exit after SIGINT before escalating",
	}
	TestTimeout = &cli.DurationFlag{
		Name:    "test-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("TEST_TIMEOUT"),
		Usage:   "Timeout for the whole test suite run (0 disables)",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between full harness runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level (debug, info, warn, error)",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
	TestDir,
}

var optionalFlags = []cli.Flag{
	SandboxDir,
	GoBinary,
	ReadyTimeout,
	SettleDelay,
	ShutdownTimeout,
	TestTimeout,
	RunInterval,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
