package acceptor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/credvault/vault-acceptor/flags"
)

// newCLIContext runs a throwaway cli app to obtain a parsed context with
// the given arguments.
func newCLIContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	var captured *cli.Context
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			captured = ctx
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"vault-acceptor"}, args...)))
	require.NotNil(t, captured)
	return captured
}

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acceptance.yaml")
	ctx := newCLIContext(t,
		"--manifest", manifest,
		"--testdir", dir,
		"--sandbox", filepath.Join(dir, "sandbox"),
		"--ready-timeout", "15s",
		"--shutdown-timeout", "5s",
	)

	cfg, err := NewConfig(ctx, testLogger(), ctx.String(flags.Manifest.Name), ctx.String(flags.TestDir.Name))
	require.NoError(t, err)

	assert.Equal(t, manifest, cfg.ManifestPath)
	assert.Equal(t, dir, cfg.TestDir)
	assert.True(t, filepath.IsAbs(cfg.SandboxDir))
	assert.True(t, cfg.RunOnce, "no run interval means run-once mode")
	assert.Equal(t, "go", cfg.GoBinary)
}

func TestNewConfigIntervalMode(t *testing.T) {
	dir := t.TempDir()
	ctx := newCLIContext(t,
		"--manifest", filepath.Join(dir, "acceptance.yaml"),
		"--testdir", dir,
		"--run-interval", "10m",
	)

	cfg, err := NewConfig(ctx, testLogger(), ctx.String(flags.Manifest.Name), ctx.String(flags.TestDir.Name))
	require.NoError(t, err)
	assert.False(t, cfg.RunOnce)
}

func TestNewConfigValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		args     []string
		manifest string
		testDir  string
		errMsg   string
	}{
		{
			name:    "missing manifest",
			args:    []string{"--manifest", "x", "--testdir", dir},
			testDir: dir,
			errMsg:  "manifest file is required",
		},
		{
			name:     "missing test directory",
			args:     []string{"--manifest", "x", "--testdir", dir},
			manifest: "acceptance.yaml",
			errMsg:   "test directory is required",
		},
		{
			name:     "non-positive ready timeout",
			args:     []string{"--manifest", "x", "--testdir", dir, "--ready-timeout", "0s"},
			manifest: "acceptance.yaml",
			testDir:  dir,
			errMsg:   "ready-timeout must be positive",
		},
		{
			name:     "non-positive shutdown timeout",
			args:     []string{"--manifest", "x", "--testdir", dir, "--shutdown-timeout", "-1s"},
			manifest: "acceptance.yaml",
			testDir:  dir,
			errMsg:   "shutdown-timeout must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newCLIContext(t, tt.args...)
			_, err := NewConfig(ctx, testLogger(), tt.manifest, tt.testDir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
