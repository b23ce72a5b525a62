package coverage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionCreatesDataDir(t *testing.T) {
	sandbox := t.TempDir()
	session, err := NewSession(Config{SandboxDir: sandbox})
	require.NoError(t, err)

	info, err := os.Stat(session.DataDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(sandbox, "covdata"), session.DataDir())
}

func TestNewSessionRequiresSandbox(t *testing.T) {
	_, err := NewSession(Config{})
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	session, err := NewSession(Config{SandboxDir: t.TempDir()})
	require.NoError(t, err)

	env := session.Env()
	require.Len(t, env, 1)
	assert.True(t, strings.HasPrefix(env[0], "GOCOVERDIR="))
	assert.Equal(t, session.DataDir(), strings.TrimPrefix(env[0], "GOCOVERDIR="))
}

func TestFinalizeEmptyDataDir(t *testing.T) {
	sandbox := t.TempDir()
	session, err := NewSession(Config{SandboxDir: sandbox})
	require.NoError(t, err)

	// No wrapped process flushed counters. Not an error, just no reports.
	artifacts, err := session.Finalize(context.Background())
	require.NoError(t, err)
	require.NotNil(t, artifacts)
	assert.Equal(t, session.DataDir(), artifacts.DataDir)
	assert.Empty(t, artifacts.ProfilePath)
	assert.Empty(t, artifacts.SummaryPath)
	assert.Empty(t, artifacts.Paths())
}

func TestFinalizeBadCounterData(t *testing.T) {
	sandbox := t.TempDir()
	session, err := NewSession(Config{SandboxDir: sandbox})
	require.NoError(t, err)

	// Garbage in the data directory makes covdata fail; the artifacts
	// struct still comes back usable.
	require.NoError(t, os.WriteFile(filepath.Join(session.DataDir(), "covcounters.bogus"), []byte("junk"), 0o644))

	artifacts, err := session.Finalize(context.Background())
	require.Error(t, err)
	require.NotNil(t, artifacts)
	assert.Empty(t, artifacts.Paths())
}

func TestArtifactsPathsOnlyExisting(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "coverage.txt")
	require.NoError(t, os.WriteFile(profile, []byte("mode: set\n"), 0o644))

	a := &Artifacts{
		DataDir:     dir,
		ProfilePath: profile,
		SummaryPath: filepath.Join(dir, "missing-summary.txt"),
	}
	assert.Equal(t, []string{profile}, a.Paths())
}
