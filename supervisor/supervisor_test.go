package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gracefulScript exits cleanly on SIGINT. The loop of short sleeps matters:
// sh only handles traps between commands.
const gracefulScript = `trap 'exit 0' INT; while :; do sleep 0.05; done`

// stubbornScript ignores SIGINT entirely.
const stubbornScript = `trap '' INT; while :; do sleep 0.05; done`

func newTestSupervisor(t *testing.T, script string) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logsDir, 0o755))

	sup, err := NewSupervisor(Config{
		Binary:  "sh",
		Args:    []string{"-c", script, "credvaultd"},
		PIDFile: filepath.Join(dir, "credvaultd.pid"),
		LogsDir: logsDir,
	})
	require.NoError(t, err)

	configPath := filepath.Join(dir, "server.ini")
	require.NoError(t, os.WriteFile(configPath, []byte("[server]\n"), 0o644))
	return sup, configPath
}

func TestStartStop(t *testing.T) {
	sup, configPath := newTestSupervisor(t, gracefulScript)

	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)
	require.NotNil(t, handle)

	// The pid file records the live process id
	data, err := os.ReadFile(handle.PIDFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, handle.PID, pid)
	assert.NoError(t, syscall.Kill(pid, 0), "process should be alive")

	err = sup.Stop(handle, 5*time.Second)
	require.NoError(t, err)

	// Process gone, pid file gone
	assert.Error(t, syscall.Kill(pid, 0))
	_, err = os.Stat(handle.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestStopEscalatesToKill(t *testing.T) {
	sup, configPath := newTestSupervisor(t, stubbornScript)

	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)

	err = sup.Stop(handle, 300*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *ShutdownTimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.True(t, IsShutdownTimeout(err))

	// Escalation still guarantees the process is dead and the pid file removed
	assert.Error(t, syscall.Kill(handle.PID, 0))
	_, statErr := os.Stat(handle.PIDFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStopEscalationKillsForkedChildren(t *testing.T) {
	// The server forks a long-lived child, reports its pid and ignores
	// SIGINT. Escalation targets the process group, so the child must not
	// survive either.
	sup, configPath := newTestSupervisor(t, `trap '' INT; sleep 300 & echo $!; wait`)

	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)

	logPath := filepath.Join(filepath.Dir(configPath), "logs", serverStdoutLog)
	var childPID int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return false
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 0 {
			return false
		}
		childPID = pid
		return true
	}, 5*time.Second, 20*time.Millisecond, "child pid should appear in the server log")

	err = sup.Stop(handle, 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsShutdownTimeout(err))

	assert.Eventually(t, func() bool {
		return syscall.Kill(childPID, 0) != nil
	}, 2*time.Second, 20*time.Millisecond, "forked child should be gone after escalation")
}

func TestStopWithoutStart(t *testing.T) {
	sup, _ := newTestSupervisor(t, gracefulScript)

	err := sup.Stop(nil, time.Second)
	require.Error(t, err)
	assert.True(t, IsProcessNotFound(err))
}

func TestStopStalePIDFile(t *testing.T) {
	sup, configPath := newTestSupervisor(t, gracefulScript)

	// Record a pid, let the process die, then stop from the file alone.
	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)
	require.NoError(t, handle.cmd.Process.Kill())
	<-handle.done
	sup.live = nil

	err = sup.Stop(nil, time.Second)
	require.Error(t, err)
	assert.True(t, IsProcessNotFound(err))

	// The stale pid file is left behind for inspection
	_, statErr := os.Stat(handle.PIDFile)
	assert.NoError(t, statErr)
}

func TestStartRejectsSecondServer(t *testing.T) {
	sup, configPath := newTestSupervisor(t, gracefulScript)

	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sup.Stop(handle, 5*time.Second))
	}()

	_, err = sup.Start(context.Background(), configPath)
	require.Error(t, err)
	assert.True(t, IsServerStartError(err))
}

func TestStartMissingBinary(t *testing.T) {
	dir := t.TempDir()
	sup, err := NewSupervisor(Config{
		Binary:  filepath.Join(dir, "does-not-exist"),
		PIDFile: filepath.Join(dir, "server.pid"),
	})
	require.NoError(t, err)

	configPath := filepath.Join(dir, "server.ini")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0o644))

	_, err = sup.Start(context.Background(), configPath)
	require.Error(t, err)
	assert.True(t, IsServerStartError(err))
}

func TestStartCapturesServerOutput(t *testing.T) {
	sup, configPath := newTestSupervisor(t, `echo hello-from-server; trap 'exit 0' INT; while :; do sleep 0.05; done`)

	handle, err := sup.Start(context.Background(), configPath)
	require.NoError(t, err)
	require.NoError(t, sup.Stop(handle, 5*time.Second))

	data, err := os.ReadFile(filepath.Join(filepath.Dir(configPath), "logs", serverStdoutLog))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello-from-server")
}
