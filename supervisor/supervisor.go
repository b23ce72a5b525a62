// Package supervisor owns the lifecycle of the server process under test:
// launching it under coverage instrumentation, recording its pid, probing
// for readiness and tearing it down deterministically.
//
// The spawned process handle is the primary authority for signaling and
// waiting. The on-disk pid file exists for postmortem and crash recovery
// only; Stop falls back to it when no live handle survived (for example
// after a harness restart).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	serverStdoutLog = "server-stdout.log"
	serverStderrLog = "server-stderr.log"
)

// Config holds supervisor configuration.
type Config struct {
	Log *slog.Logger
	// Binary is the server executable.
	Binary string
	// Args are the base arguments from the manifest (eg. "serve").
	Args []string
	// PIDFile is where the server's pid is recorded, inside the sandbox.
	PIDFile string
	// LogsDir receives the captured server stdout/stderr.
	LogsDir string
	// Env is extra environment for the server process, appended to the
	// harness's own (the coverage session lands here).
	Env []string
}

// Handle is the sole authority for stopping a started server. At most one
// live handle exists per run.
type Handle struct {
	PID     int
	PIDFile string

	cmd  *exec.Cmd
	done chan struct{}
	werr error
}

// Exited reports whether the server process has already terminated.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// WaitErr returns the result of waiting on the process. Only meaningful
// once Exited reports true.
func (h *Handle) WaitErr() error {
	return h.werr
}

// Supervisor starts and stops the server under test.
type Supervisor struct {
	cfg  Config
	live *Handle
}

// NewSupervisor creates a new Supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("server binary is required")
	}
	if cfg.PIDFile == "" {
		return nil, fmt.Errorf("pid file path is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Supervisor{cfg: cfg}, nil
}

// Start launches the server with the prepared configuration file and
// explicit test-mode argument, records its pid and returns immediately
// without waiting for readiness. Use WaitReady for that.
func (s *Supervisor) Start(ctx context.Context, configPath string) (*Handle, error) {
	if s.live != nil && !s.live.Exited() {
		return nil, &ServerStartError{Err: fmt.Errorf("server already running with pid %d", s.live.PID)}
	}

	args := append(append([]string{}, s.cfg.Args...),
		"--config", configPath,
		"--pid-file", s.cfg.PIDFile,
		"--test-mode",
	)

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Dir = filepath.Dir(configPath)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	// Own process group so a terminal interrupt aimed at the harness does
	// not race our controlled shutdown of the server.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, stderr, err := s.openLogs()
	if err != nil {
		return nil, &ServerStartError{Err: err}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.cfg.Log.Info("Starting server",
		"binary", s.cfg.Binary,
		"config", configPath,
		"command", cmd.String())

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, &ServerStartError{Err: fmt.Errorf("failed to launch %s: %w", s.cfg.Binary, err)}
	}

	h := &Handle{
		PID:     cmd.Process.Pid,
		PIDFile: s.cfg.PIDFile,
		cmd:     cmd,
		done:    make(chan struct{}),
	}

	go func() {
		h.werr = cmd.Wait()
		stdout.Close()
		stderr.Close()
		close(h.done)
	}()

	if err := s.writePIDFile(h.PID); err != nil {
		// The server is up but unrecorded; take it back down before
		// failing the start.
		_ = cmd.Process.Kill()
		<-h.done
		return nil, &ServerStartError{Err: err}
	}

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-h.done
		return nil, &ServerStartError{Err: ctx.Err()}
	default:
	}

	s.live = h
	s.cfg.Log.Info("Server started", "pid", h.PID, "pid_file", h.PIDFile)
	return h, nil
}

// Stop requests a graceful shutdown via SIGINT and waits up to timeout for
// the process to exit, escalating to SIGKILL rather than leaving an
// orphan. The pid file is removed only after the exit is confirmed.
//
// With a nil handle Stop falls back to the recorded pid file; if that is
// missing there is nothing to stop and no filesystem is mutated.
func (s *Supervisor) Stop(handle *Handle, timeout time.Duration) error {
	if handle == nil {
		return s.stopFromPIDFile(timeout)
	}

	s.cfg.Log.Info("Stopping server", "pid", handle.PID, "timeout", timeout)

	if handle.Exited() {
		s.cfg.Log.Warn("Server already exited before stop", "pid", handle.PID, "wait_err", handle.WaitErr())
		s.removePIDFile(handle.PIDFile)
		s.live = nil
		return nil
	}

	if err := handle.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to signal server pid %d: %w", handle.PID, err)
	}

	select {
	case <-handle.done:
		s.cfg.Log.Info("Server exited cleanly", "pid", handle.PID)
		s.removePIDFile(handle.PIDFile)
		s.live = nil
		return nil
	case <-time.After(timeout):
	}

	s.cfg.Log.Error("Server ignored SIGINT, escalating to SIGKILL", "pid", handle.PID)
	// The server runs as its own process group leader; kill the whole
	// group so forked children do not outlive it.
	_ = syscall.Kill(-handle.PID, syscall.SIGKILL)
	<-handle.done
	s.removePIDFile(handle.PIDFile)
	s.live = nil
	return &ShutdownTimeoutError{PID: handle.PID, Timeout: timeout}
}

// stopFromPIDFile is the crash-recovery path: no in-process handle, only
// the recorded pid.
func (s *Supervisor) stopFromPIDFile(timeout time.Duration) error {
	pid, err := s.readPIDFile()
	if err != nil {
		return err
	}

	s.cfg.Log.Info("Stopping server from recorded pid", "pid", pid, "pid_file", s.cfg.PIDFile)

	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		// Stale pid file: the process is already gone. Surface that but
		// leave the file for inspection.
		return &ProcessNotFoundError{PIDFile: s.cfg.PIDFile}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			s.removePIDFile(s.cfg.PIDFile)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	s.cfg.Log.Error("Server ignored SIGINT, escalating to SIGKILL", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	for syscall.Kill(pid, 0) == nil {
		time.Sleep(10 * time.Millisecond)
	}
	s.removePIDFile(s.cfg.PIDFile)
	return &ShutdownTimeoutError{PID: pid, Timeout: timeout}
}

func (s *Supervisor) writePIDFile(pid int) error {
	if err := os.WriteFile(s.cfg.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", s.cfg.PIDFile, err)
	}
	return nil
}

func (s *Supervisor) readPIDFile() (int, error) {
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return 0, &ProcessNotFoundError{PIDFile: s.cfg.PIDFile}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, &ProcessNotFoundError{PIDFile: s.cfg.PIDFile}
	}
	return pid, nil
}

func (s *Supervisor) removePIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.cfg.Log.Warn("Failed to remove pid file", "pid_file", path, "error", err)
	}
}

func (s *Supervisor) openLogs() (*os.File, *os.File, error) {
	if s.cfg.LogsDir == "" {
		devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, nil, err
		}
		devnull2, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			devnull.Close()
			return nil, nil, err
		}
		return devnull, devnull2, nil
	}
	stdout, err := os.Create(filepath.Join(s.cfg.LogsDir, serverStdoutLog))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server stdout log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(s.cfg.LogsDir, serverStderrLog))
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("failed to create server stderr log: %w", err)
	}
	return stdout, stderr, nil
}
