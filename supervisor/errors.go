package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ServerStartError indicates the server process failed to launch or died
// before it became ready. Fatal: there is nothing to stop.
type ServerStartError struct {
	Err error
}

func (e *ServerStartError) Error() string {
	return fmt.Sprintf("server start error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ServerStartError) Unwrap() error {
	return e.Err
}

// IsServerStartError checks if the error is or wraps a ServerStartError
func IsServerStartError(err error) bool {
	var target *ServerStartError
	return err != nil && errors.As(err, &target)
}

// ServerNotReadyError indicates the readiness probe did not observe an
// accepting listener within its deadline.
type ServerNotReadyError struct {
	Addr    string
	Timeout time.Duration
	Err     error
}

func (e *ServerNotReadyError) Error() string {
	return fmt.Sprintf("server at %s not ready after %s: %v", e.Addr, e.Timeout, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ServerNotReadyError) Unwrap() error {
	return e.Err
}

// ProcessNotFoundError indicates there was no recorded server process to
// stop. Non-fatal when the tests already completed, but always surfaced.
type ProcessNotFoundError struct {
	PIDFile string
}

func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("no server process recorded at %s", e.PIDFile)
}

// IsProcessNotFound checks if the error is or wraps a ProcessNotFoundError
func IsProcessNotFound(err error) bool {
	var target *ProcessNotFoundError
	return err != nil && errors.As(err, &target)
}

// ShutdownTimeoutError indicates the server ignored SIGINT and had to be
// hard-killed. The process is guaranteed dead when this is returned; the
// error exists so the escalation is reported, not hidden.
type ShutdownTimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("server pid %d did not exit within %s; escalated to SIGKILL", e.PID, e.Timeout)
}

// IsShutdownTimeout checks if the error is or wraps a ShutdownTimeoutError
func IsShutdownTimeout(err error) bool {
	var target *ShutdownTimeoutError
	return err != nil && errors.As(err, &target)
}
