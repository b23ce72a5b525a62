package acceptor

import (
	"errors"
	"fmt"
)

// RuntimeError represents a harness failure that should lead to exit code 2.
// Examples include sandbox provisioning, certificate issuance or server
// startup failures: the tests never got a verdict.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a failing test suite. The harness exits with
// the suite's own exit code, so a suite that exits 2 surfaces as 2.
type TestFailureError struct {
	Message  string
	ExitCode int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure (exit code %d): %s", e.ExitCode, e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string, exitCode int) *TestFailureError {
	return &TestFailureError{Message: message, ExitCode: exitCode}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// TestFailureExitCode extracts the suite exit code from a TestFailureError,
// defaulting to 1 when the error is of another kind.
func TestFailureExitCode(err error) int {
	var testErr *TestFailureError
	if err != nil && errors.As(err, &testErr) && testErr.ExitCode != 0 {
		return testErr.ExitCode
	}
	return 1
}
