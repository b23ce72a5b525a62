// Package exitcodes defines the standard exit codes used by vault-acceptor.
package exitcodes

// Exit code constants used by vault-acceptor
// These constants define the exit codes that the harness uses to indicate
// various states when it exits:
//
// * Success (0): Used when all tests pass successfully
// * TestFailure (1): Used when one or more tests fail
// * RuntimeErr (2): Used for harness failures such as sandbox provisioning,
//   certificate issuance or server startup errors
//
// When the test suite itself exits non-zero, the harness propagates the
// suite's own exit code instead of TestFailure, so that operators see the
// same code the test process produced.
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Harness runtime errors
)
