// Package types contains shared types used across the vault-acceptor harness.
package types

import "time"

// TestStatus represents the aggregate status of a test or a whole run
type TestStatus string

// String implements the Stringer interface for TestStatus
func (s TestStatus) String() string {
	return string(s)
}

// TestStatus enum values
const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// Phase identifies a step of the harness run pipeline.
type Phase string

// Phase enum values, in pipeline order.
const (
	PhaseIdle              Phase = "idle"
	PhaseProvisioning      Phase = "provisioning"
	PhaseIssuingCert       Phase = "issuing-certificate"
	PhaseServerStarting    Phase = "server-starting"
	PhaseAwaitingReadiness Phase = "awaiting-readiness"
	PhaseTestsRunning      Phase = "tests-running"
	PhaseServerStopping    Phase = "server-stopping"
	PhaseDone              Phase = "done"
)

// String implements the Stringer interface for Phase
func (p Phase) String() string {
	return string(p)
}

// TestResult captures the outcome of a single test function.
type TestResult struct {
	Name     string
	Package  string
	Status   TestStatus
	Duration time.Duration
	Error    error
	Output   string
}

// PhaseResult records how a single pipeline phase went.
type PhaseResult struct {
	Phase    Phase
	Duration time.Duration
	Err      error
}

// TLSIdentity holds the paths of the artifacts issued for one run. The
// bundle is the certificate and key concatenated into a single PEM file,
// which is what the server consumes.
type TLSIdentity struct {
	KeyPath    string
	CertPath   string
	BundlePath string
	NotBefore  time.Time
	NotAfter   time.Time
}
