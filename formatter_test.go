package acceptor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/credvault/vault-acceptor/runner"
	"github.com/credvault/vault-acceptor/types"
)

// TestConsoleResultFormatter_FormatResults is mostly a visual test; we are
// checking the formatter handles a full result without erroring.
func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	result := &RunResult{
		RunID:    "format-run-1",
		Status:   types.TestStatusFail,
		ExitCode: 1,
		Duration: 9 * time.Second,
		Phases: []types.PhaseResult{
			{Phase: types.PhaseProvisioning, Duration: 120 * time.Millisecond},
			{Phase: types.PhaseIssuingCert, Duration: 350 * time.Millisecond},
			{Phase: types.PhaseServerStarting, Duration: 80 * time.Millisecond},
			{Phase: types.PhaseAwaitingReadiness, Duration: 400 * time.Millisecond},
			{Phase: types.PhaseTestsRunning, Duration: 7 * time.Second, Err: errors.New("suite exited 1")},
			{Phase: types.PhaseServerStopping, Duration: 100 * time.Millisecond},
		},
		Outcome: &runner.Outcome{
			ExitCode:   1,
			ReportPath: "/tmp/sandbox/report.xml",
			Stats:      runner.ResultStats{Total: 8, Passed: 6, Failed: 2},
			Duration:   7 * time.Second,
		},
		CoverageArtifacts: []string{"/tmp/sandbox/coverage.txt"},
	}

	formatter := NewConsoleResultFormatter(testLogger())
	assert.NoError(t, formatter.FormatResults(result))
}

func TestConsoleResultFormatter_FormatResults_NoOutcome(t *testing.T) {
	// A run that broke before the tests ran only has phases to show
	result := &RunResult{
		RunID:    "format-run-2",
		Status:   types.TestStatusFail,
		Duration: 500 * time.Millisecond,
		Phases: []types.PhaseResult{
			{Phase: types.PhaseProvisioning, Duration: 120 * time.Millisecond},
			{Phase: types.PhaseIssuingCert, Duration: 380 * time.Millisecond, Err: errors.New("no common name")},
		},
	}

	formatter := NewConsoleResultFormatter(testLogger())
	assert.NoError(t, formatter.FormatResults(result))
}
