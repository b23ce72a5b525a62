package acceptor

import (
	"github.com/credvault/vault-acceptor/metrics"
)

// MetricsReporter is responsible for reporting metrics from run results.
type MetricsReporter interface {
	ReportResults(result *RunResult)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the run results to metrics systems.
func (r *DefaultMetricsReporter) ReportResults(result *RunResult) {
	var total, passed, failed int
	if result.Outcome != nil {
		total = result.Outcome.Stats.Total
		passed = result.Outcome.Stats.Passed
		failed = result.Outcome.Stats.Failed
	}
	metrics.RecordRun(
		result.RunID,
		string(result.Status),
		total,
		passed,
		failed,
		result.Duration,
	)
}
