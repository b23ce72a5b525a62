package reporting

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/credvault/vault-acceptor/types"
)

// RunSummary captures everything the text summary needs from a finished
// run, without importing the orchestrator.
type RunSummary struct {
	RunID     string
	Status    types.TestStatus
	Duration  time.Duration
	ExitCode  int
	Phases    []types.PhaseResult
	Results   []*types.TestResult
	Artifacts []string
}

// WriteSummary writes the plain-text run summary for postmortem reading.
func WriteSummary(path string, s RunSummary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "vault-acceptor run %s\n", s.RunID)
	fmt.Fprintf(&b, "status: %s  exit code: %d  duration: %.1fs\n\n", s.Status, s.ExitCode, s.Duration.Seconds())

	b.WriteString("phases:\n")
	for _, p := range s.Phases {
		mark := "ok"
		if p.Err != nil {
			mark = p.Err.Error()
		}
		fmt.Fprintf(&b, "  %-20s %8.1fs  %s\n", p.Phase, p.Duration.Seconds(), mark)
	}

	if len(s.Results) > 0 {
		b.WriteString("\ntests:\n")
		results := append([]*types.TestResult{}, s.Results...)
		sort.Slice(results, func(i, j int) bool {
			if results[i].Package != results[j].Package {
				return results[i].Package < results[j].Package
			}
			return results[i].Name < results[j].Name
		})
		for _, res := range results {
			fmt.Fprintf(&b, "  [%s] %s %s (%.2fs)\n", res.Status, res.Package, res.Name, res.Duration.Seconds())
		}
	}

	if len(s.Artifacts) > 0 {
		b.WriteString("\nartifacts:\n")
		for _, a := range s.Artifacts {
			fmt.Fprintf(&b, "  %s\n", a)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write run summary %s: %w", path, err)
	}
	return nil
}
