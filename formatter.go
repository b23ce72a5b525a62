package acceptor

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/credvault/vault-acceptor/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *RunResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger *slog.Logger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger *slog.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults renders the phase timeline and test stats as a table.
func (f *ConsoleResultFormatter) FormatResults(result *RunResult) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Acceptance Run %s (%s)", result.RunID, formatDuration(result.Duration)))

	t.AppendHeader(table.Row{"Phase", "Duration", "Status", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, phase := range result.Phases {
		status := "✓ ok"
		detail := ""
		if phase.Err != nil {
			status = "✗ fail"
			detail = phase.Err.Error()
		}
		t.AppendRow(table.Row{
			phase.Phase,
			formatDuration(phase.Duration),
			status,
			detail,
		})
	}
	t.AppendSeparator()

	if outcome := result.Outcome; outcome != nil {
		t.AppendRow(table.Row{
			"tests",
			formatDuration(outcome.Duration),
			getResultString(result.Status),
			fmt.Sprintf("%d total, %d passed, %d failed, %d skipped (exit code %d)",
				outcome.Stats.Total, outcome.Stats.Passed, outcome.Stats.Failed,
				outcome.Stats.Skipped, outcome.ExitCode),
		})
		for _, artifact := range append([]string{outcome.ReportPath}, result.CoverageArtifacts...) {
			t.AppendRow(table.Row{"artifact", "", "", artifact})
		}
	}

	switch result.Status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.Render()
	fmt.Println(result.String())
	return nil
}
