package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/credvault/vault-acceptor/types"
)

// Go test2json action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestEvent is a single test2json event line.
type TestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// ResultStats tracks aggregate test counts for a run.
type ResultStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// unmarshalEvent parses a single line of test output into a TestEvent.
func unmarshalEvent(line []byte, event *TestEvent) error {
	if len(line) == 0 {
		return fmt.Errorf("empty line")
	}
	return json.Unmarshal(line, event)
}

// parseTestOutput folds a test2json stream into per-test results. Package
// level events (empty Test field) are ignored for counting; the final
// status of each named test wins.
func (r *Runner) parseTestOutput(output []byte) ([]*types.TestResult, ResultStats) {
	var (
		results []*types.TestResult
		index   = make(map[string]*types.TestResult)
		outputs = make(map[string]*strings.Builder)
		stats   ResultStats
	)

	key := func(e TestEvent) string {
		return e.Package + "/" + e.Test
	}

	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			r.log.Debug("Failed to parse test JSON output line", "error", err, "line", string(line))
			continue
		}
		if event.Test == "" {
			continue
		}

		res, ok := index[key(event)]
		if !ok {
			res = &types.TestResult{Name: event.Test, Package: event.Package}
			index[key(event)] = res
			outputs[key(event)] = &strings.Builder{}
			results = append(results, res)
		}

		switch event.Action {
		case ActionOutput:
			outputs[key(event)].WriteString(event.Output)
		case ActionPass:
			res.Status = types.TestStatusPass
			res.Duration = time.Duration(event.Elapsed * float64(time.Second))
		case ActionSkip:
			res.Status = types.TestStatusSkip
			res.Duration = time.Duration(event.Elapsed * float64(time.Second))
		case ActionFail:
			res.Status = types.TestStatusFail
			res.Duration = time.Duration(event.Elapsed * float64(time.Second))
		}
	}

	for k, res := range index {
		if res.Status == "" {
			// No terminal event, e.g. the suite process died mid-test.
			res.Status = types.TestStatusFail
		}
		out := outputs[k].String()
		res.Output = out
		if res.Status == types.TestStatusFail && out != "" {
			res.Error = fmt.Errorf("%s", strings.TrimSpace(out))
		}
	}

	for _, res := range results {
		stats.Total++
		switch res.Status {
		case types.TestStatusPass:
			stats.Passed++
		case types.TestStatusSkip:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}

	return results, stats
}
