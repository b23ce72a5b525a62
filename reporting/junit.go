// Package reporting writes the persistent run artifacts: the JUnit XML
// test report consumed by CI and a plain-text summary for humans.
package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/credvault/vault-acceptor/types"
)

// JUnit XML element shapes, the de-facto schema CI systems ingest.
type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string        `xml:"name,attr"`
	Class   string        `xml:"classname,attr"`
	Time    string        `xml:"time,attr"`
	Failure *junitMessage `xml:"failure,omitempty"`
	Skipped *junitMessage `xml:"skipped,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit writes the structured test report for one run. Tests are
// grouped into one testsuite per Go package, in stable order.
func WriteJUnit(path string, runID string, results []*types.TestResult, duration time.Duration) error {
	byPackage := make(map[string][]*types.TestResult)
	for _, res := range results {
		byPackage[res.Package] = append(byPackage[res.Package], res)
	}

	packages := make([]string, 0, len(byPackage))
	for pkg := range byPackage {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)

	doc := junitTestSuites{
		Name: fmt.Sprintf("vault-acceptor %s", runID),
		Time: formatSeconds(duration),
	}

	for _, pkg := range packages {
		suite := junitTestSuite{Name: pkg}
		for _, res := range byPackage[pkg] {
			tc := junitTestCase{
				Name:  res.Name,
				Class: pkg,
				Time:  formatSeconds(res.Duration),
			}
			switch res.Status {
			case types.TestStatusFail:
				msg := "test failed"
				if res.Error != nil {
					msg = res.Error.Error()
				}
				tc.Failure = &junitMessage{Message: firstLine(msg), Body: res.Output}
				suite.Failures++
			case types.TestStatusSkip:
				tc.Skipped = &junitMessage{Message: firstLine(res.Output)}
				suite.Skipped++
			}
			suite.Tests++
			suite.Cases = append(suite.Cases, tc)
		}
		doc.Tests += suite.Tests
		doc.Failures += suite.Failures
		doc.Skipped += suite.Skipped
		doc.Suites = append(doc.Suites, suite)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal junit report: %w", err)
	}

	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write junit report %s: %w", path, err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
