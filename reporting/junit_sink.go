package reporting

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/gjest/gjest/types"
)

// JUnit document types. The layout follows the de facto schema CI systems
// ingest: testsuites > testsuite per file > testcase per unit.
type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Cases     []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFault   `xml:"failure,omitempty"`
	Error     *JUnitFault   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

type JUnitFault struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitSink renders a run summary as a JUnit XML artifact.
type JUnitSink struct {
	path string
}

func NewJUnitSink(path string) *JUnitSink {
	return &JUnitSink{path: path}
}

func (s *JUnitSink) Path() string {
	return s.path
}

func (s *JUnitSink) Emit(summary *RunSummary) error {
	data, err := xml.MarshalIndent(buildJUnitReport(summary), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	out := append([]byte(xml.Header), data...)
	return writeArtifact(s.path, append(out, '\n'))
}

func buildJUnitReport(summary *RunSummary) JUnitTestSuites {
	report := JUnitTestSuites{
		Name:     summary.RunID,
		Tests:    summary.Stats.Total,
		Failures: summary.Stats.Failed,
		Errors:   summary.Stats.Errored,
		Skipped:  summary.Stats.Skipped + summary.Stats.Todo,
		Time:     junitSeconds(summary.Duration),
		Suites:   make([]JUnitTestSuite, 0, len(summary.Suites)),
	}
	for _, suite := range summary.Suites {
		out := JUnitTestSuite{
			Name:     suite.File,
			Tests:    suite.Stats.Total,
			Failures: suite.Stats.Failed,
			Errors:   suite.Stats.Errored,
			Skipped:  suite.Stats.Skipped + suite.Stats.Todo,
			Time:     junitSeconds(suite.Duration),
			Cases:    make([]JUnitTestCase, 0, len(suite.Results)),
		}
		if !summary.StartedAt.IsZero() {
			out.Timestamp = summary.StartedAt.Format(time.RFC3339)
		}
		for _, res := range suite.Results {
			out.Cases = append(out.Cases, buildJUnitCase(res))
		}
		report.Suites = append(report.Suites, out)
	}
	return report
}

func buildJUnitCase(res types.RunResult) JUnitTestCase {
	tc := JUnitTestCase{
		Name:      res.Unit.Name,
		Classname: res.Unit.File,
		Time:      junitSeconds(res.Duration),
	}
	switch res.Status {
	case types.StatusFailed:
		tc.Failure = &JUnitFault{Message: res.Message, Content: res.Detail}
	case types.StatusErrored:
		fault := &JUnitFault{Message: res.Message, Content: res.Detail}
		if res.TimedOut {
			fault.Type = "timeout"
		}
		tc.Error = fault
	case types.StatusSkipped:
		tc.Skipped = &JUnitSkipped{Message: res.SkipReason}
	case types.StatusTodo:
		msg := "TODO"
		if res.SkipReason != "" {
			msg += ": " + res.SkipReason
		}
		tc.Skipped = &JUnitSkipped{Message: msg}
	}
	return tc
}

func junitSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
