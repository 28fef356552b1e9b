package reporting

import (
	"fmt"
	"strings"

	"github.com/gjest/gjest/types"
)

// TAPSink renders a run summary as a TAP version 13 stream, one test point
// per unit in resolution order.
type TAPSink struct {
	path string
}

func NewTAPSink(path string) *TAPSink {
	return &TAPSink{path: path}
}

func (s *TAPSink) Path() string {
	return s.path
}

func (s *TAPSink) Emit(summary *RunSummary) error {
	var b strings.Builder
	b.WriteString("TAP version 13\n")
	fmt.Fprintf(&b, "1..%d\n", len(summary.Results))

	for i, res := range summary.Results {
		b.WriteString(tapLine(i+1, res))
		b.WriteByte('\n')
		for _, line := range tapComments(res) {
			fmt.Fprintf(&b, "# %s\n", line)
		}
	}

	return writeArtifact(s.path, []byte(b.String()))
}

// tapLine renders one test point. Skip and todo units carry a directive so
// TAP consumers exclude them from the pass/fail arithmetic.
func tapLine(number int, res types.RunResult) string {
	name := res.Unit.QualifiedName()
	switch res.Status {
	case types.StatusSkipped:
		return directiveLine("ok", number, name, "SKIP", res.SkipReason)
	case types.StatusTodo:
		return directiveLine("not ok", number, name, "TODO", res.SkipReason)
	case types.StatusFailed, types.StatusErrored:
		return fmt.Sprintf("not ok %d - %s", number, name)
	default:
		return fmt.Sprintf("ok %d - %s", number, name)
	}
}

func directiveLine(verdict string, number int, name, directive, reason string) string {
	line := fmt.Sprintf("%s %d - %s # %s", verdict, number, name, directive)
	if reason != "" {
		line += " " + strings.ReplaceAll(reason, "\n", " ")
	}
	return line
}

// tapComments returns the diagnostic lines trailing a failed test point.
func tapComments(res types.RunResult) []string {
	if !res.Failed() {
		return nil
	}
	var lines []string
	if res.Message != "" {
		lines = append(lines, strings.Split(res.Message, "\n")...)
	}
	if res.Detail != "" && res.Detail != res.Message {
		lines = append(lines, strings.Split(res.Detail, "\n")...)
	}
	return lines
}
