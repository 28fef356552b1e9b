package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gjest/gjest/types"
)

// TestEvent mirrors one line of `go test -json` output (test2json format).
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64 // seconds
	Output  string
}

// Actions emitted by test2json that the collector reacts to.
const (
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// Event lines are one JSON object each, but an embedded Output payload can
// carry an arbitrarily long test output line.
const maxEventLineBytes = 10 * 1024 * 1024

// outcome is what one event stream says about a single unit.
type outcome struct {
	status       types.UnitStatus
	sawTerminal  bool
	elapsed      float64
	lines        []string // unit and subtest output, run markers removed
	packageLines []string // output not attributed to any test
	output       *tailBuffer
}

// collectOutcome reads a test2json event stream and folds the events that
// concern the named unit (and its subtests) into an outcome. Malformed lines
// are skipped; interleaved non-JSON noise must not abort parsing.
func collectOutcome(r io.Reader, name string) outcome {
	out := outcome{
		status: types.StatusPassed,
		output: newTailBuffer(defaultOutputTailBytes),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		var event TestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}

		if event.Action == ActionOutput {
			_, _ = out.output.Write([]byte(event.Output))
		}

		switch {
		case event.Test == name:
			out.mainEvent(event)
		case strings.HasPrefix(event.Test, name+"/"):
			// Subtest output rides on the parent's failure detail; the
			// parent's own terminal event already reflects subtest failures.
			if event.Action == ActionOutput {
				out.recordLine(event.Output)
			}
		case event.Test == "":
			if event.Action == ActionOutput {
				if line := strings.TrimRight(event.Output, "\n"); line != "" {
					out.packageLines = append(out.packageLines, line)
				}
			}
		}
	}
	return out
}

func (o *outcome) mainEvent(event TestEvent) {
	switch event.Action {
	case ActionPass:
		o.terminal(types.StatusPassed, event)
	case ActionFail:
		o.terminal(types.StatusFailed, event)
	case ActionSkip:
		o.terminal(types.StatusSkipped, event)
	case ActionOutput:
		o.recordLine(event.Output)
	}
}

func (o *outcome) terminal(status types.UnitStatus, event TestEvent) {
	o.status = status
	o.sawTerminal = true
	o.elapsed = event.Elapsed
}

// recordLine keeps a test output line, dropping the === RUN/PAUSE/CONT
// markers that carry no failure context.
func (o *outcome) recordLine(s string) {
	line := strings.TrimRight(s, "\n")
	if line == "" || strings.HasPrefix(strings.TrimSpace(line), "=== ") {
		return
	}
	o.lines = append(o.lines, line)
}

// result converts the collected outcome into a RunResult for the unit.
// Duration starts from the event-reported elapsed time; callers that hold a
// wall clock around the invocation overwrite it.
func (o outcome) result(unit types.TestUnit) *types.RunResult {
	res := &types.RunResult{
		Unit:     unit,
		Status:   o.status,
		Duration: time.Duration(o.elapsed * float64(time.Second)),
		Output:   o.outputSnippet(),
	}
	switch o.status {
	case types.StatusFailed:
		res.Message = o.failureMessage()
		res.Detail = strings.Join(o.lines, "\n")
	case types.StatusSkipped:
		res.SkipReason = o.annotatedLine()
	}
	return res
}

func (o outcome) outputSnippet() string {
	b := o.output.Bytes()
	if len(b) == 0 {
		return ""
	}
	if o.output.Truncated() {
		return "[output truncated]\n" + string(b)
	}
	return string(b)
}

// failureMessage picks the most informative single line out of the failure
// output: a panic line, an assertion library Error line, or the first
// annotated source line.
func (o outcome) failureMessage() string {
	for _, raw := range o.lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "--- "):
			continue
		case strings.HasPrefix(line, "panic:"):
			return line
		case strings.HasPrefix(line, "Error:"):
			return strings.TrimSpace(strings.TrimPrefix(line, "Error:"))
		}
	}
	if msg := o.annotatedLine(); msg != "" {
		return msg
	}
	return "test failed"
}

// annotatedLine returns the message of the first "file.go:NN: message" line,
// which is where t.Error/t.Skip arguments surface in test output.
func (o outcome) annotatedLine() string {
	for _, raw := range o.lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "--- ") {
			continue
		}
		if _, rest, ok := cutSourceLocation(line); ok && rest != "" {
			return rest
		}
	}
	return ""
}

// cutSourceLocation splits "file_test.go:12: message" into its location and
// message parts.
func cutSourceLocation(s string) (string, string, bool) {
	loc, rest, ok := strings.Cut(s, ": ")
	if !ok || !strings.Contains(loc, ".go:") {
		return "", "", false
	}
	return loc, rest, true
}
