package reporting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gjest/gjest/types"
)

// SchemaVersion identifies the JSON report layout. Bump on any breaking
// change to the document types below.
const SchemaVersion = 1

// JSONReport is the top-level JSON artifact document. Durations are
// nanoseconds so a reader reconstructs them without precision loss.
type JSONReport struct {
	SchemaVersion int           `json:"schemaVersion"`
	RunID         string        `json:"runId"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	Interrupted   bool          `json:"interrupted"`
	Stats         JSONStats     `json:"stats"`
	Coverage      *JSONCoverage `json:"coverage,omitempty"`
	Suites        []JSONSuite   `json:"suites"`
}

type JSONStats struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Errored  int     `json:"errored"`
	Todo     int     `json:"todo"`
	PassRate float64 `json:"passRate"`
}

type JSONCoverage struct {
	Percent float64 `json:"percent"`
}

type JSONSuite struct {
	File     string        `json:"file"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Stats    JSONStats     `json:"stats"`
	Units    []JSONUnit    `json:"units"`
}

type JSONUnit struct {
	Name       string        `json:"name"`
	Label      string        `json:"label,omitempty"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	Message    string        `json:"message,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	SkipReason string        `json:"skipReason,omitempty"`
	TimedOut   bool          `json:"timedOut,omitempty"`
}

// JSONSink renders a run summary as a versioned JSON document.
type JSONSink struct {
	path string
}

func NewJSONSink(path string) *JSONSink {
	return &JSONSink{path: path}
}

func (s *JSONSink) Path() string {
	return s.path
}

func (s *JSONSink) Emit(summary *RunSummary) error {
	data, err := json.MarshalIndent(buildJSONReport(summary), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return writeArtifact(s.path, append(data, '\n'))
}

func buildJSONReport(summary *RunSummary) JSONReport {
	report := JSONReport{
		SchemaVersion: SchemaVersion,
		RunID:         summary.RunID,
		StartedAt:     summary.StartedAt,
		Duration:      summary.Duration,
		Interrupted:   summary.Interrupted,
		Stats:         jsonStats(summary.Stats),
		Suites:        make([]JSONSuite, 0, len(summary.Suites)),
	}
	if summary.HasCoverage {
		report.Coverage = &JSONCoverage{Percent: summary.CoveragePercent}
	}
	for _, suite := range summary.Suites {
		out := JSONSuite{
			File:     suite.File,
			Status:   string(suite.Status),
			Duration: suite.Duration,
			Stats:    jsonStats(suite.Stats),
			Units:    make([]JSONUnit, 0, len(suite.Results)),
		}
		for _, res := range suite.Results {
			out.Units = append(out.Units, JSONUnit{
				Name:       res.Unit.Name,
				Label:      res.Unit.Label,
				Status:     string(res.Status),
				Duration:   res.Duration,
				Message:    res.Message,
				Detail:     res.Detail,
				SkipReason: res.SkipReason,
				TimedOut:   res.TimedOut,
			})
		}
		report.Suites = append(report.Suites, out)
	}
	return report
}

func jsonStats(stats Stats) JSONStats {
	return JSONStats{
		Total:    stats.Total,
		Passed:   stats.Passed,
		Failed:   stats.Failed,
		Skipped:  stats.Skipped,
		Errored:  stats.Errored,
		Todo:     stats.Todo,
		PassRate: stats.PassRate,
	}
}

// ParseJSONReport decodes a JSON artifact, checking the schema version and
// status vocabulary so a reader fails loudly on documents it does not
// understand.
func ParseJSONReport(data []byte) (*JSONReport, error) {
	var report JSONReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if report.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported report schema version %d", report.SchemaVersion)
	}
	for _, suite := range report.Suites {
		for _, unit := range suite.Units {
			if _, ok := StatusFromString(unit.Status); !ok {
				return nil, fmt.Errorf("unknown unit status %q in report", unit.Status)
			}
		}
	}
	return &report, nil
}

// StatusFromString maps a serialized status back to the typed constant.
func StatusFromString(s string) (types.UnitStatus, bool) {
	switch types.UnitStatus(s) {
	case types.StatusPassed, types.StatusFailed, types.StatusSkipped,
		types.StatusErrored, types.StatusTodo:
		return types.UnitStatus(s), true
	}
	return "", false
}
