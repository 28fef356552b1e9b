package reporting

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjest/gjest/types"
)

// sampleSummary covers every status plus a timeout, spread over two suites.
func sampleSummary(t *testing.T) *RunSummary {
	t.Helper()

	pass := unitResult(0, "tests/alpha_test.go", "TestAdd", types.StatusPassed, 120*time.Millisecond)

	fail := unitResult(1, "tests/alpha_test.go", "TestSub", types.StatusFailed, 80*time.Millisecond)
	fail.Message = "expected 2, got 3"
	fail.Detail = "alpha_test.go:14: expected 2, got 3"

	skip := unitResult(2, "tests/beta_test.go", "TestSkip", types.StatusSkipped, 0)
	skip.SkipReason = "integration only"

	todo := unitResult(3, "tests/beta_test.go", "TestTodo", types.StatusTodo, 0)
	todo.SkipReason = "rework parser"

	boom := unitResult(4, "tests/beta_test.go", "TestBoom", types.StatusErrored, time.Minute)
	boom.Message = "timed out after 1m0s"
	boom.TimedOut = true

	started, err := time.Parse(time.RFC3339, "2025-03-01T10:00:00Z")
	require.NoError(t, err)

	return Aggregate([]types.RunResult{pass, fail, skip, todo, boom}, AggregateOptions{
		RunID:     "run-1",
		StartedAt: started,
		Duration:  2 * time.Second,
	})
}

func TestReportPath(t *testing.T) {
	tests := []struct {
		format string
		suffix string
		want   string
	}{
		{FormatJSON, "", "gjest-report.json"},
		{FormatJSON, "ci", "gjest-report-ci.json"},
		{FormatTAP, "", "gjest-report.tap"},
		{FormatJUnit, "nightly", "gjest-report-nightly.junit.xml"},
	}

	for _, tt := range tests {
		got := ReportPath("/proj", tt.format, tt.suffix)
		assert.Equal(t, filepath.Join("/proj", tt.want), got)
	}
}

func TestNewSink(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatTAP, FormatJUnit} {
		sink, err := NewSink(format, "/proj", "")
		require.NoError(t, err)
		assert.Equal(t, ReportPath("/proj", format, ""), sink.Path())
	}

	_, err := NewSink("xml", "/proj", "")
	require.ErrorContains(t, err, `unknown report format "xml"`)
}

func TestJSONSinkRoundTrip(t *testing.T) {
	summary := sampleSummary(t)
	sink := NewJSONSink(filepath.Join(t.TempDir(), "gjest-report.json"))

	require.NoError(t, sink.Emit(summary))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	report, err := ParseJSONReport(data)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, report.SchemaVersion)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 2*time.Second, report.Duration)
	assert.False(t, report.Interrupted)
	assert.Nil(t, report.Coverage)
	assert.Equal(t, summary.Stats.Total, report.Stats.Total)
	assert.Equal(t, summary.Stats.Failed, report.Stats.Failed)

	// Every unit's status and duration survives the trip.
	var units []JSONUnit
	for _, suite := range report.Suites {
		units = append(units, suite.Units...)
	}
	require.Len(t, units, len(summary.Results))
	for i, res := range summary.Results {
		status, ok := StatusFromString(units[i].Status)
		require.True(t, ok)
		assert.Equal(t, res.Status, status)
		assert.Equal(t, res.Duration, units[i].Duration)
		assert.Equal(t, res.Unit.Name, units[i].Name)
	}
}

func TestJSONSinkCoverage(t *testing.T) {
	summary := sampleSummary(t)
	summary.HasCoverage = true
	summary.CoveragePercent = 82.5

	sink := NewJSONSink(filepath.Join(t.TempDir(), "gjest-report.json"))
	require.NoError(t, sink.Emit(summary))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	report, err := ParseJSONReport(data)
	require.NoError(t, err)

	require.NotNil(t, report.Coverage)
	assert.InDelta(t, 82.5, report.Coverage.Percent, 0.001)
}

func TestJSONSinkCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "gjest-report.json")
	sink := NewJSONSink(path)

	require.NoError(t, sink.Emit(sampleSummary(t)))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestParseJSONReportRejectsUnknownSchema(t *testing.T) {
	_, err := ParseJSONReport([]byte(`{"schemaVersion": 99}`))
	require.ErrorContains(t, err, "unsupported report schema version 99")

	_, err = ParseJSONReport([]byte(`not json`))
	require.ErrorContains(t, err, "failed to parse report")

	_, err = ParseJSONReport([]byte(`{"schemaVersion": 1, "suites": [{"units": [{"status": "exploded"}]}]}`))
	require.ErrorContains(t, err, `unknown unit status "exploded"`)
}

func TestTAPSinkFormat(t *testing.T) {
	sink := NewTAPSink(filepath.Join(t.TempDir(), "gjest-report.tap"))

	require.NoError(t, sink.Emit(sampleSummary(t)))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	want := `TAP version 13
1..5
ok 1 - tests/alpha_test.go::TestAdd
not ok 2 - tests/alpha_test.go::TestSub
# expected 2, got 3
# alpha_test.go:14: expected 2, got 3
ok 3 - tests/beta_test.go::TestSkip # SKIP integration only
not ok 4 - tests/beta_test.go::TestTodo # TODO rework parser
not ok 5 - tests/beta_test.go::TestBoom
# timed out after 1m0s
`
	assert.Equal(t, want, string(data))
}

func TestTAPSinkEmptyRun(t *testing.T) {
	sink := NewTAPSink(filepath.Join(t.TempDir(), "gjest-report.tap"))

	require.NoError(t, sink.Emit(Aggregate(nil, AggregateOptions{})))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, "TAP version 13\n1..0\n", string(data))
}

func TestJUnitSinkRoundTrip(t *testing.T) {
	summary := sampleSummary(t)
	sink := NewJUnitSink(filepath.Join(t.TempDir(), "gjest-report.junit.xml"))

	require.NoError(t, sink.Emit(summary))

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	var report JUnitTestSuites
	require.NoError(t, xml.Unmarshal(data, &report))

	assert.Equal(t, "run-1", report.Name)
	assert.Equal(t, 5, report.Tests)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, "2.000", report.Time)

	require.Len(t, report.Suites, 2)
	alpha := report.Suites[0]
	assert.Equal(t, "tests/alpha_test.go", alpha.Name)
	assert.Equal(t, "2025-03-01T10:00:00Z", alpha.Timestamp)
	require.Len(t, alpha.Cases, 2)
	assert.Nil(t, alpha.Cases[0].Failure)
	assert.Equal(t, "0.120", alpha.Cases[0].Time)
	require.NotNil(t, alpha.Cases[1].Failure)
	assert.Equal(t, "expected 2, got 3", alpha.Cases[1].Failure.Message)
	assert.Equal(t, "alpha_test.go:14: expected 2, got 3", alpha.Cases[1].Failure.Content)

	beta := report.Suites[1]
	require.Len(t, beta.Cases, 3)
	require.NotNil(t, beta.Cases[0].Skipped)
	assert.Equal(t, "integration only", beta.Cases[0].Skipped.Message)
	require.NotNil(t, beta.Cases[1].Skipped)
	assert.Equal(t, "TODO: rework parser", beta.Cases[1].Skipped.Message)
	require.NotNil(t, beta.Cases[2].Error)
	assert.Equal(t, "timeout", beta.Cases[2].Error.Type)
	assert.Equal(t, "60.000", beta.Cases[2].Time)
}
