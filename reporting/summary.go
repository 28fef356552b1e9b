// Package reporting aggregates run results into run summaries and emits
// report artifacts in machine-readable formats.
package reporting

import (
	"sort"
	"time"

	"github.com/gjest/gjest/types"
)

// DefaultOutliers is how many slowest and fastest units a summary keeps.
const DefaultOutliers = 3

// Stats holds aggregate counts for a result set. Total is always the sum of
// the five status buckets.
type Stats struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Errored  int
	Todo     int
	PassRate float64 // percentage of executed units that passed
}

func (s *Stats) add(res types.RunResult) {
	s.Total++
	switch res.Status {
	case types.StatusPassed:
		s.Passed++
	case types.StatusFailed:
		s.Failed++
	case types.StatusSkipped:
		s.Skipped++
	case types.StatusErrored:
		s.Errored++
	case types.StatusTodo:
		s.Todo++
	}
}

func (s *Stats) finalize() {
	if executed := s.Passed + s.Failed + s.Errored; executed > 0 {
		s.PassRate = float64(s.Passed) * 100 / float64(executed)
	}
}

// SuiteSummary groups the results of one test file.
type SuiteSummary struct {
	File     string
	Status   types.UnitStatus
	Duration time.Duration
	Stats    Stats
	Results  []types.RunResult
}

// RunSummary is the aggregate view of one run cycle. It is built only by
// Aggregate and read-only afterward; emitters and renderers share it.
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Interrupted bool
	Stats       Stats
	Suites      []SuiteSummary
	Results     []types.RunResult // all results, resolution order
	Slowest     []types.RunResult
	Fastest     []types.RunResult

	// CoveragePercent is the overall statement coverage of the run, valid
	// only when HasCoverage is set.
	HasCoverage     bool
	CoveragePercent float64
}

// Success reports whether every executed unit passed.
func (s *RunSummary) Success() bool {
	return s.Stats.Failed == 0 && s.Stats.Errored == 0
}

// FailedResults returns the failed and errored results in display order.
func (s *RunSummary) FailedResults() []types.RunResult {
	var failed []types.RunResult
	for _, res := range s.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// AggregateOptions carries run-level metadata into Aggregate.
type AggregateOptions struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Outliers    int // slowest/fastest list length, DefaultOutliers when zero
	Interrupted bool
}

// Aggregate folds a result set into a summary. It is a pure function of its
// inputs: counts are order-independent, display ordering re-imposes
// resolution order, and no unit is double-counted or dropped.
func Aggregate(results []types.RunResult, opts AggregateOptions) *RunSummary {
	if opts.Outliers == 0 {
		opts.Outliers = DefaultOutliers
	}

	ordered := append([]types.RunResult{}, results...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Unit.Index < ordered[j].Unit.Index
	})

	summary := &RunSummary{
		RunID:       opts.RunID,
		StartedAt:   opts.StartedAt,
		Duration:    opts.Duration,
		Interrupted: opts.Interrupted,
		Results:     ordered,
	}

	suiteIndex := make(map[string]int)
	for _, res := range ordered {
		summary.Stats.add(res)

		idx, ok := suiteIndex[res.Unit.File]
		if !ok {
			idx = len(summary.Suites)
			suiteIndex[res.Unit.File] = idx
			summary.Suites = append(summary.Suites, SuiteSummary{File: res.Unit.File})
		}
		suite := &summary.Suites[idx]
		suite.Stats.add(res)
		suite.Duration += res.Duration
		suite.Results = append(suite.Results, res)
	}
	summary.Stats.finalize()

	for i := range summary.Suites {
		suite := &summary.Suites[i]
		suite.Stats.finalize()
		suite.Status = rollupStatus(suite.Stats)
	}

	executed := executedResults(ordered)
	summary.Slowest = outliers(executed, opts.Outliers, func(a, b types.RunResult) bool {
		if a.Duration != b.Duration {
			return a.Duration > b.Duration
		}
		return a.Unit.Index < b.Unit.Index
	})
	summary.Fastest = outliers(executed, opts.Outliers, func(a, b types.RunResult) bool {
		if a.Duration != b.Duration {
			return a.Duration < b.Duration
		}
		return a.Unit.Index < b.Unit.Index
	})

	return summary
}

// rollupStatus reduces suite stats to a single display status.
func rollupStatus(stats Stats) types.UnitStatus {
	switch {
	case stats.Failed > 0 || stats.Errored > 0:
		return types.StatusFailed
	case stats.Passed > 0:
		return types.StatusPassed
	default:
		return types.StatusSkipped
	}
}

// executedResults filters out units that never ran (skipped, todo); their
// zero durations would make the fastest list meaningless.
func executedResults(results []types.RunResult) []types.RunResult {
	var executed []types.RunResult
	for _, res := range results {
		switch res.Status {
		case types.StatusPassed, types.StatusFailed, types.StatusErrored:
			executed = append(executed, res)
		}
	}
	return executed
}

func outliers(results []types.RunResult, n int, less func(a, b types.RunResult) bool) []types.RunResult {
	out := append([]types.RunResult{}, results...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
