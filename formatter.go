package gjest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/gjest/gjest/coverage"
	"github.com/gjest/gjest/reporting"
	"github.com/gjest/gjest/runner"
	"github.com/gjest/gjest/types"
	"github.com/gjest/gjest/ui"
)

// ConsoleReporter renders run summaries for a terminal. It always renders;
// interrupted runs get whatever partial results the scheduler produced.
type ConsoleReporter struct {
	w            io.Writer
	modules      bool
	suiteTable   bool
	outliers     int
	maxDiffLines int
	coverageBars bool
}

// NewConsoleReporter creates a reporter writing to w, configured from the
// report display options.
func NewConsoleReporter(w io.Writer, cfg *Config) *ConsoleReporter {
	return &ConsoleReporter{
		w:            w,
		modules:      cfg.ReportModules,
		suiteTable:   cfg.ReportSuiteTable,
		outliers:     cfg.ReportOutliers,
		maxDiffLines: cfg.MaxDiffLines,
		coverageBars: cfg.CoverageBars,
	}
}

// Render writes the post-run report: failure details, the module tree, the
// suite table, outliers, coverage, and the summary footer. profile may be
// nil when coverage is off.
func (r *ConsoleReporter) Render(summary *reporting.RunSummary, profile *coverage.Profile) {
	if failed := summary.FailedResults(); len(failed) > 0 {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, text.Bold.Sprint("Failures:"))
		for _, res := range failed {
			r.renderFailure(res)
		}
	}

	if r.modules {
		r.renderModuleTree(summary)
	}
	if r.suiteTable {
		r.renderSuiteTable(summary)
	}
	if r.outliers > 0 {
		r.renderOutliers(summary)
	}
	if profile != nil && !profile.Empty() {
		r.renderCoverage(profile)
	}
	r.renderFooter(summary)
}

func (r *ConsoleReporter) renderFailure(res types.RunResult) {
	fmt.Fprintf(r.w, "\n  %s %s (%s)\n",
		runner.StatusGlyph(res.Status),
		text.Bold.Sprint(res.Unit.QualifiedName()),
		formatDuration(res.Duration))

	if res.Message != "" {
		fmt.Fprintf(r.w, "    %s\n", res.Message)
	}
	if res.Detail != "" && res.Detail != res.Message {
		for _, line := range truncateLines(strings.Split(res.Detail, "\n"), r.maxDiffLines) {
			fmt.Fprintf(r.w, "    %s\n", line)
		}
	}
	if res.Output != "" {
		fmt.Fprintf(r.w, "    %s\n", text.Faint.Sprint("captured output:"))
		lines := strings.Split(strings.TrimRight(res.Output, "\n"), "\n")
		for _, line := range truncateLines(lines, r.maxDiffLines) {
			fmt.Fprintf(r.w, "    %s\n", line)
		}
	}
}

func (r *ConsoleReporter) renderModuleTree(summary *reporting.RunSummary) {
	if len(summary.Suites) == 0 {
		return
	}
	fmt.Fprintln(r.w)
	for _, suite := range summary.Suites {
		fmt.Fprintf(r.w, "%s %s (%s)\n",
			runner.StatusGlyph(suite.Status),
			text.Bold.Sprint(suite.File),
			formatDuration(suite.Duration))

		for i, res := range suite.Results {
			prefix := ui.BuildTreePrefix(1, i == len(suite.Results)-1, nil)
			line := fmt.Sprintf("%s%s %s (%s)",
				prefix, runner.StatusGlyph(res.Status), unitLabel(res.Unit), formatDuration(res.Duration))
			if res.SkipReason != "" {
				line += " " + text.Faint.Sprintf("[%s]", res.SkipReason)
			}
			fmt.Fprintln(r.w, line)
		}
	}
}

func (r *ConsoleReporter) renderSuiteTable(summary *reporting.RunSummary) {
	if len(summary.Suites) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetTitle(fmt.Sprintf("Test Suites (%s)", formatDuration(summary.Duration)))
	t.AppendHeader(table.Row{"Suite", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	for _, suite := range summary.Suites {
		t.AppendRow(table.Row{
			suite.File,
			formatDuration(suite.Duration),
			suite.Stats.Total,
			suite.Stats.Passed,
			suite.Stats.Failed + suite.Stats.Errored,
			suite.Stats.Skipped + suite.Stats.Todo,
			statusLabel(suite.Status),
		})
	}

	switch {
	case summary.Stats.Failed > 0 || summary.Stats.Errored > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case summary.Stats.Passed == 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(summary.Duration),
		summary.Stats.Total,
		summary.Stats.Passed,
		summary.Stats.Failed + summary.Stats.Errored,
		summary.Stats.Skipped + summary.Stats.Todo,
		statusLabel(runStatus(summary)),
	})

	fmt.Fprintln(r.w)
	t.Render()
}

func (r *ConsoleReporter) renderOutliers(summary *reporting.RunSummary) {
	if len(summary.Slowest) == 0 {
		return
	}

	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, text.Bold.Sprint("Slowest:"))
	for _, res := range capResults(summary.Slowest, r.outliers) {
		fmt.Fprintf(r.w, "  %8s  %s\n", formatDuration(res.Duration), res.Unit.QualifiedName())
	}

	// A fastest list is only informative when it differs from the slowest.
	executed := summary.Stats.Passed + summary.Stats.Failed + summary.Stats.Errored
	if executed > len(summary.Slowest) && len(summary.Fastest) > 0 {
		fmt.Fprintln(r.w, text.Bold.Sprint("Fastest:"))
		for _, res := range capResults(summary.Fastest, r.outliers) {
			fmt.Fprintf(r.w, "  %8s  %s\n", formatDuration(res.Duration), res.Unit.QualifiedName())
		}
	}
}

func (r *ConsoleReporter) renderCoverage(profile *coverage.Profile) {
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "%s %.1f%% (%d/%d statements)\n",
		text.Bold.Sprint("Coverage:"), profile.Percent, profile.Covered, profile.Total)

	if !r.coverageBars {
		return
	}
	for _, file := range profile.Files {
		fmt.Fprintf(r.w, "  %s %5.1f%%  %s\n", coverageBar(file.Percent), file.Percent, file.Path)
	}
}

func (r *ConsoleReporter) renderFooter(summary *reporting.RunSummary) {
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "%s %s\n", text.Bold.Sprint("Test Suites:"), footerSuiteCounts(summary.Suites))
	fmt.Fprintf(r.w, "%s       %s\n", text.Bold.Sprint("Tests:"), footerUnitCounts(summary.Stats))
	fmt.Fprintf(r.w, "%s        %.2fs\n", text.Bold.Sprint("Time:"), summary.Duration.Seconds())
	if summary.Interrupted {
		fmt.Fprintln(r.w, text.FgYellow.Sprint("Run interrupted, results are partial."))
	}
}

// DiscoveryErrors lists targets and files discovery could not resolve. The
// run proceeds with whatever did resolve.
func (r *ConsoleReporter) DiscoveryErrors(errs []types.DiscoveryError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(r.w, text.FgYellow.Sprintf("Discovery reported %d problem(s):", len(errs)))
	for _, derr := range errs {
		fmt.Fprintf(r.w, "  %s\n", derr.Error())
	}
}

// FailureRecap announces the failures carried over from the previous watch
// cycle before they re-run.
func (r *ConsoleReporter) FailureRecap(names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(r.w, text.FgRed.Sprintf("Re-running %d previous failure(s) first", len(names)))
}

// CycleHeader announces a watch cycle and what triggered it. Cycle zero is
// the initial full run and gets no header.
func (r *ConsoleReporter) CycleHeader(cycle int, changed []string) {
	if cycle == 0 {
		return
	}
	fmt.Fprintln(r.w)
	header := fmt.Sprintf("Watch cycle %d", cycle)
	if len(changed) > 0 {
		header += fmt.Sprintf(" (%d changed files)", len(changed))
	}
	fmt.Fprintln(r.w, text.Bold.Sprint(header))
}

// WatchIdle prints the idle notice between watch cycles.
func (r *ConsoleReporter) WatchIdle() {
	fmt.Fprintln(r.w, text.Faint.Sprint("Watching for file changes. Press Ctrl+C to exit."))
}

// SnapshotSummary reports the snapshot documents a run created or refreshed.
func (r *ConsoleReporter) SnapshotSummary(files []string) {
	fmt.Fprintln(r.w)
	if len(files) == 0 {
		fmt.Fprintln(r.w, "Snapshots: none written")
		return
	}
	fmt.Fprintf(r.w, "Snapshots: %d written\n", len(files))
	for _, f := range files {
		fmt.Fprintf(r.w, "  %s\n", f)
	}
}

// WriteError reports a report sink failure. Sink failures never change the
// exit code; the run outcome stays test-driven.
func (r *ConsoleReporter) WriteError(path string, err error) {
	fmt.Fprintln(r.w, text.FgRed.Sprintf("Failed to write report %s: %v", path, err))
}

// ThresholdFailure reports an unmet coverage threshold.
func (r *ConsoleReporter) ThresholdFailure(err error) {
	fmt.Fprintln(r.w, text.FgRed.Sprint(err.Error()))
}

// runStatus reduces the whole run to one display status.
func runStatus(summary *reporting.RunSummary) types.UnitStatus {
	switch {
	case summary.Stats.Failed > 0 || summary.Stats.Errored > 0:
		return types.StatusFailed
	case summary.Stats.Passed > 0:
		return types.StatusPassed
	default:
		return types.StatusSkipped
	}
}

// statusLabel returns a glyph-plus-word form of a status for table cells.
func statusLabel(status types.UnitStatus) string {
	switch status {
	case types.StatusPassed:
		return "✓ pass"
	case types.StatusSkipped:
		return "- skip"
	case types.StatusTodo:
		return "✎ todo"
	case types.StatusErrored:
		return "! error"
	default:
		return "✗ fail"
	}
}

func unitLabel(unit types.TestUnit) string {
	if unit.Label != "" {
		return unit.Label
	}
	return unit.Name
}

// footerSuiteCounts renders the Jest-style suite tally, colored per bucket,
// omitting empty buckets.
func footerSuiteCounts(suites []reporting.SuiteSummary) string {
	var failed, skipped, passed int
	for _, suite := range suites {
		switch suite.Status {
		case types.StatusFailed, types.StatusErrored:
			failed++
		case types.StatusPassed:
			passed++
		default:
			skipped++
		}
	}

	var parts []string
	if failed > 0 {
		parts = append(parts, text.FgRed.Sprintf("%d failed", failed))
	}
	if skipped > 0 {
		parts = append(parts, text.FgYellow.Sprintf("%d skipped", skipped))
	}
	if passed > 0 {
		parts = append(parts, text.FgGreen.Sprintf("%d passed", passed))
	}
	parts = append(parts, fmt.Sprintf("%d total", len(suites)))
	return strings.Join(parts, ", ")
}

// footerUnitCounts renders the unit tally in the same style.
func footerUnitCounts(stats reporting.Stats) string {
	var parts []string
	if stats.Failed > 0 {
		parts = append(parts, text.FgRed.Sprintf("%d failed", stats.Failed))
	}
	if stats.Errored > 0 {
		parts = append(parts, text.FgRed.Sprintf("%d errored", stats.Errored))
	}
	if stats.Skipped > 0 {
		parts = append(parts, text.FgYellow.Sprintf("%d skipped", stats.Skipped))
	}
	if stats.Todo > 0 {
		parts = append(parts, text.FgCyan.Sprintf("%d todo", stats.Todo))
	}
	if stats.Passed > 0 {
		parts = append(parts, text.FgGreen.Sprintf("%d passed", stats.Passed))
	}
	parts = append(parts, fmt.Sprintf("%d total", stats.Total))
	return strings.Join(parts, ", ")
}

// truncateLines caps a block at max lines, replacing the overflow with an
// elision marker.
func truncateLines(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	out := append([]string{}, lines[:max]...)
	return append(out, fmt.Sprintf("... (%d more lines)", len(lines)-max))
}

func capResults(results []types.RunResult, n int) []types.RunResult {
	if len(results) > n {
		return results[:n]
	}
	return results
}

// coverageBar renders a ten-cell bar colored by coverage band.
func coverageBar(percent float64) string {
	filled := int(percent / 10)
	if filled > 10 {
		filled = 10
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
	switch {
	case percent >= 80:
		return text.FgGreen.Sprint(bar)
	case percent >= 50:
		return text.FgYellow.Sprint(bar)
	default:
		return text.FgRed.Sprint(bar)
	}
}

// formatDuration renders a duration as seconds with one decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
