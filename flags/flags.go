// Package flags declares the CLI surface of gjest.
package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gjest/gjest/discovery"
	"github.com/gjest/gjest/engine"
	"github.com/gjest/gjest/reporting"
)

const EnvVarPrefix = "GJEST"

// prefixEnvVars derives the single environment variable of a flag from its
// kebab-case name, e.g. "max-units-per-batch" -> GJEST_MAX_UNITS_PER_BATCH.
func prefixEnvVars(name string) []string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return []string{EnvVarPrefix + "_" + upper}
}

var (
	Root = &cli.StringFlag{
		Name:    "root",
		Value:   "",
		EnvVars: prefixEnvVars("root"),
		Usage:   "Project root to discover tests under (defaults to the working directory)",
	}
	Pattern = &cli.StringFlag{
		Name:    "pattern",
		Value:   discovery.DefaultIncludePattern,
		EnvVars: prefixEnvVars("pattern"),
		Usage:   "Glob matched against file base names to include test files",
	}
	PatternExclude = &cli.StringFlag{
		Name:    "pattern-exclude",
		Value:   "",
		EnvVars: prefixEnvVars("pattern-exclude"),
		Usage:   "Glob matched against file base names to exclude test files",
	}
	Ignore = &cli.StringSliceFlag{
		Name:    "ignore",
		EnvVars: prefixEnvVars("ignore"),
		Usage:   "Path prefix to skip during discovery (repeatable)",
	}
	GjestOnly = &cli.BoolFlag{
		Name:    "gjest-only",
		Value:   false,
		EnvVars: prefixEnvVars("gjest-only"),
		Usage:   "Restrict discovery to *_gjest_test.go files",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   1,
		EnvVars: prefixEnvVars("workers"),
		Usage:   "Number of concurrent test workers (1 = serial)",
	}
	MaxUnitsPerBatch = &cli.IntFlag{
		Name:    "max-units-per-batch",
		Value:   1,
		EnvVars: prefixEnvVars("max-units-per-batch"),
		Usage:   "Maximum units dispatched to a worker at once",
	}
	Bail = &cli.BoolFlag{
		Name:    "bail",
		Value:   false,
		EnvVars: prefixEnvVars("bail"),
		Usage:   "Stop dispatching units after the first failure",
	}
	Buffer = &cli.BoolFlag{
		Name:    "buffer",
		Value:   false,
		EnvVars: prefixEnvVars("buffer"),
		Usage:   "Capture unit output and show it only in the report",
	}
	ProgressFancy = &cli.IntFlag{
		Name:    "progress-fancy",
		Value:   0,
		EnvVars: prefixEnvVars("progress-fancy"),
		Usage:   "Progress verbosity: 0 glyphs, 1 suite lines, 2 framed block",
	}
	NoColor = &cli.BoolFlag{
		Name:    "no-color",
		Value:   false,
		EnvVars: prefixEnvVars("no-color"),
		Usage:   "Disable ANSI colors in console output",
	}
	Watch = &cli.BoolFlag{
		Name:    "watch",
		Value:   false,
		EnvVars: prefixEnvVars("watch"),
		Usage:   "Re-run tests when source files change",
	}
	WatchInterval = &cli.DurationFlag{
		Name:    "watch-interval",
		Value:   defaultWatchInterval,
		EnvVars: prefixEnvVars("watch-interval"),
		Usage:   "Polling interval of the fallback file watcher",
	}
	WatchDebounce = &cli.DurationFlag{
		Name:    "watch-debounce",
		Value:   defaultWatchDebounce,
		EnvVars: prefixEnvVars("watch-debounce"),
		Usage:   "Quiet period after a change before a run starts",
	}
	WatchPoll = &cli.BoolFlag{
		Name:    "watch-poll",
		Value:   false,
		EnvVars: prefixEnvVars("watch-poll"),
		Usage:   "Force the polling watcher instead of native file events",
	}
	OnlyChanged = &cli.BoolFlag{
		Name:    "only-changed",
		Value:   false,
		EnvVars: prefixEnvVars("only-changed"),
		Usage:   "Narrow each watch cycle to the changed test files",
	}
	RunFailuresFirst = &cli.BoolFlag{
		Name:    "run-failures-first",
		Value:   false,
		EnvVars: prefixEnvVars("run-failures-first"),
		Usage:   "Schedule the previous cycle's failing units first",
	}
	ReportFormat = &cli.StringSliceFlag{
		Name:    "report-format",
		EnvVars: prefixEnvVars("report-format"),
		Usage:   "Report artifact to write: json, tap or junit (repeatable)",
	}
	ReportSuffix = &cli.StringFlag{
		Name:    "report-suffix",
		Value:   "",
		EnvVars: prefixEnvVars("report-suffix"),
		Usage:   "Suffix appended to report file names",
	}
	ReportModules = &cli.BoolFlag{
		Name:    "report-modules",
		Value:   true,
		EnvVars: prefixEnvVars("report-modules"),
		Usage:   "Render the per-suite unit tree in the console report",
	}
	ReportSuiteTable = &cli.BoolFlag{
		Name:    "report-suite-table",
		Value:   false,
		EnvVars: prefixEnvVars("report-suite-table"),
		Usage:   "Render a per-suite summary table in the console report",
	}
	ReportOutliers = &cli.IntFlag{
		Name:    "report-outliers",
		Value:   reporting.DefaultOutliers,
		EnvVars: prefixEnvVars("report-outliers"),
		Usage:   "Number of slowest/fastest units listed (0 disables)",
	}
	MaxDiffLines = &cli.IntFlag{
		Name:    "max-diff-lines",
		Value:   200,
		EnvVars: prefixEnvVars("max-diff-lines"),
		Usage:   "Maximum failure detail lines printed per unit",
	}
	Coverage = &cli.BoolFlag{
		Name:    "coverage",
		Value:   false,
		EnvVars: prefixEnvVars("coverage"),
		Usage:   "Measure statement coverage across the run",
	}
	CoverageThreshold = &cli.Float64Flag{
		Name:    "coverage-threshold",
		Value:   0,
		EnvVars: prefixEnvVars("coverage-threshold"),
		Usage:   "Fail the run when overall coverage is below this percentage",
	}
	CoverageHTML = &cli.StringFlag{
		Name:    "coverage-html",
		Value:   "",
		EnvVars: prefixEnvVars("coverage-html"),
		Usage:   "Directory to write an HTML coverage report into",
	}
	CoverageBars = &cli.BoolFlag{
		Name:    "coverage-bars",
		Value:   false,
		EnvVars: prefixEnvVars("coverage-bars"),
		Usage:   "Render per-file coverage bars in the console report",
	}
	UpdateSnapshots = &cli.BoolFlag{
		Name:    "update-snapshots",
		Value:   false,
		EnvVars: prefixEnvVars("update-snapshots"),
		Usage:   "Rewrite stored snapshots instead of failing on mismatch",
	}
	SnapshotSummary = &cli.BoolFlag{
		Name:    "snapshot-summary",
		Value:   false,
		EnvVars: prefixEnvVars("snapshot-summary"),
		Usage:   "Print counts of snapshot records written during the run",
	}
	UnitTimeout = &cli.DurationFlag{
		Name:    "unit-timeout",
		Value:   engine.DefaultUnitTimeout,
		EnvVars: prefixEnvVars("unit-timeout"),
		Usage:   "Timeout applied to each test unit",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   engine.DefaultGoBinary,
		EnvVars: prefixEnvVars("go-binary"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("log-level"),
		Usage:   "Process log level (debug, info, warn, error)",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: prefixEnvVars("log-dir"),
		Usage:   "Directory to store captured output of failing units",
	}
	MetricsAddr = &cli.StringFlag{
		Name:    "metrics-addr",
		Value:   "",
		EnvVars: prefixEnvVars("metrics-addr"),
		Usage:   "Listen address of the Prometheus endpoint in watch mode (off when empty)",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: prefixEnvVars("config"),
		Usage:   "Project config file (defaults to .gjest.yaml under the root)",
	}
)

const (
	defaultWatchInterval = time.Second
	defaultWatchDebounce = 200 * time.Millisecond
)

// Every flag is optional; targets arrive as positional arguments.
var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Root,
	Pattern,
	PatternExclude,
	Ignore,
	GjestOnly,
	Workers,
	MaxUnitsPerBatch,
	Bail,
	Buffer,
	ProgressFancy,
	NoColor,
	Watch,
	WatchInterval,
	WatchDebounce,
	WatchPoll,
	OnlyChanged,
	RunFailuresFirst,
	ReportFormat,
	ReportSuffix,
	ReportModules,
	ReportSuiteTable,
	ReportOutliers,
	MaxDiffLines,
	Coverage,
	CoverageThreshold,
	CoverageHTML,
	CoverageBars,
	UpdateSnapshots,
	SnapshotSummary,
	UnitTimeout,
	GoBinary,
	LogLevel,
	LogDir,
	MetricsAddr,
	ConfigFile,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
