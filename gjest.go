// Package gjest orchestrates the test pipeline: discovery, scheduling,
// aggregation, report emission, and in watch mode the loop over them.
package gjest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/gjest/gjest/coverage"
	"github.com/gjest/gjest/discovery"
	"github.com/gjest/gjest/engine"
	"github.com/gjest/gjest/exitcodes"
	"github.com/gjest/gjest/logging"
	"github.com/gjest/gjest/metrics"
	"github.com/gjest/gjest/reporting"
	"github.com/gjest/gjest/runner"
	"github.com/gjest/gjest/service"
	"github.com/gjest/gjest/snapshot"
	"github.com/gjest/gjest/types"
)

// App wires the pipeline components and drives them once or, in watch mode,
// per change cycle.
type App struct {
	ctx        context.Context
	config     *Config
	version    string
	resolver   *discovery.Resolver
	sched      *runner.Scheduler
	console    *ConsoleReporter
	svc        *service.Service
	controller *WatchController
	summary    *reporting.RunSummary // last completed cycle

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = logging.NewNopLogger()
	}
	if config.NoColor {
		text.DisableColors()
	}

	config.Log.Debugw("Creating gjest app",
		"root", config.Root,
		"targets", config.Targets,
		"workers", config.Workers,
		"watch", config.Watch)

	resolver, err := discovery.NewResolver(discovery.Config{
		Root:           config.Root,
		IncludePattern: config.IncludePattern,
		ExcludePattern: config.ExcludePattern,
		IgnorePaths:    config.IgnorePaths,
		GjestOnly:      config.GjestOnly,
		Log:            config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	var progress runner.ProgressIndicator
	if config.Buffer {
		// Buffered runs capture unit output, so interleaved glyphs would
		// fight with it; the rewritten status line does not.
		progress = runner.NewStatusLineIndicator(os.Stdout, 0)
	} else {
		progress = runner.NewInlineIndicator(os.Stdout, config.ProgressFancy)
	}

	sched, err := runner.NewScheduler(runner.Config{
		Engine:   engine.NewGoTest(config.GoBinary, config.Log),
		Progress: progress,
		Log:      config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app := &App{
		ctx:              ctx,
		config:           config,
		version:          version,
		resolver:         resolver,
		sched:            sched,
		console:          NewConsoleReporter(os.Stdout, config),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}

	if config.Watch && config.MetricsAddr != "" {
		app.svc = service.New(service.Config{
			MetricsAddr: config.MetricsAddr,
			Log:         config.Log,
		})
	}
	return app, nil
}

// Start runs the pipeline once, or starts the watch loop when watch mode is
// on. Start implements the cliapp-style lifecycle used by cmd/main.go.
func (a *App) Start(ctx context.Context) error {
	// Panics are runtime errors, not test failures.
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Errorw("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx
	a.running.Store(true)

	if !a.config.Watch {
		a.config.Log.Infow("Starting gjest in run-once mode", "version", a.version)

		outcome, err := a.runPipeline(ctx, a.config.Targets, nil, "cli")
		if err != nil {
			a.config.Log.Errorw("Runtime error running tests", "error", err)
			return err
		}
		a.summary = outcome.summary

		if exitErr := outcome.exitError(); exitErr != nil {
			a.config.Log.Warnw("Run completed with failures, returning exit code 1")
			return exitErr
		}

		go func() {
			a.shutdownCallback(nil)
		}()
		return nil
	}

	a.config.Log.Infow("Starting gjest in watch mode",
		"debounce", a.config.WatchDebounce, "version", a.version)

	if a.svc != nil {
		a.svc.Start(ctx)
	}

	source, err := a.newChangeSource(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}
	a.controller = NewWatchController(source, a.config.WatchDebounce, a.runWatchCycle, a.config.Log)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer source.Stop()

		if err := a.controller.Run(ctx); err != nil {
			a.config.Log.Errorw("Watch loop failed", "error", err)
			a.shutdownCallback(err)
			return
		}
		if ctx.Err() == nil {
			// Event source closed without an interrupt; nothing left to watch.
			a.shutdownCallback(nil)
		}
	}()
	a.config.Log.Debugw("gjest started successfully")
	return nil
}

// newChangeSource starts a change backend: native notifications unless
// polling is forced, with a polling fallback when the native backend cannot
// start.
func (a *App) newChangeSource(ctx context.Context) (ChangeSource, error) {
	if !a.config.WatchPoll {
		native := NewNativeWatcher(a.config.Root, a.config.Log)
		if err := native.Start(ctx); err == nil {
			a.config.Log.Debugw("Using native file notifications")
			return native, nil
		} else {
			a.config.Log.Warnw("Native file notifications unavailable, falling back to polling", "error", err)
		}
	}

	poller := NewPollingWatcher(a.config.Root, a.config.WatchInterval, a.config.Log)
	if err := poller.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start polling watcher: %w", err)
	}
	a.config.Log.Debugw("Using polling file watcher", "interval", a.config.WatchInterval)
	return poller, nil
}

// runWatchCycle executes one watch cycle: narrow targets to the changed
// files when configured, re-run the previous failures first when configured,
// and carry this cycle's failures into the returned state.
func (a *App) runWatchCycle(ctx context.Context, state WatchState, changed []string) (WatchState, error) {
	a.console.CycleHeader(state.Cycle, changed)

	targets := a.config.Targets
	if a.config.OnlyChanged && len(changed) > 0 {
		// When no changed path maps to an eligible test file, fall back to
		// the full target set rather than running nothing.
		if narrowed := a.narrowTargets(changed); len(narrowed) > 0 {
			targets = narrowed
		}
	}

	var prioritize []string
	if a.config.RunFailuresFirst {
		prioritize = state.LastFailures
		a.console.FailureRecap(prioritize)
	}

	outcome, err := a.runPipeline(ctx, targets, prioritize, "watch")
	if err != nil {
		if ctx.Err() != nil {
			return state, nil
		}
		return state, err
	}

	a.summary = outcome.summary
	state.LastFailures = failureNames(outcome.summary)

	if ctx.Err() == nil {
		a.console.WatchIdle()
	}
	return state, nil
}

// narrowTargets maps changed paths to discovery targets by direct file
// match. Removed files and non-test files drop out.
func (a *App) narrowTargets(changed []string) []string {
	var targets []string
	for _, p := range changed {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if a.resolver.EligibleFile(p) {
			targets = append(targets, p)
		}
	}
	return targets
}

// runOutcome carries what the exit-code decision needs out of one cycle.
type runOutcome struct {
	summary      *reporting.RunSummary
	thresholdErr error
	unresolved   []types.DiscoveryError
}

// exitError maps the outcome to the run-once exit error: failing units, an
// unmet coverage threshold, or unresolved explicitly-named targets all exit
// with the test-failure code.
func (o *runOutcome) exitError() error {
	switch {
	case o.summary != nil && !o.summary.Success():
		return NewTestFailureError(fmt.Sprintf("%d of %d units failed",
			o.summary.Stats.Failed+o.summary.Stats.Errored, o.summary.Stats.Total))
	case o.thresholdErr != nil:
		return NewTestFailureError(o.thresholdErr.Error())
	case len(o.unresolved) > 0:
		return NewTestFailureError(fmt.Sprintf("%d targets could not be resolved", len(o.unresolved)))
	}
	return nil
}

// runPipeline performs one full invocation: resolve, execute, aggregate,
// measure coverage, render, emit. A non-nil error is a runtime problem;
// test failures travel in the outcome.
func (a *App) runPipeline(ctx context.Context, targets []string, prioritize []string, trigger string) (*runOutcome, error) {
	runID := uuid.New().String()
	started := time.Now()
	log := a.config.Log

	log.Infow("Starting run cycle", "run_id", runID, "trigger", trigger)

	units, discErrs := a.resolver.Resolve(ctx, targets)
	a.console.DiscoveryErrors(discErrs)
	for range discErrs {
		metrics.RecordError("discovery")
	}

	if len(prioritize) > 0 {
		units = prioritizeUnits(units, prioritize)
	}

	opts := runner.Options{
		Workers:   a.config.Workers,
		BatchSize: a.config.BatchSize,
		Bail:      a.config.Bail,
		Buffer:    a.config.Buffer,
		EngineRun: engine.RunOptions{
			Timeout:         a.config.UnitTimeout,
			UpdateSnapshots: a.config.UpdateSnapshots,
		},
	}

	var coverDir string
	if a.config.Coverage {
		dir, err := os.MkdirTemp("", "gjest-cover-*")
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create coverage directory: %w", err))
		}
		defer os.RemoveAll(dir)
		coverDir = dir
		opts.CoverProfileDir = dir
	}

	var results []types.RunResult
	for res := range a.sched.Execute(ctx, units, opts) {
		results = append(results, res)
	}
	interrupted := ctx.Err() != nil

	summary := reporting.Aggregate(results, reporting.AggregateOptions{
		RunID:       runID,
		StartedAt:   started,
		Duration:    time.Since(started),
		Outliers:    a.config.ReportOutliers,
		Interrupted: interrupted,
	})
	outcome := &runOutcome{
		summary:    summary,
		unresolved: unresolvedTargets(targets, discErrs),
	}

	var profile *coverage.Profile
	if a.config.Coverage && !interrupted {
		provider := coverage.NewFileProvider(coverDir, a.config.GoBinary, log)
		p, err := provider.Measure(ctx, units)
		if err != nil {
			log.Errorw("Coverage measurement failed", "error", err)
			metrics.RecordErrorDetails("coverage", err)
		} else {
			profile = p
			if !p.Empty() {
				summary.HasCoverage = true
				summary.CoveragePercent = p.Percent
			}
			outcome.thresholdErr = coverage.CheckThreshold(p, a.config.CoverageThreshold)
			if a.config.CoverageHTMLDir != "" && !p.Empty() {
				if out, err := provider.WriteHTML(ctx, a.config.CoverageHTMLDir); err != nil {
					log.Errorw("Coverage HTML rendering failed", "error", err)
				} else {
					log.Infow("Coverage report written", "path", out)
				}
			}
		}
	}

	a.console.Render(summary, profile)
	if outcome.thresholdErr != nil {
		a.console.ThresholdFailure(outcome.thresholdErr)
	}

	// File sinks are skipped on interrupt so no malformed reports land.
	if !interrupted {
		for _, format := range a.config.ReportFormats {
			sink, err := reporting.NewSink(format, a.config.Root, a.config.ReportSuffix)
			if err != nil {
				return nil, NewRuntimeError(err)
			}
			if err := sink.Emit(summary); err != nil {
				a.console.WriteError(sink.Path(), err)
				metrics.RecordErrorDetails("report_write", err)
			}
		}
	}

	if a.config.SnapshotSummary {
		files, err := snapshot.Written(a.config.Root, started)
		if err != nil {
			log.Warnw("Snapshot scan failed", "error", err)
		}
		for i, f := range files {
			if rel, relErr := filepath.Rel(a.config.Root, f); relErr == nil {
				files[i] = rel
			}
		}
		a.console.SnapshotSummary(files)
	}

	if a.config.LogDir != "" {
		if err := a.writeRunLogs(runID, summary); err != nil {
			log.Errorw("Failed to write run logs", "error", err)
		}
	}

	a.recordMetrics(runID, trigger, summary)
	log.Infow("Run cycle completed", "run_id", runID, "passed", summary.Stats.Passed,
		"failed", summary.Stats.Failed+summary.Stats.Errored, "duration", summary.Duration)

	return outcome, nil
}

func (a *App) writeRunLogs(runID string, summary *reporting.RunSummary) error {
	fl, err := logging.NewFileLogger(a.config.LogDir, runID)
	if err != nil {
		return err
	}
	for i := range summary.Results {
		if err := fl.LogResult(&summary.Results[i]); err != nil {
			return err
		}
	}
	a.config.Log.Infow("Run logs written", "dir", fl.Directory())
	return fl.Complete()
}

func (a *App) recordMetrics(runID, trigger string, summary *reporting.RunSummary) {
	result := "pass"
	if !summary.Success() {
		result = "fail"
	}
	metrics.RecordRun(runID, trigger, result, summary.Stats.Total, summary.Stats.Passed,
		summary.Stats.Failed+summary.Stats.Errored, summary.Duration)
	for _, res := range summary.Results {
		metrics.RecordUnit(runID, res.Unit.QualifiedName(), res.Status, res.Duration)
	}
}

// Stop stops the watch loop and the metrics service.
func (a *App) Stop(ctx context.Context) error {
	a.config.Log.Infow("Stopping gjest")

	if !a.running.Load() {
		a.config.Log.Debugw("Service already stopped, nothing to do")
		return nil
	}
	a.running.Store(false)

	close(a.done)
	if a.svc != nil {
		a.svc.Shutdown()
	}

	a.config.Log.Infow("gjest stopped successfully")
	return nil
}

// Stopped returns true if the app has been stopped.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated. Tests use it
// to ensure complete cleanup before moving on.
func (a *App) WaitForShutdown(ctx context.Context) error {
	a.config.Log.Debugw("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.config.Log.Debugw("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		a.config.Log.Warnw("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

// failureNames lists the qualified names of a summary's failing units.
func failureNames(summary *reporting.RunSummary) []string {
	var names []string
	for _, res := range summary.FailedResults() {
		names = append(names, res.Unit.QualifiedName())
	}
	return names
}

// prioritizeUnits stable-partitions units so those named in first run ahead
// of the rest; both groups keep resolution order.
func prioritizeUnits(units []types.TestUnit, first []string) []types.TestUnit {
	wanted := make(map[string]bool, len(first))
	for _, name := range first {
		wanted[name] = true
	}

	head := make([]types.TestUnit, 0, len(units))
	var tail []types.TestUnit
	for _, u := range units {
		if wanted[u.QualifiedName()] {
			head = append(head, u)
		} else {
			tail = append(tail, u)
		}
	}
	return append(head, tail...)
}

// unresolvedTargets filters discovery errors down to those for explicitly
// named targets; only those affect the exit code.
func unresolvedTargets(targets []string, errs []types.DiscoveryError) []types.DiscoveryError {
	if len(targets) == 0 {
		return nil
	}
	named := make(map[string]bool, len(targets))
	for _, t := range targets {
		named[t] = true
	}

	var unresolved []types.DiscoveryError
	for _, derr := range errs {
		if derr.Target != "" && named[derr.Target] {
			unresolved = append(unresolved, derr)
		}
	}
	return unresolved
}
