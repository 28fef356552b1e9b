// Package runner executes resolved test units and streams their results.
//
// The main components are:
//   - Scheduler: dispatches units serially or across a worker pool and owns
//     the result stream
//   - ProgressIndicator: live execution feedback, fed from scheduler hooks
//
// The scheduler never prints and never writes files; everything it learns
// about a unit leaves through the stream.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gjest/gjest/coverage"
	"github.com/gjest/gjest/engine"
	"github.com/gjest/gjest/types"
)

// FocusSkipReason marks units excluded because another unit was focused.
const FocusSkipReason = "unfocused"

// maxStreamBuffer caps channel buffering regardless of worker count.
const maxStreamBuffer = 100

// Options holds the execution knobs for one run cycle.
type Options struct {
	Workers         int  // worker pool size, 1 executes inline in resolver order
	BatchSize       int  // max contiguous units per dispatched batch
	Bail            bool // stop dispatching after the first failed or errored result
	Buffer          bool // attach captured unit output to results
	EngineRun       engine.RunOptions
	CoverProfileDir string // when set, each unit writes a coverage profile here
}

func (o Options) normalized() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	return o
}

// Scheduler turns an ordered unit list into a stream of run results. One
// scheduler is built per application, not per cycle; Execute may be called
// repeatedly (watch mode reruns) but never concurrently.
type Scheduler struct {
	engine engine.Engine
	ui     ProgressIndicator
	log    *zap.SugaredLogger
	tracer trace.Tracer
}

// Config holds the collaborators for a new Scheduler.
type Config struct {
	Engine   engine.Engine
	Progress ProgressIndicator
	Log      *zap.SugaredLogger
}

// NewScheduler validates collaborators and builds a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		engine: cfg.Engine,
		ui:     cfg.Progress,
		log:    cfg.Log,
		tracer: otel.Tracer("test scheduler"),
	}, nil
}

// Execute starts the run cycle and returns the result stream. The stream is
// closed after the last in-flight unit finishes, also on bail and interrupt;
// consumers can rely on ranging over it to completion.
//
// Units marked skip or todo produce their results without an engine call.
// When any unit carries a focus marker, all non-focused units are rewritten
// to skipped results with reason FocusSkipReason before dispatch.
func (s *Scheduler) Execute(ctx context.Context, units []types.TestUnit, opts Options) <-chan types.RunResult {
	opts = opts.normalized()
	out := make(chan types.RunResult, min(2*opts.Workers, maxStreamBuffer))

	go func() {
		defer close(out)

		ctx, span := s.tracer.Start(ctx, "run cycle")
		defer span.End()

		units := applyFocus(units)
		s.ui.Begin(len(units))
		defer s.ui.End()

		s.log.Infow("Starting execution", "units", len(units), "workers", opts.Workers,
			"batchSize", opts.BatchSize, "bail", opts.Bail)

		if opts.Workers == 1 {
			s.runSerial(ctx, units, opts, out)
			return
		}
		s.runParallel(ctx, units, opts, out)
	}()

	return out
}

// runSerial executes units one at a time in resolver order.
func (s *Scheduler) runSerial(ctx context.Context, units []types.TestUnit, opts Options, out chan<- types.RunResult) {
	for _, unit := range units {
		if ctx.Err() != nil {
			s.log.Debugw("Serial execution interrupted", "remaining", "dropped")
			return
		}

		res := s.runUnit(ctx, unit, opts)
		if res == nil {
			return
		}

		select {
		case out <- *res:
		case <-ctx.Done():
			return
		}

		if opts.Bail && res.Failed() {
			s.log.Infow("Bailing after first failure", "unit", unit.QualifiedName())
			return
		}
	}
}

// runParallel distributes contiguous unit batches across a fixed worker
// pool. Order holds within a batch, not across workers.
func (s *Scheduler) runParallel(ctx context.Context, units []types.TestUnit, opts Options, out chan<- types.RunResult) {
	batches := batchUnits(units, opts.BatchSize)
	buffer := min(2*opts.Workers, maxStreamBuffer)
	workChan := make(chan []types.TestUnit, buffer)
	resultChan := make(chan types.RunResult, buffer)

	// Bail stops dispatch without cancelling in-flight units, so it gets
	// its own signal rather than riding on the context.
	bail := make(chan struct{})
	var bailOnce sync.Once
	tripBail := func() { bailOnce.Do(func() { close(bail) }) }

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, workChan, resultChan, opts, bail)
	}

	go func() {
		defer close(workChan)
		for _, batch := range batches {
			select {
			case workChan <- batch:
			case <-bail:
				s.log.Debugw("Dispatch stopped on bail")
				return
			case <-ctx.Done():
				s.log.Debugw("Dispatch stopped on interrupt")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for res := range resultChan {
		select {
		case out <- res:
		case <-ctx.Done():
			// Consumer may be gone; keep draining so workers can exit.
			continue
		}
		if opts.Bail && res.Failed() {
			s.log.Infow("Bailing after first failure", "unit", res.Unit.QualifiedName())
			tripBail()
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, work <-chan []types.TestUnit,
	results chan<- types.RunResult, opts Options, bail <-chan struct{}) {

	defer wg.Done()

	for {
		select {
		case batch, ok := <-work:
			if !ok {
				return
			}
			for _, unit := range batch {
				if tripped(bail) {
					return
				}
				res := s.runUnit(ctx, unit, opts)
				if res == nil {
					return
				}
				select {
				case results <- *res:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// runUnit produces the result for one unit: a pre-empted marker result, an
// engine result, or an errored result wrapping an engine invocation
// failure. A nil return means the run was interrupted and nothing should be
// reported.
func (s *Scheduler) runUnit(ctx context.Context, unit types.TestUnit, opts Options) *types.RunResult {
	if res, ok := preempted(unit); ok {
		s.ui.CompleteUnit(res)
		return &res
	}

	s.ui.StartUnit(unit)

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("unit %s", unit.QualifiedName()))
	defer span.End()

	runOpts := opts.EngineRun
	if opts.CoverProfileDir != "" {
		runOpts.CoverProfile = filepath.Join(opts.CoverProfileDir, coverage.UnitProfileName(unit.Index))
	}

	res, err := s.engine.Run(ctx, unit, runOpts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.log.Errorw("Engine invocation failed", "unit", unit.QualifiedName(), "error", err)
		res = &types.RunResult{
			Unit:    unit,
			Status:  types.StatusErrored,
			Message: "engine invocation failed",
			Detail:  err.Error(),
		}
	}

	if !opts.Buffer {
		res.Output = ""
	}

	s.ui.CompleteUnit(*res)
	return res
}

// preempted maps marker-carrying units to their results.
func preempted(unit types.TestUnit) (types.RunResult, bool) {
	switch unit.Marker {
	case types.MarkerSkip:
		return types.RunResult{Unit: unit, Status: types.StatusSkipped, SkipReason: unit.Reason}, true
	case types.MarkerTodo:
		return types.RunResult{Unit: unit, Status: types.StatusTodo, SkipReason: unit.Reason}, true
	}
	return types.RunResult{}, false
}

// applyFocus rewrites the unit list for a focused run: when any unit is
// focused, every other unit is marked skip with reason FocusSkipReason.
func applyFocus(units []types.TestUnit) []types.TestUnit {
	focused := false
	for _, u := range units {
		if u.Focused() {
			focused = true
			break
		}
	}
	if !focused {
		return units
	}

	out := make([]types.TestUnit, len(units))
	for i, u := range units {
		if !u.Focused() {
			u.Marker = types.MarkerSkip
			u.Reason = FocusSkipReason
		}
		out[i] = u
	}
	return out
}

// batchUnits partitions units into contiguous batches of at most size.
func batchUnits(units []types.TestUnit, size int) [][]types.TestUnit {
	var batches [][]types.TestUnit
	for start := 0; start < len(units); start += size {
		batches = append(batches, units[start:min(start+size, len(units))])
	}
	return batches
}

func tripped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
