package gjest

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WatchPhase names the watch controller states.
type WatchPhase string

const (
	WatchIdle       WatchPhase = "idle"
	WatchDebouncing WatchPhase = "debouncing"
	WatchRunning    WatchPhase = "running"
	WatchStopped    WatchPhase = "stopped"
)

// WatchState is the single state value threaded through watch cycles. The
// controller is its only reader and writer; cycles receive it by value and
// return the successor state. It is never read while a cycle is in flight.
type WatchState struct {
	Cycle        int
	LastFailures []string // Qualified names of units that failed last cycle
	Signatures   map[string]FileSignature
}

// CycleFunc executes one pipeline invocation. changed holds the paths that
// triggered the cycle, nil for the initial full run. Test failures are
// carried in the returned state; a non-nil error is an unrecoverable
// runtime problem and ends the watch loop.
type CycleFunc func(ctx context.Context, state WatchState, changed []string) (WatchState, error)

// WatchController drives the change-debounce-run loop. A change moves Idle
// to Debouncing; further changes reset the timer; when the timer elapses
// exactly one cycle runs and the controller returns to Idle. An interrupt
// from any phase ends in Stopped.
type WatchController struct {
	source   ChangeSource
	debounce time.Duration
	runCycle CycleFunc
	log      *zap.SugaredLogger

	mu    sync.Mutex
	phase WatchPhase
}

// NewWatchController creates a controller reading from source. The source's
// lifecycle (Start, Stop) belongs to the caller.
func NewWatchController(source ChangeSource, debounce time.Duration, runCycle CycleFunc, log *zap.SugaredLogger) *WatchController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WatchController{
		source:   source,
		debounce: debounce,
		runCycle: runCycle,
		log:      log,
		phase:    WatchIdle,
	}
}

// Phase reports the controller's current phase.
func (c *WatchController) Phase() WatchPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *WatchController) setPhase(p WatchPhase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Run performs the initial full cycle, then loops until ctx is cancelled or
// the change source closes its event channel.
func (c *WatchController) Run(ctx context.Context) error {
	defer c.setPhase(WatchStopped)

	c.setPhase(WatchRunning)
	state, err := c.runCycle(ctx, WatchState{}, nil)
	if err != nil {
		return err
	}
	state = c.syncSignatures(state)

	for {
		c.setPhase(WatchIdle)

		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-c.source.Events():
			if !ok {
				return nil
			}

			changed := map[string]struct{}{change.Path: {}}
			c.setPhase(WatchDebouncing)
			timer := time.NewTimer(c.debounce)

		debouncing:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case change, ok := <-c.source.Events():
					if !ok {
						timer.Stop()
						return nil
					}
					changed[change.Path] = struct{}{}
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(c.debounce)
				case <-timer.C:
					break debouncing
				}
			}

			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			c.log.Debugw("Debounce elapsed", "changed", len(paths))

			c.setPhase(WatchRunning)
			state.Cycle++
			if state, err = c.runCycle(ctx, state, paths); err != nil {
				return err
			}
			state = c.syncSignatures(state)
		}
	}
}

// syncSignatures copies the source's latest fingerprints into the state
// between cycles. Event-driven sources do not fingerprint; their nil result
// leaves the previous value in place.
func (c *WatchController) syncSignatures(state WatchState) WatchState {
	if sigs := c.source.Signatures(); sigs != nil {
		state.Signatures = sigs
	}
	return state
}
