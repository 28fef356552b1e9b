// Package engine runs individual test units through an external test runner
// and turns the runner's output into run results.
package engine

import (
	"context"
	"time"

	"github.com/gjest/gjest/types"
)

// DefaultUnitTimeout bounds a single unit invocation unless overridden.
const DefaultUnitTimeout = 10 * time.Minute

// RunOptions carries the per-invocation knobs for a unit run.
type RunOptions struct {
	// Timeout bounds the invocation. Zero means no limit.
	Timeout time.Duration

	// CoverProfile, when set, makes the invocation write a coverage profile
	// to this path.
	CoverProfile string

	// UpdateSnapshots switches snapshot stores in the child process from
	// strict comparison to create/update mode.
	UpdateSnapshots bool

	// SnapshotDir overrides the default per-file snapshot location for the
	// child process.
	SnapshotDir string

	// Env holds extra KEY=VALUE pairs appended to the child environment.
	Env []string
}

// Engine executes a single test unit. Implementations must be safe for
// concurrent use; the scheduler calls Run from multiple workers.
//
// A non-nil error reports an invocation problem (build failure, missing
// binary) that the scheduler records as an errored result. Outcomes
// attributable to the test itself travel inside the RunResult.
type Engine interface {
	Run(ctx context.Context, unit types.TestUnit, opts RunOptions) (*types.RunResult, error)
}
