package types

import (
	"fmt"
	"time"
)

// UnitStatus represents the possible outcomes of executing one test unit.
type UnitStatus string

const (
	StatusPassed  UnitStatus = "passed"
	StatusFailed  UnitStatus = "failed"
	StatusSkipped UnitStatus = "skipped"
	StatusErrored UnitStatus = "errored"
	StatusTodo    UnitStatus = "todo"
)

// RunResult captures the outcome of executing a single test unit. A result is
// immutable once produced by the scheduler.
type RunResult struct {
	Unit       TestUnit
	Status     UnitStatus
	Duration   time.Duration
	Message    string // One-line failure or error summary
	Detail     string // Verbatim failure payload (assertion output, diff text)
	Output     string // Captured stdout/stderr when buffering is enabled
	SkipReason string // Populated for skipped and todo units
	TimedOut   bool
}

// Failed reports whether the result should fail the run.
func (r *RunResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusErrored
}

// Terminal reports whether the status is one of the five defined outcomes.
func (s UnitStatus) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusErrored, StatusTodo:
		return true
	}
	return false
}

// DiscoveryError records a target or file that could not be resolved or
// parsed. Discovery errors are reported with enough context to act on, and
// never abort discovery of the remaining targets.
type DiscoveryError struct {
	Target string // Raw target that produced the error, when known
	Path   string
	Reason string
}

func (e DiscoveryError) Error() string {
	if e.Target != "" && e.Target != e.Path {
		return fmt.Sprintf("discovery: target %q (%s): %s", e.Target, e.Path, e.Reason)
	}
	return fmt.Sprintf("discovery: %s: %s", e.Path, e.Reason)
}
