package gjest

import (
	"errors"
	"fmt"
)

// Two error classes separate "the orchestrator broke" from "the tests
// failed". RuntimeError covers bad configuration and internal faults and
// maps to exit code 2; TestFailureError covers failing units, unmet
// coverage thresholds and unresolved targets and maps to exit code 1.
// cmd/main.go performs the mapping, everything else just wraps.

type RuntimeError struct {
	cause error
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{cause: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.cause)
}

func (e *RuntimeError) Unwrap() error {
	return e.cause
}

// IsRuntimeError reports whether err is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}

type TestFailureError struct {
	msg string
}

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{msg: message}
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.msg)
}

// IsTestFailureError reports whether err is or wraps a TestFailureError.
func IsTestFailureError(err error) bool {
	var target *TestFailureError
	return errors.As(err, &target)
}
