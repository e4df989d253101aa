// Package errs defines the error taxonomy shared by the grid, prior, model and
// session packages. Every typed error matches a package sentinel through
// errors.Is, so callers can branch on the kind without caring which package
// raised it.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrAlignment   = errors.New("alignment error")
	ErrRange       = errors.New("range error")
	ErrShape       = errors.New("shape error")
	ErrExecution   = errors.New("execution error")
	ErrOutOfMemory = errors.New("out of memory")
)

// ValidationError reports a value that cannot be constructed or accepted:
// invalid prior parameters, an incomplete variable set, null data names.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError with a formatted reason.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AlignmentError names the keys that differ between a model and a variable set.
type AlignmentError struct {
	What       string
	Missing    []string
	Unexpected []string
	Mismatched []string
}

func (e *AlignmentError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, "grid differs for "+strings.Join(e.Mismatched, ", "))
	}
	return fmt.Sprintf("%s misaligned: %s", e.What, strings.Join(parts, "; "))
}

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// Empty reports whether no difference was recorded.
func (e *AlignmentError) Empty() bool {
	return len(e.Missing) == 0 && len(e.Unexpected) == 0 && len(e.Mismatched) == 0
}

// RangeError reports a grid selection that matched no breakpoint.
type RangeError struct {
	Axis  string
	Query string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range: no %s breakpoint matches %s", e.Axis, e.Query)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// ShapeError reports a value whose width does not fit its target.
type ShapeError struct {
	Want   int
	Got    int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Reason != "" {
		return "shape: " + e.Reason
	}
	return fmt.Sprintf("shape: expected %d values, got %d", e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// ExecutionError is a fatal failure of an external engine command.
type ExecutionError struct {
	Command     string
	ExitCode    int
	OutOfMemory bool
	Reason      string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine %q: %s", e.Command, e.Reason)
}

func (e *ExecutionError) Is(target error) bool {
	if target == ErrExecution {
		return true
	}
	return e.OutOfMemory && target == ErrOutOfMemory
}
