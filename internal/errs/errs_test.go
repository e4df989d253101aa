package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Invalid("mean", "out of bounds"), ErrValidation},
		{"alignment", &AlignmentError{What: "guess", Missing: []string{"rate-iota"}}, ErrAlignment},
		{"range", &RangeError{Axis: "time", Query: "[2015, 2020]"}, ErrRange},
		{"shape", &ShapeError{Want: 2, Got: 1}, ErrShape},
		{"execution", &ExecutionError{Command: "fit"}, ErrExecution},
		{"oom", &ExecutionError{Command: "fit", OutOfMemory: true}, ErrOutOfMemory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
		})
	}
}

func TestExecutionErrorOnlyOOMWhenFlagged(t *testing.T) {
	err := &ExecutionError{Command: "init", Reason: "failed"}
	if errors.Is(err, ErrOutOfMemory) {
		t.Error("plain execution error should not match ErrOutOfMemory")
	}
}

func TestAlignmentErrorMessage(t *testing.T) {
	err := &AlignmentError{
		What:       "initial guess",
		Missing:    []string{"rate-iota"},
		Unexpected: []string{"rate-chi"},
	}
	want := "initial guess misaligned: missing rate-iota; unexpected rate-chi"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Empty() {
		t.Error("Empty() = true for a populated error")
	}
}
