package dismod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/alec-deason/cascade/internal/constants"
)

// Result is the captured outcome of one engine process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs the engine against a file. Implementations must not return
// until the process has exited; a non-zero exit is a Result, not an error.
type Runner interface {
	Run(ctx context.Context, path string, cmd Command) (Result, error)
}

// ExecRunner starts the engine binary as a child process.
type ExecRunner struct {
	// Executable is the engine binary, looked up on PATH when it has no
	// directory.
	Executable string
}

// NewExecRunner returns a runner for executable, or the default engine name
// when it is empty.
func NewExecRunner(executable string) *ExecRunner {
	if executable == "" {
		executable = constants.DefaultExecutable
	}
	return &ExecRunner{Executable: executable}
}

// Run invokes "<executable> <path> <command tokens>" and waits for it.
// Output is captured whatever the exit code.
func (r *ExecRunner) Run(ctx context.Context, path string, cmd Command) (Result, error) {
	args := append([]string{path}, cmd.Args()...)
	execCmd := exec.CommandContext(ctx, r.Executable, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	start := time.Now()
	err := execCmd.Run()
	result := Result{
		ExitCode: 0,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("running %s %s: %w", r.Executable, cmd, err)
	}
	return result, nil
}
