package dismod

import (
	"fmt"
	"strings"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/errs"
)

// Outcome is how a command that did not fail ended.
type Outcome int

const (
	// Completed means the log ends with the command's end message.
	Completed Outcome = iota

	// IterationLimit means the end message is missing but the optimizer
	// only ran out of iterations. Values were still written.
	IterationLimit
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case IterationLimit:
		return "iteration_limit"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Classify decides whether cmd completed from the last engine log message
// and the captured output. A log ending in "end <name>" completes. Otherwise
// an out-of-memory marker is fatal, an iteration-limit marker is a warning,
// and anything else is fatal. The exit code is checked separately.
func Classify(cmd Command, lastLog string, res Result) (Outcome, error) {
	if strings.Contains(lastLog, constants.EndMessagePrefix+cmd.Name()) {
		return Completed, nil
	}
	output := func(marker string) bool {
		return strings.Contains(res.Stdout, marker) || strings.Contains(res.Stderr, marker)
	}
	switch {
	case output(constants.OutOfMemorySentinel):
		return 0, &errs.ExecutionError{Command: cmd.String(), ExitCode: res.ExitCode, OutOfMemory: true,
			Reason: "engine ran out of memory"}
	case output(constants.MaxIterationsSentinel):
		return IterationLimit, nil
	default:
		return 0, &errs.ExecutionError{Command: cmd.String(), ExitCode: res.ExitCode,
			Reason: fmt.Sprintf("failed to complete %q; last log message %q", cmd.Name(), lastLog)}
	}
}

// CheckExit fails with an ExecutionError when the process exited non-zero.
func CheckExit(cmd Command, res Result) error {
	if res.ExitCode == 0 {
		return nil
	}
	return &errs.ExecutionError{Command: cmd.String(), ExitCode: res.ExitCode,
		Reason: fmt.Sprintf("exit code %d", res.ExitCode)}
}
