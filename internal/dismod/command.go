// Package dismod runs the external solver against an interchange file and
// decides, from its output and log, whether a command completed.
package dismod

import (
	"strconv"
	"strings"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/store"
)

// Command is one engine command, as the tokens following the file path.
type Command struct {
	tokens []string
}

// Init rederives the engine's indices from model, data and options.
func Init() Command { return Command{tokens: []string{"init"}} }

// Fit optimizes at the given level.
func Fit(level constants.FitLevel) (Command, error) {
	if !level.Valid() {
		return Command{}, errs.Invalid("fit level", "unknown fit level %q", level)
	}
	return Command{tokens: []string{"fit", string(level)}}, nil
}

// PredictTruthVar evaluates the avgint table at the truth_var values.
func PredictTruthVar() Command { return Command{tokens: []string{"predict", "truth_var"}} }

// Simulate draws n synthetic data and prior realizations.
func Simulate(n int) (Command, error) {
	if n < 1 {
		return Command{}, errs.Invalid("simulate count", "must be at least 1, got %d", n)
	}
	return Command{tokens: []string{"simulate", strconv.Itoa(n)}}, nil
}

// SampleSimulate draws posterior samples from the output of a simulate of
// count n.
func SampleSimulate(n int) (Command, error) {
	if n < 1 {
		return Command{}, errs.Invalid("sample count", "must be at least 1, got %d", n)
	}
	return Command{tokens: []string{"sample", "simulate", strconv.Itoa(n)}}, nil
}

// Name is the command's first token, the one the engine logs.
func (c Command) Name() string {
	if len(c.tokens) == 0 {
		return ""
	}
	return c.tokens[0]
}

// Args returns the command tokens.
func (c Command) Args() []string { return append([]string(nil), c.tokens...) }

func (c Command) String() string { return strings.Join(c.tokens, " ") }

// Outputs lists the tables the command writes, which must be re-read after
// it runs. The log is always among them.
func (c Command) Outputs() []string {
	return append([]string{store.TableLog}, commandOutputs[c.Name()]...)
}

var commandOutputs = map[string][]string{
	"init": {
		store.TableVar, store.TableDataSubset, store.TableStartVar, store.TableScaleVar,
	},
	"fit":      {store.TableFitVar, store.TableFitDataSubset},
	"predict":  {store.TablePredict},
	"simulate": {store.TableDataSim, store.TablePriorSim},
	"sample":   {store.TableSample},
}

// ParseCommand reads a command from its tokens, as typed on a command line.
func ParseCommand(tokens []string) (Command, error) {
	if len(tokens) == 0 {
		return Command{}, errs.Invalid("command", "empty command")
	}
	count := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errs.Invalid("command", "%q is not a count", s)
		}
		return n, nil
	}
	switch {
	case len(tokens) == 1 && tokens[0] == "init":
		return Init(), nil
	case len(tokens) == 2 && tokens[0] == "fit":
		return Fit(constants.FitLevel(tokens[1]))
	case len(tokens) == 2 && tokens[0] == "predict" && tokens[1] == "truth_var":
		return PredictTruthVar(), nil
	case len(tokens) == 2 && tokens[0] == "simulate":
		n, err := count(tokens[1])
		if err != nil {
			return Command{}, err
		}
		return Simulate(n)
	case len(tokens) == 3 && tokens[0] == "sample" && tokens[1] == "simulate":
		n, err := count(tokens[2])
		if err != nil {
			return Command{}, err
		}
		return SampleSimulate(n)
	}
	return Command{}, errs.Invalid("command", "unknown command %q", strings.Join(tokens, " "))
}
