// Package session drives the engine through one interchange file: it writes
// a model and data, runs commands in protocol order, checks that each one
// completed, and reads the results back.
//
// A Session runs one command at a time. Two sessions must not share a file.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/dismod"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/logging"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/pathutil"
	"github.com/alec-deason/cascade/internal/store"
)

// Session owns one engine file and the location hierarchy its models use.
type Session struct {
	mu sync.Mutex

	locations      []store.Location
	parentLocation int
	path           string
	runner         dismod.Runner
	code           *slog.Logger
	mathlog        *logging.ModelLog

	store         *store.Store
	state         State
	options       Options
	minCV         map[model.Integrand]float64
	lastCommand   string
	simulateCount int
}

// New creates an unbound session. The file at path is opened, and created
// if needed, by the first operation that writes to it.
func New(locations []store.Location, parentLocation int, path string, runner dismod.Runner, sinks logging.Sinks) (*Session, error) {
	if runner == nil {
		return nil, errs.Invalid("runner", "no engine runner")
	}
	if err := pathutil.CheckStoreFile(path); err != nil {
		return nil, err
	}
	sinks = sinks.OrDiscard()
	return &Session{
		locations:      append([]store.Location(nil), locations...),
		parentLocation: parentLocation,
		path:           path,
		runner:         runner,
		code:           sinks.Code,
		mathlog:        sinks.Model,
		minCV:          make(map[model.Integrand]float64),
	}, nil
}

// State returns where the session stands.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path is the engine file.
func (s *Session) Path() string { return s.path }

// Store exposes the bound file for callers that want to adjust tables
// between commands, or nil while unbound.
func (s *Session) Store() *store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Close releases the file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	s.state = Unbound
	return err
}

func (s *Session) enter(next State) error {
	if !s.state.CanEnter(next) {
		return fmt.Errorf("session cannot go from %s to %s", s.state, next)
	}
	s.state = next
	return nil
}

func (s *Session) bind(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	st, err := store.Open(ctx, s.path, s.locations, s.parentLocation, s.code)
	if err != nil {
		return err
	}
	s.store = st
	if err := s.enter(Bound); err != nil {
		return err
	}
	s.code.Debug("bound engine file", "path", pathutil.RedactPath(s.path))
	return s.pushOptions(ctx)
}

// pushOptions stages the options and minimum CVs and writes them now.
func (s *Session) pushOptions(ctx context.Context) error {
	s.store.SetOptions(s.options.Map())
	for integrand, cv := range s.minCV {
		if err := s.store.SetMinimumMeasCV(integrand, cv); err != nil {
			return err
		}
	}
	if s.state < Configured {
		// The option table is written with the first model.
		return nil
	}
	return s.store.Flush(ctx)
}

// SetOption validates and merges options. They take effect at the next init.
func (s *Session) SetOption(ctx context.Context, o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = s.options.Merge(o)
	if s.store == nil {
		return nil
	}
	return s.pushOptions(ctx)
}

// Options returns the merged options.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// SetMinimumMeasCV sets the minimum coefficient of variation per integrand.
// Zero means none.
func (s *Session) SetMinimumMeasCV(ctx context.Context, cvs map[model.Integrand]float64) error {
	for integrand, cv := range cvs {
		if _, err := model.ParseIntegrand(string(integrand)); err != nil {
			return err
		}
		if !(cv >= 0 && cv <= 1) {
			return errs.Invalid(string(integrand), "minimum_meas_cv must be in [0, 1], got %g", cv)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.minCV, cvs)
	if s.store == nil {
		return nil
	}
	return s.pushOptions(ctx)
}

// Fit optimizes the model against data. Models with random effects fit both
// fixed and random effects, others fit fixed effects. A nil initialGuess
// starts from the prior means.
func (s *Session) Fit(ctx context.Context, m *model.Model, f *data.Frame, initialGuess model.VarSet) (*FitResult, error) {
	level := constants.FitFixed
	if m.HasRandomEffects() {
		level = constants.FitBoth
	}
	return s.fit(ctx, level, m, f, initialGuess)
}

// FitFixed optimizes fixed effects with random effects held at zero, a
// common first stage before fitting random effects.
func (s *Session) FitFixed(ctx context.Context, m *model.Model, f *data.Frame, initialGuess model.VarSet) (*FitResult, error) {
	return s.fit(ctx, constants.FitFixed, m, f, initialGuess)
}

// FitRandom optimizes random effects with fixed effects held at their
// starting values.
func (s *Session) FitRandom(ctx context.Context, m *model.Model, f *data.Frame, initialGuess model.VarSet) (*FitResult, error) {
	return s.fit(ctx, constants.FitRandom, m, f, initialGuess)
}

func (s *Session) fit(ctx context.Context, level constants.FitLevel, m *model.Model, f *data.Frame, initialGuess model.VarSet) (*FitResult, error) {
	if initialGuess != nil {
		if err := m.CheckAlignment(initialGuess); err != nil {
			return nil, fmt.Errorf("model and initial guess: %w", err)
		}
	}
	cmd, err := dismod.Fit(level)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeData(f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mathlog.Info("running fit", map[string]any{"level": level.String()})
	if err := s.setup(ctx, m, normalized, initialGuess); err != nil {
		return nil, err
	}
	if initialGuess != nil {
		s.mathlog.Info("starting point from caller", nil)
		s.store.SetStartVar(initialGuess)
	} else {
		s.mathlog.Info("starting point from prior means", nil)
	}
	run, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	fitVar, err := s.store.FitVar(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.enter(FitDone); err != nil {
		return nil, err
	}
	s.save()
	return &FitResult{session: s, fit: fitVar, run: run}, nil
}

// SetupModelForFit writes the model, options and data, runs init, and sets
// the scale: the model's own when the caller set one, else the initial
// guess, else whatever init chose, which the model then adopts.
func (s *Session) SetupModelForFit(ctx context.Context, m *model.Model, f *data.Frame, initialGuess model.VarSet) error {
	normalized, err := normalizeData(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setup(ctx, m, normalized, initialGuess)
}

func (s *Session) setup(ctx context.Context, m *model.Model, f *data.Frame, initialGuess model.VarSet) error {
	if err := s.configure(ctx, m); err != nil {
		return err
	}
	s.store.SetData(f)
	if _, err := s.run(ctx, dismod.Init()); err != nil {
		return err
	}
	switch {
	case m.ScaleSetByUser():
		s.store.SetScaleVar(m.Scale())
	case initialGuess != nil:
		s.store.SetScaleVar(initialGuess)
	default:
		scale, err := s.store.ScaleVar(ctx)
		if err != nil {
			return err
		}
		m.AdoptScale(scale)
	}
	return nil
}

func (s *Session) configure(ctx context.Context, m *model.Model) error {
	if err := s.bind(ctx); err != nil {
		return err
	}
	s.store.SetModel(m)
	if err := s.pushOptions(ctx); err != nil {
		return err
	}
	return s.enter(Configured)
}

// Predict evaluates the avgint rows at the given variables. The variables
// must be complete; their priors are not used. Rows whose covariates are
// further than max_difference from the reference come back in notPredicted.
func (s *Session) Predict(ctx context.Context, vs model.VarSet, avgint *data.Frame, parentLocation int,
	weights map[string]*model.Var, covariates []model.CovariateColumn) (predicted, notPredicted *data.Frame, err error) {
	if avgint == nil {
		return nil, nil, errs.Invalid("avgint", "no rows to predict")
	}
	if err := vs.Check(); err != nil {
		return nil, nil, err
	}
	intervals, err := data.PointToInterval(avgint)
	if err != nil {
		return nil, nil, fmt.Errorf("avgint: %w", err)
	}
	m, err := model.FromVar(vs, parentLocation, weights, covariates)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configure(ctx, m); err != nil {
		return nil, nil, err
	}
	s.store.SetAvgint(intervals)
	if _, err := s.run(ctx, dismod.Init()); err != nil {
		return nil, nil, err
	}
	s.store.SetTruthVar(vs)
	if _, err := s.run(ctx, dismod.PredictTruthVar()); err != nil {
		return nil, nil, err
	}
	predicted, notPredicted, err = s.store.Predict(ctx)
	if err != nil {
		return nil, nil, err
	}
	if n := notPredicted.Len(); n > 0 {
		s.mathlog.Warn("avgint rows not predicted", map[string]any{
			"count":  n,
			"reason": "covariate beyond max_difference",
		})
	}
	if err := s.enter(PredictDone); err != nil {
		return nil, nil, err
	}
	s.save()
	return predicted, notPredicted, nil
}

// Simulate draws count synthetic realizations of data and priors around
// fitVar, which must align with the model.
func (s *Session) Simulate(ctx context.Context, m *model.Model, f *data.Frame, fitVar model.VarSet, count int) (*SimulateResult, error) {
	if f == nil {
		return nil, errs.Invalid("data", "simulate needs observations to draw around")
	}
	normalized, err := normalizeData(f)
	if err != nil {
		return nil, err
	}
	if fitVar == nil {
		return nil, errs.Invalid("fit_var", "simulate needs the variables to simulate around")
	}
	if err := m.CheckAlignment(fitVar); err != nil {
		return nil, fmt.Errorf("model and fit var: %w", err)
	}
	cmd, err := dismod.Simulate(count)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setup(ctx, m, normalized, fitVar); err != nil {
		return nil, err
	}
	s.store.SetTruthVar(fitVar)
	if _, err := s.run(ctx, cmd); err != nil {
		return nil, err
	}
	if err := s.enter(SimulateDone); err != nil {
		return nil, err
	}
	s.simulateCount = count
	s.save()
	return &SimulateResult{session: s, count: count, model: m, data: normalized}, nil
}

// Sample draws posterior samples from the output of sim.
func (s *Session) Sample(ctx context.Context, sim *SimulateResult) ([]model.VarSet, error) {
	return s.SampleCount(ctx, sim.Count())
}

// SampleCount draws posterior samples from a simulate of count n that ran
// on this file, possibly in an earlier process that left a Record.
func (s *Session) SampleCount(ctx context.Context, n int) ([]model.VarSet, error) {
	cmd, err := dismod.SampleSimulate(n)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bind(ctx); err != nil {
		return nil, err
	}
	if !s.state.CanEnter(SampleDone) {
		return nil, fmt.Errorf("sample needs a completed simulate; session is %s", s.state)
	}
	if _, err := s.run(ctx, cmd); err != nil {
		return nil, err
	}
	samples, err := s.store.Samples(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.enter(SampleDone); err != nil {
		return nil, err
	}
	s.save()
	return samples, nil
}

// Resume binds the file and restores the state an earlier process recorded
// for it, so that commands such as sample can follow on.
func (s *Session) Resume(ctx context.Context) (Record, error) {
	rec, err := LoadRecord(s.path)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = s.options.Merge(rec.Options)
	if err := s.bind(ctx); err != nil {
		return Record{}, err
	}
	if rec.State > Bound {
		s.state = rec.State
	}
	s.simulateCount = rec.SimulateCount
	s.lastCommand = rec.LastCommand
	return rec, nil
}

// Run is what a finished command left behind.
type Run struct {
	Command  string
	Stdout   string
	Stderr   string
	Warnings []string
}

// run flushes staged writes, runs cmd with the file closed, reopens it on
// every path, checks the command completed, and refreshes the tables it
// wrote.
func (s *Session) run(ctx context.Context, cmd dismod.Command) (Run, error) {
	if err := s.store.Flush(ctx); err != nil {
		return Run{}, fmt.Errorf("writing inputs for %s: %w", cmd, err)
	}
	isInit := cmd.Name() == "init"
	if isInit && !s.state.CanEnter(Initialized) {
		return Run{}, fmt.Errorf("session cannot go from %s to %s", s.state, Initialized)
	}

	s.code.Debug("running engine", "command", cmd.String(), "path", pathutil.RedactPath(s.path))
	var res dismod.Result
	start := time.Now()
	err := s.store.WhileClosed(ctx, func() error {
		var err error
		res, err = s.runner.Run(ctx, s.path, cmd)
		return err
	})
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	s.lastCommand = cmd.String()
	if err != nil {
		s.failed(cmd, dismod.LabelFailed, res)
		return Run{}, err
	}
	s.code.Log(ctx, logging.LevelTrace, "engine output", "command", cmd.String(),
		"stdout", res.Stdout, "stderr", res.Stderr)

	if err := s.store.Refresh(ctx, store.TableLog); err != nil {
		return Run{}, err
	}
	last, err := s.store.LastLogMessage(ctx)
	if err != nil {
		return Run{}, err
	}
	outcome, err := dismod.Classify(cmd, last, res)
	if err != nil {
		label := dismod.LabelFailed
		if errors.Is(err, errs.ErrOutOfMemory) {
			label = dismod.LabelOutOfMemory
		}
		s.failed(cmd, label, res)
		return Run{}, err
	}
	if err := dismod.CheckExit(cmd, res); err != nil {
		s.failed(cmd, dismod.LabelFailed, res)
		return Run{}, err
	}

	run := Run{Command: cmd.String(), Stdout: res.Stdout, Stderr: res.Stderr}
	label := dismod.LabelCompleted
	if outcome == dismod.IterationLimit {
		label = dismod.LabelIterationLimit
		run.Warnings = append(run.Warnings, constants.MaxIterationsSentinel)
		s.code.Warn("engine exceeded iterations", "command", cmd.String())
		s.mathlog.Warn("engine exceeded iterations", map[string]any{"command": cmd.String()})
	}
	dismod.Observe(cmd, label, res.Duration)

	if err := s.store.Refresh(ctx, cmd.Outputs()...); err != nil {
		return Run{}, fmt.Errorf("reading output of %s: %w", cmd, err)
	}
	if isInit {
		s.state = Initialized
	}
	return run, nil
}

func (s *Session) failed(cmd dismod.Command, label string, res dismod.Result) {
	dismod.Observe(cmd, label, res.Duration)
	s.code.Error("engine command failed", "command", cmd.String(), "exit_code", res.ExitCode, "outcome", label)
	s.save()
}

// save writes the session record. Failure to write it is logged, not
// returned: the record only helps later processes.
func (s *Session) save() {
	rec := Record{
		State:         s.state,
		LastCommand:   s.lastCommand,
		SimulateCount: s.simulateCount,
		Options:       s.options,
		RunID:         s.mathlog.RunID(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := SaveRecord(s.path, rec); err != nil {
		s.code.Warn("could not save session record", "error", err)
	}
}

// normalizeData applies data normalization, treating nil as no data.
func normalizeData(f *data.Frame) (*data.Frame, error) {
	if f == nil {
		return nil, nil
	}
	return data.Normalize(f)
}
