package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/store"
)

// FitResult holds the fitted variables of one fit command. Residual readers
// read the session's file, so they reflect the most recent fit.
type FitResult struct {
	session *Session
	fit     model.VarSet
	run     Run
}

// Fit returns the fitted variables.
func (r *FitResult) Fit() model.VarSet { return r.fit.Clone() }

// Success reports whether the optimizer found an optimal solution.
func (r *FitResult) Success() bool {
	return strings.Contains(r.run.Stdout, constants.OptimalSolutionSentinel)
}

// Stdout is the engine's standard output for the fit.
func (r *FitResult) Stdout() string { return r.run.Stdout }

// Stderr is the engine's standard error for the fit.
func (r *FitResult) Stderr() string { return r.run.Stderr }

// Warnings lists non-fatal conditions, such as the iteration limit.
func (r *FitResult) Warnings() []string { return slices.Clone(r.run.Warnings) }

// PriorResiduals reads the weighted residuals of each fitted variable
// against its priors.
func (r *FitResult) PriorResiduals(ctx context.Context) ([]store.PriorResidual, error) {
	st, err := r.session.boundStore()
	if err != nil {
		return nil, err
	}
	return st.PriorResiduals(ctx)
}

// DataResiduals reads the fitted value and weighted residual of each data
// row the engine used.
func (r *FitResult) DataResiduals(ctx context.Context) ([]store.DataResidual, error) {
	st, err := r.session.boundStore()
	if err != nil {
		return nil, err
	}
	return st.DataResiduals(ctx)
}

// SimulateResult gives access to the realizations of one simulate command.
type SimulateResult struct {
	session *Session
	count   int
	model   *model.Model
	data    *data.Frame
}

// Count is the number of realizations.
func (r *SimulateResult) Count() int { return r.count }

// Simulation returns realization index: the model with prior means drawn
// from the priors and the data with simulated measurements.
func (r *SimulateResult) Simulation(ctx context.Context, index int) (*model.Model, *data.Frame, error) {
	if index < 0 || index >= r.count {
		return nil, nil, fmt.Errorf("simulation %d out of range [0, %d)", index, r.count)
	}
	st, err := r.session.boundStore()
	if err != nil {
		return nil, nil, err
	}
	return st.ReadSimulation(ctx, index, r.model, r.data)
}

func (s *Session) boundStore() (*store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, fmt.Errorf("session for %s is closed", s.path)
	}
	return s.store, nil
}
