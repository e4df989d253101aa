package session

import (
	"encoding/json"
	"fmt"
	"slices"
)

// State is where a session stands in its protocol with the engine.
type State int

const (
	// Unbound sessions have not opened their file yet.
	Unbound State = iota
	// Bound sessions hold an open file.
	Bound
	// Configured sessions have model, data and options staged or written.
	Configured
	// Initialized sessions ran init on the current inputs.
	Initialized
	FitDone
	PredictDone
	SimulateDone
	SampleDone
)

var stateNames = []string{
	"unbound", "bound", "configured", "initialized",
	"fit_done", "predict_done", "simulate_done", "sample_done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalJSON writes the state by name.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON reads a state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	i := slices.Index(stateNames, name)
	if i < 0 {
		return fmt.Errorf("unknown session state %q", name)
	}
	*s = State(i)
	return nil
}

// predecessors lists the states each state may be entered from. Writing
// new inputs is allowed from any bound state; every command needs init on
// the current inputs first.
var predecessors = map[State][]State{
	Bound:        {Unbound},
	Configured:   {Bound, Configured, Initialized, FitDone, PredictDone, SimulateDone, SampleDone},
	Initialized:  {Configured},
	FitDone:      {Initialized},
	PredictDone:  {Initialized},
	SimulateDone: {Initialized},
	SampleDone:   {SimulateDone, SampleDone},
}

// CanEnter reports whether the transition from s to next is allowed.
func (s State) CanEnter(next State) bool {
	return slices.Contains(predecessors[next], s)
}
