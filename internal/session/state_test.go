package session

import (
	"encoding/json"
	"testing"
)

func TestState_CanEnter(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unbound, Bound, true},
		{Unbound, Configured, false},
		{Bound, Configured, true},
		{Configured, Initialized, true},
		{Bound, Initialized, false},
		{Initialized, FitDone, true},
		{Initialized, PredictDone, true},
		{Initialized, SimulateDone, true},
		{Configured, FitDone, false},
		{FitDone, Configured, true},
		{SampleDone, Configured, true},
		{SimulateDone, SampleDone, true},
		{SampleDone, SampleDone, true},
		{FitDone, SampleDone, false},
		{Initialized, SampleDone, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanEnter(tt.to); got != tt.want {
			t.Errorf("%s.CanEnter(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_JSONUsesNames(t *testing.T) {
	data, err := json.Marshal(SimulateDone)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"simulate_done"` {
		t.Errorf("Marshal() = %s, want \"simulate_done\"", data)
	}

	var s State
	if err := json.Unmarshal([]byte(`"predict_done"`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != PredictDone {
		t.Errorf("Unmarshal() = %v, want %v", s, PredictDone)
	}

	if err := json.Unmarshal([]byte(`"sleeping"`), &s); err == nil {
		t.Error("Unmarshal(unknown) error = nil, want error")
	}
}

func TestState_String(t *testing.T) {
	if got := Unbound.String(); got != "unbound" {
		t.Errorf("String() = %q, want unbound", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q, want State(42)", got)
	}
}
