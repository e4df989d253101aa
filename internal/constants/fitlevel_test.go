package constants

import "testing"

func TestFitLevel_Valid(t *testing.T) {
	tests := []struct {
		name  string
		level FitLevel
		want  bool
	}{
		{name: "fixed is valid", level: FitFixed, want: true},
		{name: "random is valid", level: FitRandom, want: true},
		{name: "both is valid", level: FitBoth, want: true},
		{name: "empty string is invalid", level: FitLevel(""), want: false},
		{name: "arbitrary string is invalid", level: FitLevel("mixed"), want: false},
		{name: "FIXED uppercase is invalid", level: FitLevel("FIXED"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.Valid(); got != tt.want {
				t.Errorf("FitLevel(%q).Valid() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestFitLevel_String(t *testing.T) {
	if got := FitBoth.String(); got != "both" {
		t.Errorf("FitBoth.String() = %q, want %q", got, "both")
	}
}
