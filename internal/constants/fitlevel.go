package constants

// FitLevel selects which effects a fit command optimizes.
type FitLevel string

const (
	// FitFixed optimizes fixed effects with random effects held at zero.
	FitFixed FitLevel = "fixed"

	// FitRandom optimizes random effects with fixed effects held at their
	// starting values.
	FitRandom FitLevel = "random"

	// FitBoth optimizes fixed and random effects together.
	FitBoth FitLevel = "both"
)

// Valid returns true if the level is a recognized value.
func (l FitLevel) Valid() bool {
	switch l {
	case FitFixed, FitRandom, FitBoth:
		return true
	}
	return false
}

// String returns the string representation of the level.
func (l FitLevel) String() string {
	return string(l)
}
