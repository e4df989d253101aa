package model

import (
	"github.com/alec-deason/cascade/internal/errs"
)

// RateName identifies one of the five hazard functions.
type RateName string

const (
	Pini  RateName = "pini"  // initial prevalence
	Iota  RateName = "iota"  // incidence
	Rho   RateName = "rho"   // remission
	Chi   RateName = "chi"   // excess mortality
	Omega RateName = "omega" // other-cause mortality
)

// RateNames lists the rates in engine order.
func RateNames() []RateName { return []RateName{Pini, Iota, Rho, Chi, Omega} }

// ParseRate maps a rate name to its constant.
func ParseRate(name string) (RateName, error) {
	for _, r := range RateNames() {
		if string(r) == name {
			return r, nil
		}
	}
	return "", errs.Invalid("rate", "unknown rate %q", name)
}

// Integrand names a measurable quantity the engine can average over an
// age-time region.
type Integrand string

const (
	Sincidence  Integrand = "Sincidence"
	Remission   Integrand = "remission"
	MTExcess    Integrand = "mtexcess"
	MTOther     Integrand = "mtother"
	MTWith      Integrand = "mtwith"
	Susceptible Integrand = "susceptible"
	WithC       Integrand = "withC"
	Prevalence  Integrand = "prevalence"
	Tincidence  Integrand = "Tincidence"
	MTSpecific  Integrand = "mtspecific"
	MTAll       Integrand = "mtall"
	MTStandard  Integrand = "mtstandard"
	RelRisk     Integrand = "relrisk"
)

// Integrands lists every integrand in engine order.
func Integrands() []Integrand {
	return []Integrand{
		Sincidence, Remission, MTExcess, MTOther, MTWith, Susceptible, WithC,
		Prevalence, Tincidence, MTSpecific, MTAll, MTStandard, RelRisk,
	}
}

// ParseIntegrand maps an integrand name to its constant.
func ParseIntegrand(name string) (Integrand, error) {
	for _, i := range Integrands() {
		if string(i) == name {
			return i, nil
		}
	}
	return "", errs.Invalid("integrand", "unknown integrand %q", name)
}

// RateIntegrand is the integrand that directly measures each rate.
var RateIntegrand = map[RateName]Integrand{
	Iota:  Sincidence,
	Rho:   Remission,
	Chi:   MTExcess,
	Omega: MTOther,
	Pini:  Prevalence,
}

// Weight names used when predicting integrands with age or time extent.
const (
	WeightSusceptible   = "susceptible"
	WeightWithCondition = "with_condition"
	WeightTotal         = "total"
)

// WeightNames lists the recognized weight names.
func WeightNames() []string {
	return []string{WeightSusceptible, WeightWithCondition, WeightTotal}
}
