package sustainability

import (
	"fmt"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

const (
	// DefaultLossFactor is the power and cooling overhead on top of the measured energy.
	DefaultLossFactor = 0.08

	// HoursPerYear ignores leap years.
	HoursPerYear = 365 * 24

	// kilojoulesPerKWh converts a kJ * (g/kWh) product into grams.
	kilojoulesPerKWh = 3600
)

// Range is a lower and upper carbon cost bound in gCO2e (or gCO2e/s for rates).
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Accountant computes job sustainability costs against an injected intensity table.
type Accountant struct {
	table      IntensityTable
	lossFactor float64
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithLossFactor overrides the default power and cooling loss factor.
func WithLossFactor(f float64) Option {
	return func(a *Accountant) {
		a.lossFactor = f
	}
}

// NewAccountant creates an accountant bound to table.
func NewAccountant(table IntensityTable, opts ...Option) *Accountant {
	a := &Accountant{
		table:      table,
		lossFactor: DefaultLossFactor,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Table returns the intensity table the accountant was built with.
func (a *Accountant) Table() IntensityTable {
	return a.table
}

// LossFactor returns the configured loss factor.
func (a *Accountant) LossFactor() float64 {
	return a.lossFactor
}

// JobCost computes the job sustainability cost (JSC) range for a job that used
// kilojoules of energy drawn from mix, using the accountant's loss factor.
func (a *Accountant) JobCost(mix EnergyMix, kilojoules float64) (Range, error) {
	return a.JobCostWithLoss(mix, kilojoules, a.lossFactor)
}

// JobCostWithLoss is JobCost with an explicit loss factor.
// Min and Max are equal iff the mix holds no ranged (fossil) source.
func (a *Accountant) JobCostWithLoss(mix EnergyMix, kilojoules, lossFactor float64) (Range, error) {
	if !validNumber(kilojoules) || kilojoules < 0 {
		return Range{}, apperrors.ValidationError(fmt.Sprintf("energy must be a non-negative number of kilojoules, got %v", kilojoules))
	}
	if !validNumber(lossFactor) || lossFactor < 0 {
		return Range{}, apperrors.ValidationError(fmt.Sprintf("loss factor must be non-negative, got %v", lossFactor))
	}

	var lo, hi float64
	for _, source := range mix.sortedSources() {
		share := mix[source]
		if !validNumber(share) || share < 0 {
			return Range{}, apperrors.ValidationError(fmt.Sprintf("energy mix share for %q must be non-negative, got %v", source, share))
		}
		in, ok := a.table.Lookup(source)
		if !ok {
			return Range{}, apperrors.ValidationError(fmt.Sprintf("unknown energy source %q", source)).
				WithDetail("source", source)
		}
		lo += in.Min * kilojoules * share
		hi += in.Max * kilojoules * share
	}

	return Range{
		Min: lo * (1 + lossFactor) / kilojoulesPerKWh,
		Max: hi * (1 + lossFactor) / kilojoulesPerKWh,
	}, nil
}

// AmortizedCost computes the amortized sustainability cost (ASC): the job cost
// plus the job's share of the hardware's embodied carbon, apportioned by the
// fraction of the hardware lifetime the job consumed.
func AmortizedCost(jsc, jobHours, lifetimeYears, embodiedCost float64) (float64, error) {
	if !validNumber(jsc) || jsc < 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("job cost must be non-negative, got %v", jsc))
	}
	if !validNumber(jobHours) || jobHours < 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("job time must be non-negative, got %v hours", jobHours))
	}
	if !validNumber(lifetimeYears) || lifetimeYears <= 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("hardware lifetime must be positive, got %v years", lifetimeYears))
	}
	if !validNumber(embodiedCost) || embodiedCost < 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("embodied cost must be non-negative, got %v", embodiedCost))
	}

	hoursAvailable := lifetimeYears * HoursPerYear
	return jsc + embodiedCost*(jobHours/hoursAvailable), nil
}

// CostRate computes the sustainability cost rate (SCR) in gCO2e per second.
func CostRate(jsc, seconds float64) (float64, error) {
	if !validNumber(jsc) || jsc < 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("job cost must be non-negative, got %v", jsc))
	}
	if !validNumber(seconds) || seconds <= 0 {
		return 0, apperrors.ValidationError(fmt.Sprintf("time delta must be positive, got %v seconds", seconds))
	}
	return jsc / seconds, nil
}

// AmortizedRange applies AmortizedCost to both bounds of r.
func AmortizedRange(r Range, jobHours, lifetimeYears, embodiedCost float64) (Range, error) {
	lo, err := AmortizedCost(r.Min, jobHours, lifetimeYears, embodiedCost)
	if err != nil {
		return Range{}, err
	}
	hi, err := AmortizedCost(r.Max, jobHours, lifetimeYears, embodiedCost)
	if err != nil {
		return Range{}, err
	}
	return Range{Min: lo, Max: hi}, nil
}

// RateRange applies CostRate to both bounds of r.
func RateRange(r Range, seconds float64) (Range, error) {
	lo, err := CostRate(r.Min, seconds)
	if err != nil {
		return Range{}, err
	}
	hi, err := CostRate(r.Max, seconds)
	if err != nil {
		return Range{}, err
	}
	return Range{Min: lo, Max: hi}, nil
}
