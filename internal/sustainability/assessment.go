package sustainability

import (
	"time"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Hardware describes the machine a job ran on.
type Hardware struct {
	// Watts is the average power draw while the job runs.
	Watts float64 `json:"watts" yaml:"watts"`

	// LifetimeYears is the expected service life of the hardware.
	LifetimeYears float64 `json:"lifetime_years" yaml:"lifetime_years"`

	// EmbodiedCost is the manufacturing carbon debt in gCO2e.
	EmbodiedCost float64 `json:"embodied_cost" yaml:"embodied_cost"`
}

// DefaultHardware is an 800 W workstation with a three year life and 10 kg embodied CO2e.
func DefaultHardware() Hardware {
	return Hardware{
		Watts:         800,
		LifetimeYears: 3,
		EmbodiedCost:  10000,
	}
}

// Job is one observed run of a retrieval experiment.
type Job struct {
	Duration time.Duration
	Mix      EnergyMix
	Hardware Hardware
}

// Kilojoules returns the energy a job of the given duration draws at the hardware's power.
func (h Hardware) Kilojoules(d time.Duration) float64 {
	return h.Watts * d.Seconds() / 1000
}

// Assessment holds the full cost ranges for one job.
type Assessment struct {
	Kilojoules float64 `json:"kilojoules"`
	Seconds    float64 `json:"seconds"`
	JSC        Range   `json:"jsc"`
	ASC        Range   `json:"asc"`
	SCR        Range   `json:"scr"`
}

// Assess computes JSC once for the job and feeds each bound through ASC and SCR.
func (a *Accountant) Assess(job Job) (Assessment, error) {
	if job.Duration <= 0 {
		return Assessment{}, apperrors.ValidationError("job duration must be positive")
	}

	kj := job.Hardware.Kilojoules(job.Duration)
	jsc, err := a.JobCost(job.Mix, kj)
	if err != nil {
		return Assessment{}, err
	}

	asc, err := AmortizedRange(jsc, job.Duration.Hours(), job.Hardware.LifetimeYears, job.Hardware.EmbodiedCost)
	if err != nil {
		return Assessment{}, err
	}

	scr, err := RateRange(jsc, job.Duration.Seconds())
	if err != nil {
		return Assessment{}, err
	}

	return Assessment{
		Kilojoules: kj,
		Seconds:    job.Duration.Seconds(),
		JSC:        jsc,
		ASC:        asc,
		SCR:        scr,
	}, nil
}
