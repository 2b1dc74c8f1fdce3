package calibration

import (
	"time"

	"github.com/powercal/powercal/pkg/types"
)

// Phase defines phases of one calibration run.
type Phase string

const (
	PhaseIdle          Phase = "Idle"
	PhaseSensorChecked Phase = "SensorChecked"
	PhaseSkipped       Phase = "Skipped"
	PhaseEnabled       Phase = "Enabled"
	PhaseSampled       Phase = "Sampled"
	PhaseValidated     Phase = "Validated"
	PhaseAccepted      Phase = "Accepted"
	PhaseRejected      Phase = "Rejected"
)

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	return p == PhaseSkipped || p == PhaseAccepted || p == PhaseRejected
}

// Options bound what data is accepted.
type Options struct {
	// MinSamples is the smallest window accepted.
	MinSamples int `json:"minSamples"`
	// MaxRelativeSpread is the largest stddev/|mean| accepted.
	MaxRelativeSpread float64 `json:"maxRelativeSpread"`
	// MinMean rejects readings this close to zero.
	MinMean float64 `json:"minMean"`
	// ReferenceRange is the sane [min, max] operating range per sensor.
	ReferenceRange map[types.SensorKind][2]float64 `json:"referenceRange"`
	// Window and Interval, when both set, require the samples to span the
	// acquisition window.
	Window   time.Duration `json:"window"`
	Interval time.Duration `json:"interval"`
}

func DefaultOptions() Options {
	return Options{
		MinSamples:        10,
		MaxRelativeSpread: 0.05,
		MinMean:           0.01,
		ReferenceRange: map[types.SensorKind][2]float64{
			types.Voltage: {0.5, 60},
			types.Current: {0.05, 300},
		},
	}
}

// Result is an accepted calibration.
type Result struct {
	Kind types.SensorKind `json:"kind"`
	// Count is the number of samples used.
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	// RelativeSpread is StdDev/|Mean|, the fit-quality signal.
	RelativeSpread float64 `json:"relativeSpread"`
	Reference      float64 `json:"reference"`
	// Correction is Reference/Mean.
	Correction    float64 `json:"correction"`
	ExistingScale float64 `json:"existingScale"`
	// Scale is ExistingScale*Correction, the value to write back.
	Scale float64 `json:"scale"`
}
