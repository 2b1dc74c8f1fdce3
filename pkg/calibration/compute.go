package calibration

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/types"
)

const op = "calibrate"

// Compute validates samples for kind against reference and derives the new
// scale from existingScale. It has no side effects.
func Compute(kind types.SensorKind, samples []types.Sample, reference, existingScale float64, opts Options) (*Result, error) {
	if kind != types.Voltage && kind != types.Current {
		return nil, fcerr.New(fcerr.Unsupported, op, "unknown sensor %q", kind)
	}
	if len(samples) == 0 || len(samples) < opts.MinSamples {
		return nil, fcerr.New(fcerr.InvalidResults, op, "%d samples, need at least %d", len(samples), max(opts.MinSamples, 1))
	}
	if err := checkReference(kind, reference, opts); err != nil {
		return nil, err
	}
	if err := checkSpan(samples, opts); err != nil {
		return nil, err
	}
	if existingScale <= 0 || math.IsNaN(existingScale) || math.IsInf(existingScale, 0) {
		return nil, fcerr.New(fcerr.InvalidResults, op, "stored scale %g is unusable", existingScale)
	}

	values := types.Values(samples, kind)
	mean := stat.Mean(values, nil)
	stddev := stat.PopStdDev(values, nil)

	if math.Abs(mean) <= opts.MinMean {
		return nil, fcerr.New(fcerr.InvalidResults, op, "mean %s reading %.4f %s is too close to zero", kind, mean, kind.Unit())
	}
	spread := stddev / math.Abs(mean)
	if spread > opts.MaxRelativeSpread {
		return nil, fcerr.New(fcerr.InvalidResults, op, "readings too noisy: relative spread %.2f%% exceeds %.2f%%", spread*100, opts.MaxRelativeSpread*100)
	}

	correction := reference / mean
	return &Result{
		Kind:           kind,
		Count:          len(values),
		Mean:           mean,
		StdDev:         stddev,
		RelativeSpread: spread,
		Reference:      reference,
		Correction:     correction,
		ExistingScale:  existingScale,
		Scale:          existingScale * correction,
	}, nil
}

func checkReference(kind types.SensorKind, reference float64, opts Options) error {
	if reference <= 0 || math.IsNaN(reference) || math.IsInf(reference, 0) {
		return fcerr.New(fcerr.InvalidResults, op, "reference %g must be positive", reference)
	}
	r, ok := opts.ReferenceRange[kind]
	if !ok {
		return nil
	}
	if reference < r[0] || reference > r[1] {
		return fcerr.New(fcerr.InvalidResults, op, "reference %g %s outside [%g, %g]", reference, kind.Unit(), r[0], r[1])
	}
	return nil
}

// checkSpan requires the first and last samples to be at least a window
// minus one interval apart, with half an interval of slack for jitter.
func checkSpan(samples []types.Sample, opts Options) error {
	if opts.Window <= 0 || opts.Interval <= 0 {
		return nil
	}
	need := opts.Window - opts.Interval - opts.Interval/2
	got := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
	if got < need {
		return fcerr.New(fcerr.InvalidResults, op, "samples span %s of a %s window", got, opts.Window)
	}
	return nil
}
