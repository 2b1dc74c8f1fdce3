// Package sampler acquires timed series of live readings.
package sampler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/types"
)

// DefaultInterval is the nominal sampling cadence.
const DefaultInterval = 200 * time.Millisecond

// Source produces one (voltage, current) reading per call.
type Source interface {
	Sample() (voltage float64, current float64, err error)
}

type options struct {
	observer func(types.Sample)
	now      func() time.Time
}

// Option customizes Collect.
type Option func(*options)

// WithObserver is called with every sample as it arrives.
func WithObserver(f func(types.Sample)) Option {
	return func(o *options) {
		o.observer = f
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Count returns how many samples Collect takes for a window.
func Count(duration, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	return int(duration / interval)
}

// Collect takes duration/interval samples from src, the first one right away
// and then one per interval. Cancelling ctx aborts with fcerr.Cancelled and no
// samples; partial windows are never returned.
func Collect(ctx context.Context, src Source, duration, interval time.Duration, opts ...Option) ([]types.Sample, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	n := Count(duration, interval)
	if n <= 0 {
		return nil, fcerr.New(fcerr.InvalidResults, "collect", "window %s at %s interval yields no samples", duration, interval)
	}

	logrus.WithFields(logrus.Fields{
		"duration": duration,
		"interval": interval,
		"samples":  n,
	}).Debug("collecting samples")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	samples := make([]types.Sample, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, cancelled(ctx, i)
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx, i)
		}

		v, c, err := src.Sample()
		if err != nil {
			return nil, err
		}
		s := types.Sample{Voltage: v, Current: c, Timestamp: o.now()}
		logrus.WithFields(logrus.Fields{
			"n":       i + 1,
			"voltage": v,
			"current": c,
		}).Trace("sample")

		samples = append(samples, s)
		if o.observer != nil {
			o.observer(s)
		}
	}
	return samples, nil
}

func cancelled(ctx context.Context, taken int) error {
	logrus.WithField("taken", taken).Debug("sampling cancelled")
	return fcerr.Wrap(fcerr.Cancelled, "collect", ctx.Err())
}

// One takes a single timestamped sample.
func One(src Source) (types.Sample, error) {
	v, c, err := src.Sample()
	if err != nil {
		return types.Sample{}, err
	}
	return types.Sample{Voltage: v, Current: c, Timestamp: time.Now()}, nil
}
