package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/sampler"
	"github.com/powercal/powercal/pkg/types"
)

// Device is the part of a flight controller handle a calibration run uses.
type Device interface {
	sampler.Source
	SensorPresent(kind types.SensorKind) (bool, error)
	SensorEnabled(kind types.SensorKind) (bool, error)
	EnableSensor(kind types.SensorKind) error
	Scale(kind types.SensorKind) (float64, error)
	WriteScale(kind types.SensorKind, scale float64) error
}

// Prompter asks the operator questions.
type Prompter interface {
	AskYesNo(prompt string, def bool) (bool, error)
	AskFloat(prompt string) (float64, error)
}

// Reporter shows live samples while they are collected.
type Reporter interface {
	ReportLiveSample(s types.Sample)
}

// Calibrator runs one calibration of one sensor.
type Calibrator struct {
	Device   Device
	Kind     types.SensorKind
	Duration time.Duration
	Interval time.Duration
	Options  Options
	Prompter Prompter
	// Reporter and Hub are optional.
	Reporter Reporter
	Hub      *events.EventHub
	// Reference, when positive, is used instead of asking for one.
	Reference float64

	phase Phase
}

// Phase returns the phase the last Run ended in.
func (c *Calibrator) Phase() Phase {
	if c.phase == "" {
		return PhaseIdle
	}
	return c.phase
}

func (c *Calibrator) transition(to Phase, msg string) {
	from := c.Phase()
	c.phase = to

	logrus.WithFields(logrus.Fields{
		"sensor": c.Kind,
		"from":   from,
		"to":     to,
	}).Debug("calibration phase changed")

	c.Hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		Sensor:  string(c.Kind),
		From:    string(from),
		To:      string(to),
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fcerr.Wrap(fcerr.Cancelled, op, err)
	}
	return nil
}

func (c *Calibrator) reject(err error) (*Result, error) {
	c.transition(PhaseRejected, err.Error())
	return nil, err
}

// Run performs the whole calibration. A nil result with a nil error means
// the operator chose not to enable a disabled sensor and nothing was written.
func (c *Calibrator) Run(ctx context.Context) (*Result, error) {
	c.phase = PhaseIdle
	interval := c.Interval
	if interval <= 0 {
		interval = sampler.DefaultInterval
	}

	present, err := c.Device.SensorPresent(c.Kind)
	if err != nil {
		return c.reject(err)
	}
	if !present {
		return c.reject(fcerr.New(fcerr.SensorMissing, op, "the board has no %s sensor", c.Kind))
	}
	c.transition(PhaseSensorChecked, "")

	enabled, err := c.Device.SensorEnabled(c.Kind)
	if err != nil {
		return c.reject(err)
	}
	if !enabled {
		yes, err := c.Prompter.AskYesNo(fmt.Sprintf("The %s sensor is disabled. Enable it?", c.Kind), true)
		if err == nil {
			err = checkCancelled(ctx)
		}
		if err != nil {
			return c.reject(err)
		}
		if !yes {
			c.transition(PhaseSkipped, "sensor left disabled")
			return nil, nil
		}
		if err := c.Device.EnableSensor(c.Kind); err != nil {
			return c.reject(err)
		}
		c.transition(PhaseEnabled, "")
	}

	yes, err := c.Prompter.AskYesNo(fmt.Sprintf("Connect a steady %s load and a reference meter. Start sampling?", c.Kind), true)
	if err == nil {
		err = checkCancelled(ctx)
	}
	if err != nil {
		return c.reject(err)
	}
	if !yes {
		return c.reject(fcerr.New(fcerr.Cancelled, op, "sampling declined"))
	}

	var opts []sampler.Option
	if c.Reporter != nil {
		opts = append(opts, sampler.WithObserver(c.Reporter.ReportLiveSample))
	}
	samples, err := sampler.Collect(ctx, c.Device, c.Duration, interval, opts...)
	if err != nil {
		return c.reject(err)
	}
	c.transition(PhaseSampled, fmt.Sprintf("%d samples", len(samples)))

	reference := c.Reference
	if reference <= 0 {
		reference, err = c.Prompter.AskFloat(fmt.Sprintf("Measured %s (%s)", c.Kind, c.Kind.Unit()))
		if err == nil {
			err = checkCancelled(ctx)
		}
		if err != nil {
			return c.reject(err)
		}
	}

	existing, err := c.Device.Scale(c.Kind)
	if err != nil {
		return c.reject(err)
	}

	opt := c.Options
	opt.Window = c.Duration
	opt.Interval = interval
	res, err := Compute(c.Kind, samples, reference, existing, opt)
	if err != nil {
		return c.reject(err)
	}
	c.transition(PhaseValidated, fmt.Sprintf("relative spread %.4f", res.RelativeSpread))

	logrus.WithFields(logrus.Fields{
		"sensor":     c.Kind,
		"mean":       res.Mean,
		"reference":  res.Reference,
		"correction": res.Correction,
		"scale":      res.Scale,
	}).Info("calibration accepted")

	// Nothing has been written yet; an interrupt up to here leaves the board untouched.
	if err := checkCancelled(ctx); err != nil {
		return c.reject(err)
	}
	if err := c.Device.WriteScale(c.Kind, res.Scale); err != nil {
		return c.reject(errors.Wrapf(err, "write %s scale", c.Kind))
	}
	c.transition(PhaseAccepted, fmt.Sprintf("scale %g", res.Scale))
	return res, nil
}
