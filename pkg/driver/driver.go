// Package driver defines the capability set every flight controller firmware
// dialect implements. Calibration and CLI code is written once against Driver;
// each firmware translates it into its own command encoding.
package driver

import (
	"math"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

// Driver is the uniform capability surface of one firmware dialect.
//
// Scale and WriteScale use gain units: a sensor reading is proportional to its
// gain. Firmwares that store an inversely proportional register convert
// privately.
type Driver interface {
	// Name returns the dialect name, e.g. "betaflight".
	Name() string
	// Probe reports whether this dialect is live on the wire. It is read-only
	// and bounded by the transport timeout. A framing error or a foreign
	// firmware is (false, nil); timeouts and link failures are errors.
	Probe() (bool, error)

	SensorPresent(kind types.SensorKind) (bool, error)
	SensorEnabled(kind types.SensorKind) (bool, error)
	EnableSensor(kind types.SensorKind) error

	// Sample returns one live (voltage in V, current in A) reading.
	Sample() (voltage float64, current float64, err error)

	Scale(kind types.SensorKind) (float64, error)
	Offset(kind types.SensorKind) (float64, error)
	WriteScale(kind types.SensorKind, scale float64) error

	SaveSettings() error
	Reboot() error
}

// Dialect describes a supported firmware and how to build its driver.
type Dialect struct {
	Name string
	New  func(t *transport.Transport) Driver
}

// Sanity limits on live readings. Anything outside is a decoding problem, not
// a measurement.
const (
	MaxVoltage = 100.0
	MaxCurrent = 1000.0
)

// CheckReading validates a decoded live reading.
func CheckReading(op string, voltage, current float64) error {
	if math.IsNaN(voltage) || voltage < 0 || voltage > MaxVoltage {
		return fcerr.New(fcerr.ProtocolViolation, op, "voltage %.2f V out of range", voltage)
	}
	if math.IsNaN(current) || math.Abs(current) > MaxCurrent {
		return fcerr.New(fcerr.ProtocolViolation, op, "current %.2f A out of range", current)
	}
	return nil
}

// UnknownSensor is returned for a SensorKind the driver does not handle.
func UnknownSensor(op string, kind types.SensorKind) error {
	return fcerr.New(fcerr.Unsupported, op, "unknown sensor %q", kind)
}

// GainFromInverse converts an inversely proportional register to a gain.
func GainFromInverse(op string, nominal float64, register int) (float64, error) {
	if register == 0 {
		return 0, fcerr.New(fcerr.ProtocolViolation, op, "zero scale register")
	}
	return nominal / float64(register), nil
}

// InverseFromGain converts a gain back to an inversely proportional register
// bounded by [min, max].
func InverseFromGain(op string, nominal, gain float64, min, max int) (int, error) {
	if gain <= 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return 0, fcerr.New(fcerr.InvalidResults, op, "scale %g cannot be stored", gain)
	}
	return ProportionalRegister(op, nominal/gain, min, max)
}

// ProportionalRegister rounds v to a register value bounded by [min, max].
func ProportionalRegister(op string, v float64, min, max int) (int, error) {
	r := math.Round(v)
	if math.IsNaN(r) || r < float64(min) || r > float64(max) {
		return 0, fcerr.New(fcerr.InvalidResults, op, "scale register %g outside [%d, %d]", r, min, max)
	}
	return int(r), nil
}

// Exchange sends a request through t with codec and rejects error responses.
func Exchange(t *transport.Transport, codec transport.Codec, op string, cmd uint16, payload []byte) ([]byte, error) {
	resp, err := t.SendAndReceive(transport.Frame{Command: cmd, Payload: payload}, codec)
	if err != nil {
		return nil, err
	}
	if resp.Error {
		return nil, fcerr.New(fcerr.ProtocolViolation, op, "firmware rejected command %d", cmd)
	}
	return resp.Payload, nil
}

// ProbeError turns an exchange error into a Probe outcome: a garbled or
// rejected reply means "not this dialect". Timeouts are returned so the
// caller can decide whether to re-probe.
func ProbeError(err error) error {
	if fcerr.Of(err) == fcerr.ProtocolViolation {
		return nil
	}
	return err
}
