// Package betaflight drives Betaflight flight controllers over MSP v1.
package betaflight

import (
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/driver"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/msp"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

const Name = "betaflight"

// Meter ids as listed by MSP_VOLTAGE_METER_CONFIG / MSP_CURRENT_METER_CONFIG.
const (
	meterIDBattery1 = 10
	meterIDVirtual1 = 80
)

// Meter sensor types, the second byte of each meter config entry.
const (
	voltageMeterTypeMax = 1 // resistor divider, ESC
	currentMeterTypeMax = 3 // virtual, ADC, ESC, MSP
)

// Battery config meter sources.
const (
	voltageSourceNone = 0
	voltageSourceADC  = 1
	voltageSourceESC  = 2

	currentSourceNone    = 0
	currentSourceADC     = 1
	currentSourceVirtual = 2
	currentSourceESC     = 3
	currentSourceMSP     = 4
)

// Offsets of the meter source bytes in the MSP_BATTERY_CONFIG payload.
const (
	batteryConfigVoltageSource = 5
	batteryConfigCurrentSource = 6
	batteryConfigMinLen        = 7
)

const (
	// currentScaleNominal is the firmware default current meter scale. The
	// register is inversely proportional to the reading.
	currentScaleNominal = 400
	currentScaleMin     = 1
	currentScaleMax     = 16000

	vbatScaleMin = 1
	vbatScaleMax = 255
)

// Driver talks to a Betaflight board.
type Driver struct {
	t     *transport.Transport
	codec transport.Codec
}

var _ driver.Driver = &Driver{}

// Dialect registers Betaflight for autodetection.
var Dialect = driver.Dialect{
	Name: Name,
	New:  func(t *transport.Transport) driver.Driver { return New(t) },
}

func New(t *transport.Transport) *Driver {
	return &Driver{
		t:     t,
		codec: msp.V1{},
	}
}

func (d *Driver) Name() string {
	return Name
}

func (d *Driver) exchange(op string, cmd uint16, payload []byte) ([]byte, error) {
	return driver.Exchange(d.t, d.codec, op, cmd, payload)
}

// Probe asks for the firmware variant and expects "BTFL".
func (d *Driver) Probe() (bool, error) {
	logrus.Tracef("betaflight Probe called")

	b, err := d.exchange("probe", msp.MSPFCVariant, nil)
	if err != nil {
		return false, driver.ProbeError(err)
	}
	if len(b) < 4 {
		return false, nil
	}

	ok := string(b[:4]) == msp.VariantBetaflight
	logrus.WithField("variant", string(b[:4])).Debugf("betaflight probe returned %t", ok)
	return ok, nil
}

type meter struct {
	id     uint8
	kind   uint8
	scale  int
	offset int
	// Voltage meters only: resistor divider value and multiplier.
	divider [2]uint8
}

// meters reads the ADC meter list for kind.
func (d *Driver) meters(kind types.SensorKind) ([]meter, error) {
	var cmd uint16
	switch kind {
	case types.Voltage:
		cmd = msp.MSPVoltageMeterConfig
	case types.Current:
		cmd = msp.MSPCurrentMeterConfig
	default:
		return nil, driver.UnknownSensor("meters", kind)
	}

	b, err := d.exchange("meter config", cmd, nil)
	if err != nil {
		return nil, err
	}

	r := msp.NewReader(b)
	count := int(r.U8())
	ret := make([]meter, 0, count)
	for i := 0; i < count; i++ {
		size := int(r.U8())
		sub := msp.NewReader(r.Bytes(size))
		m := meter{id: sub.U8(), kind: sub.U8()}
		typeMax := uint8(voltageMeterTypeMax)
		switch kind {
		case types.Voltage:
			m.scale = int(sub.U8())
			m.divider = [2]uint8{sub.U8(), sub.U8()}
		case types.Current:
			m.scale = int(sub.I16())
			m.offset = int(sub.I16())
			typeMax = currentMeterTypeMax
		}
		if err := sub.Err(); err != nil {
			return nil, fcerr.Wrap(fcerr.ProtocolViolation, "meter config", err)
		}
		if m.kind > typeMax {
			return nil, fcerr.New(fcerr.ProtocolViolation, "meter config", "unknown %s meter type %d on meter %d", kind, m.kind, m.id)
		}
		ret = append(ret, m)
	}
	if err := r.Err(); err != nil {
		return nil, fcerr.Wrap(fcerr.ProtocolViolation, "meter config", err)
	}
	return ret, nil
}

func (d *Driver) batteryMeter(kind types.SensorKind) (*meter, error) {
	ms, err := d.meters(kind)
	if err != nil {
		return nil, err
	}
	for i := range ms {
		if ms[i].id == meterIDBattery1 {
			return &ms[i], nil
		}
	}
	return nil, nil
}

func (d *Driver) batteryConfig() ([]byte, error) {
	b, err := d.exchange("battery config", msp.MSPBatteryConfig, nil)
	if err != nil {
		return nil, err
	}
	if len(b) < batteryConfigMinLen {
		return nil, fcerr.New(fcerr.ProtocolViolation, "battery config", "payload is %d bytes, want at least %d", len(b), batteryConfigMinLen)
	}
	if b[batteryConfigVoltageSource] > voltageSourceESC {
		return nil, fcerr.New(fcerr.ProtocolViolation, "battery config", "unknown voltage meter source %d", b[batteryConfigVoltageSource])
	}
	if b[batteryConfigCurrentSource] > currentSourceMSP {
		return nil, fcerr.New(fcerr.ProtocolViolation, "battery config", "unknown current meter source %d", b[batteryConfigCurrentSource])
	}
	return b, nil
}

func sourceOffset(op string, kind types.SensorKind) (int, error) {
	switch kind {
	case types.Voltage:
		return batteryConfigVoltageSource, nil
	case types.Current:
		return batteryConfigCurrentSource, nil
	default:
		return 0, driver.UnknownSensor(op, kind)
	}
}

// SensorPresent reports whether the board has an ADC meter for kind.
func (d *Driver) SensorPresent(kind types.SensorKind) (bool, error) {
	logrus.Tracef("betaflight SensorPresent(%s) called", kind)

	m, err := d.batteryMeter(kind)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// SensorEnabled reports whether the battery config uses the ADC meter for kind.
func (d *Driver) SensorEnabled(kind types.SensorKind) (bool, error) {
	logrus.Tracef("betaflight SensorEnabled(%s) called", kind)

	off, err := sourceOffset("sensor enabled", kind)
	if err != nil {
		return false, err
	}
	b, err := d.batteryConfig()
	if err != nil {
		return false, err
	}
	// Both source enums use 1 for ADC.
	return b[off] == voltageSourceADC, nil
}

// EnableSensor switches the battery config source for kind to the ADC meter,
// keeping every other battery setting as read.
func (d *Driver) EnableSensor(kind types.SensorKind) error {
	logrus.Tracef("betaflight EnableSensor(%s) called", kind)

	off, err := sourceOffset("enable sensor", kind)
	if err != nil {
		return err
	}
	b, err := d.batteryConfig()
	if err != nil {
		return err
	}
	payload := append([]byte(nil), b...)
	payload[off] = currentSourceADC
	_, err = d.exchange("enable sensor", msp.MSPSetBatteryConfig, payload)
	return err
}

// Sample reads MSP_ANALOG. Firmware older than API 1.41 only reports the
// legacy 0.1 V voltage field.
func (d *Driver) Sample() (float64, float64, error) {
	b, err := d.exchange("sample", msp.MSPAnalog, nil)
	if err != nil {
		return 0, 0, err
	}

	r := msp.NewReader(b)
	legacyVbat := r.U8()
	r.Skip(2) // mAh drawn
	r.Skip(2) // rssi
	amperage := r.I16()
	if err := r.Err(); err != nil {
		return 0, 0, fcerr.Wrap(fcerr.ProtocolViolation, "sample", err)
	}

	voltage := float64(legacyVbat) / 10
	if r.Remaining() >= 2 {
		voltage = float64(r.U16()) / 100
	}
	current := float64(amperage) / 100

	if err := driver.CheckReading("sample", voltage, current); err != nil {
		return 0, 0, err
	}
	return voltage, current, nil
}

func (d *Driver) presentMeter(op string, kind types.SensorKind) (*meter, error) {
	m, err := d.batteryMeter(kind)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fcerr.New(fcerr.SensorMissing, op, "no ADC %s meter", kind)
	}
	return m, nil
}

// Scale returns the vbatscale register for voltage and the normalized gain
// of the current meter scale.
func (d *Driver) Scale(kind types.SensorKind) (float64, error) {
	m, err := d.presentMeter("scale", kind)
	if err != nil {
		return 0, err
	}
	if kind == types.Voltage {
		if m.scale == 0 {
			return 0, fcerr.New(fcerr.ProtocolViolation, "scale", "zero vbatscale")
		}
		return float64(m.scale), nil
	}
	return driver.GainFromInverse("scale", currentScaleNominal, m.scale)
}

// Offset returns the current meter offset in amperes. Voltage has none.
func (d *Driver) Offset(kind types.SensorKind) (float64, error) {
	if kind == types.Voltage {
		return 0, nil
	}
	m, err := d.presentMeter("offset", kind)
	if err != nil {
		return 0, err
	}
	return float64(m.offset) / 1000, nil
}

func (d *Driver) WriteScale(kind types.SensorKind, scale float64) error {
	logrus.Tracef("betaflight WriteScale(%s, %g) called", kind, scale)

	m, err := d.presentMeter("write scale", kind)
	if err != nil {
		return err
	}

	w := msp.NewWriter().U8(meterIDBattery1)
	switch kind {
	case types.Voltage:
		reg, err := driver.ProportionalRegister("write scale", scale, vbatScaleMin, vbatScaleMax)
		if err != nil {
			return err
		}
		// Divider settings are written back unchanged.
		w.U8(uint8(reg)).U8(m.divider[0]).U8(m.divider[1])
		_, err = d.exchange("write scale", msp.MSPSetVoltageMeterConfig, w.Bytes())
		return err
	default:
		reg, err := driver.InverseFromGain("write scale", currentScaleNominal, scale, currentScaleMin, currentScaleMax)
		if err != nil {
			return err
		}
		w.I16(int16(reg)).I16(int16(m.offset))
		_, err = d.exchange("write scale", msp.MSPSetCurrentMeterConfig, w.Bytes())
		return err
	}
}

func (d *Driver) SaveSettings() error {
	logrus.Tracef("betaflight SaveSettings called")

	_, err := d.exchange("save settings", msp.MSPEepromWrite, nil)
	return err
}

func (d *Driver) Reboot() error {
	logrus.Tracef("betaflight Reboot called")

	_, err := d.exchange("reboot", msp.MSPReboot, nil)
	return err
}
