// Package inav drives INAV flight controllers over MSP v2.
//
// INAV exposes the battery meter configuration through named settings
// (MSP2_COMMON_SETTING), the same names its CLI uses.
package inav

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/driver"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/msp"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

const Name = "inav"

const (
	settingVbatMeterType    = "vbat_meter_type"
	settingCurrentMeterType = "current_meter_type"
	settingVbatScale        = "vbat_scale"
	settingCurrentScale     = "current_meter_scale"
	settingCurrentOffset    = "current_meter_offset"
)

// Meter types: none, ADC, ESC for voltage; none, ADC, virtual, fake, ESC
// for current.
const (
	meterTypeNone       = 0
	vbatMeterTypeMax    = 2
	currentMeterTypeMax = 4
)

const (
	featureVbat         uint32 = 1 << 1
	featureCurrentMeter uint32 = 1 << 11
)

const (
	currentScaleNominal = 400
	currentScaleMin     = -10000
	currentScaleMax     = 10000

	vbatScaleMin = 1
	vbatScaleMax = 65535
)

// Driver talks to an INAV board.
type Driver struct {
	t     *transport.Transport
	codec transport.Codec
}

var _ driver.Driver = &Driver{}

// Dialect registers INAV for autodetection.
var Dialect = driver.Dialect{
	Name: Name,
	New:  func(t *transport.Transport) driver.Driver { return New(t) },
}

func New(t *transport.Transport) *Driver {
	return &Driver{
		t:     t,
		codec: msp.V2{},
	}
}

func (d *Driver) Name() string {
	return Name
}

func (d *Driver) exchange(op string, cmd uint16, payload []byte) ([]byte, error) {
	return driver.Exchange(d.t, d.codec, op, cmd, payload)
}

// Probe sends a v2 framed FC_VARIANT and expects "INAV".
func (d *Driver) Probe() (bool, error) {
	logrus.Tracef("inav Probe called")

	b, err := d.exchange("probe", msp.MSPFCVariant, nil)
	if err != nil {
		return false, driver.ProbeError(err)
	}
	if len(b) < 4 {
		return false, nil
	}

	ok := string(b[:4]) == msp.VariantINAV
	logrus.WithField("variant", string(b[:4])).Debugf("inav probe returned %t", ok)
	return ok, nil
}

// setting reads a named setting as a little endian integer. Settings up to
// 16 bits wide are supported.
func (d *Driver) setting(op, name string) (int, error) {
	b, err := d.exchange(op, msp.MSP2CommonSetting, msp.NewWriter().CString(name).Bytes())
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"name":  name,
		"bytes": b,
	}).Trace("read setting")

	switch len(b) {
	case 1:
		return int(b[0]), nil
	case 2:
		return int(binary.LittleEndian.Uint16(b)), nil
	default:
		return 0, fcerr.New(fcerr.ProtocolViolation, op, "setting %s is %d bytes", name, len(b))
	}
}

func (d *Driver) setSetting(op, name string, value uint16) error {
	logrus.WithFields(logrus.Fields{
		"name":  name,
		"value": value,
	}).Trace("write setting")

	payload := msp.NewWriter().CString(name).U16(value).Bytes()
	_, err := d.exchange(op, msp.MSP2CommonSetSetting, payload)
	return err
}

func featureBit(op string, kind types.SensorKind) (uint32, error) {
	switch kind {
	case types.Voltage:
		return featureVbat, nil
	case types.Current:
		return featureCurrentMeter, nil
	default:
		return 0, driver.UnknownSensor(op, kind)
	}
}

func (d *Driver) features(op string) (uint32, error) {
	b, err := d.exchange(op, msp.MSPFeatureConfig, nil)
	if err != nil {
		return 0, err
	}
	r := msp.NewReader(b)
	f := r.U32()
	if err := r.Err(); err != nil {
		return 0, fcerr.Wrap(fcerr.ProtocolViolation, op, err)
	}
	return f, nil
}

// SensorPresent reports whether a meter type other than none is configured.
func (d *Driver) SensorPresent(kind types.SensorKind) (bool, error) {
	logrus.Tracef("inav SensorPresent(%s) called", kind)

	var (
		name    string
		typeMax int
	)
	switch kind {
	case types.Voltage:
		name, typeMax = settingVbatMeterType, vbatMeterTypeMax
	case types.Current:
		name, typeMax = settingCurrentMeterType, currentMeterTypeMax
	default:
		return false, driver.UnknownSensor("sensor present", kind)
	}

	v, err := d.setting("sensor present", name)
	if err != nil {
		return false, err
	}
	if int(v) > typeMax {
		return false, fcerr.New(fcerr.ProtocolViolation, "sensor present", "unknown %s %d", name, v)
	}
	return v != meterTypeNone, nil
}

// SensorEnabled checks the VBAT or CURRENT_METER feature bit.
func (d *Driver) SensorEnabled(kind types.SensorKind) (bool, error) {
	logrus.Tracef("inav SensorEnabled(%s) called", kind)

	bit, err := featureBit("sensor enabled", kind)
	if err != nil {
		return false, err
	}
	f, err := d.features("sensor enabled")
	if err != nil {
		return false, err
	}
	return f&bit != 0, nil
}

func (d *Driver) EnableSensor(kind types.SensorKind) error {
	logrus.Tracef("inav EnableSensor(%s) called", kind)

	bit, err := featureBit("enable sensor", kind)
	if err != nil {
		return err
	}
	f, err := d.features("enable sensor")
	if err != nil {
		return err
	}
	if f&bit != 0 {
		return nil
	}
	_, err = d.exchange("enable sensor", msp.MSPSetFeatureConfig, msp.NewWriter().U32(f|bit).Bytes())
	return err
}

// Sample reads MSP2_INAV_ANALOG.
func (d *Driver) Sample() (float64, float64, error) {
	b, err := d.exchange("sample", msp.MSP2INAVAnalog, nil)
	if err != nil {
		return 0, 0, err
	}

	r := msp.NewReader(b)
	r.Skip(1) // battery flags
	vbat := r.U16()
	amperage := r.I16()
	if err := r.Err(); err != nil {
		return 0, 0, fcerr.Wrap(fcerr.ProtocolViolation, "sample", err)
	}

	voltage := float64(vbat) / 100
	current := float64(amperage) / 100
	if err := driver.CheckReading("sample", voltage, current); err != nil {
		return 0, 0, err
	}
	return voltage, current, nil
}

func (d *Driver) requirePresent(op string, kind types.SensorKind) error {
	ok, err := d.SensorPresent(kind)
	if err != nil {
		return err
	}
	if !ok {
		return fcerr.New(fcerr.SensorMissing, op, "%s meter type is none", kind)
	}
	return nil
}

// Scale returns vbat_scale for voltage and the normalized gain of
// current_meter_scale for current.
func (d *Driver) Scale(kind types.SensorKind) (float64, error) {
	if err := d.requirePresent("scale", kind); err != nil {
		return 0, err
	}
	switch kind {
	case types.Voltage:
		v, err := d.setting("scale", settingVbatScale)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, fcerr.New(fcerr.ProtocolViolation, "scale", "zero vbat_scale")
		}
		return float64(v), nil
	default:
		v, err := d.setting("scale", settingCurrentScale)
		if err != nil {
			return 0, err
		}
		return driver.GainFromInverse("scale", currentScaleNominal, int(int16(v)))
	}
}

// Offset returns current_meter_offset in amperes.
func (d *Driver) Offset(kind types.SensorKind) (float64, error) {
	if kind == types.Voltage {
		return 0, nil
	}
	if err := d.requirePresent("offset", kind); err != nil {
		return 0, err
	}
	v, err := d.setting("offset", settingCurrentOffset)
	if err != nil {
		return 0, err
	}
	return float64(int16(v)) / 1000, nil
}

func (d *Driver) WriteScale(kind types.SensorKind, scale float64) error {
	logrus.Tracef("inav WriteScale(%s, %g) called", kind, scale)

	if err := d.requirePresent("write scale", kind); err != nil {
		return err
	}
	switch kind {
	case types.Voltage:
		reg, err := driver.ProportionalRegister("write scale", scale, vbatScaleMin, vbatScaleMax)
		if err != nil {
			return err
		}
		return d.setSetting("write scale", settingVbatScale, uint16(reg))
	default:
		reg, err := driver.InverseFromGain("write scale", currentScaleNominal, scale, currentScaleMin, currentScaleMax)
		if err != nil {
			return err
		}
		return d.setSetting("write scale", settingCurrentScale, uint16(int16(reg)))
	}
}

func (d *Driver) SaveSettings() error {
	logrus.Tracef("inav SaveSettings called")

	_, err := d.exchange("save settings", msp.MSPEepromWrite, nil)
	return err
}

func (d *Driver) Reboot() error {
	logrus.Tracef("inav Reboot called")

	_, err := d.exchange("reboot", msp.MSPReboot, nil)
	return err
}
