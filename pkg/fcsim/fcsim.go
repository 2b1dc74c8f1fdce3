// Package fcsim simulates the MSP side of Betaflight and INAV boards so
// drivers and the calibration flow can be tested without hardware.
package fcsim

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/sigurn/crc8"

	"github.com/powercal/powercal/pkg/msp"
	"github.com/powercal/powercal/pkg/transport/transporttest"
)

// Firmware selects which variant the simulated board reports.
type Firmware string

const (
	Betaflight Firmware = msp.VariantBetaflight
	INAV       Firmware = msp.VariantINAV
)

// Firmware defaults.
const (
	BetaflightVbatScale = 110
	INAVVbatScale       = 1100
	CurrentScaleNominal = 400
)

// INAV feature bits.
const (
	FeatureVbat         = 1 << 1
	FeatureCurrentMeter = 1 << 11
)

var dvbS2 = crc8.MakeTable(crc8.CRC8_DVB_S2)

// Board is a simulated flight controller. True values are what a reference
// meter would read; the board reports them distorted by its scale registers
// relative to the firmware default.
type Board struct {
	mu sync.Mutex

	Firmware Firmware

	TrueVoltage float64
	TrueCurrent float64

	VoltagePresent bool
	CurrentPresent bool
	VoltageEnabled bool
	CurrentEnabled bool

	VbatScale     int
	CurrentScale  int
	CurrentOffset int // mA

	// Silent makes the board ignore every request.
	Silent bool
	// LegacyAnalog makes Betaflight MSP_ANALOG omit the 0.01 V field.
	LegacyAnalog bool
	// BogusMeterType makes present meters report a type no firmware defines.
	BogusMeterType bool

	saved    int
	reboots  int
	commands []uint16
}

// New returns a board with both sensors present and enabled and factory
// default scales.
func New(fw Firmware) *Board {
	b := &Board{
		Firmware:       fw,
		TrueVoltage:    12.0,
		TrueCurrent:    1.0,
		VoltagePresent: true,
		CurrentPresent: true,
		VoltageEnabled: true,
		CurrentEnabled: true,
		CurrentScale:   CurrentScaleNominal,
	}
	b.VbatScale = b.DefaultVbatScale()
	return b
}

// Port returns a fake serial port wired to the board.
func (b *Board) Port() *transporttest.Port {
	return transporttest.NewPort(b.Respond)
}

func (b *Board) DefaultVbatScale() int {
	if b.Firmware == INAV {
		return INAVVbatScale
	}
	return BetaflightVbatScale
}

// ReportedVoltage is what the board currently measures.
func (b *Board) ReportedVoltage() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reportedVoltage()
}

// ReportedCurrent is what the board currently measures.
func (b *Board) ReportedCurrent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reportedCurrent()
}

func (b *Board) reportedVoltage() float64 {
	if !b.VoltagePresent || !b.VoltageEnabled {
		return 0
	}
	return b.TrueVoltage * float64(b.VbatScale) / float64(b.DefaultVbatScale())
}

func (b *Board) reportedCurrent() float64 {
	if !b.CurrentPresent || !b.CurrentEnabled || b.CurrentScale == 0 {
		return 0
	}
	return b.TrueCurrent*CurrentScaleNominal/float64(b.CurrentScale) + float64(b.CurrentOffset)/1000
}

// Saves returns how many times settings were written to EEPROM.
func (b *Board) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saved
}

// Reboots returns how many reboot requests were received.
func (b *Board) Reboots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reboots
}

// Commands returns the command ids received, in order.
func (b *Board) Commands() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint16(nil), b.commands...)
}

// Respond parses one request frame and returns the reply frame, or nil if
// the board stays silent.
func (b *Board) Respond(req []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Silent {
		return nil
	}

	cmd, payload, v2, ok := parseRequest(req)
	if !ok {
		return nil
	}
	b.commands = append(b.commands, cmd)

	reply, ok := b.handle(cmd, payload)
	if v2 {
		return v2Frame(cmd, reply, ok)
	}
	return v1Frame(cmd, reply, ok)
}

func (b *Board) handle(cmd uint16, payload []byte) ([]byte, bool) {
	switch cmd {
	case msp.MSPFCVariant:
		return []byte(b.Firmware), true
	case msp.MSPEepromWrite:
		b.saved++
		return nil, true
	case msp.MSPReboot:
		b.reboots++
		return nil, true
	}

	if b.Firmware == INAV {
		return b.handleINAV(cmd, payload)
	}
	return b.handleBetaflight(cmd, payload)
}

func (b *Board) handleBetaflight(cmd uint16, payload []byte) ([]byte, bool) {
	switch cmd {
	case msp.MSPBatteryConfig:
		vs, cs := byte(0), byte(2) // none, virtual
		if b.VoltageEnabled {
			vs = 1
		}
		if b.CurrentEnabled {
			cs = 1
		}
		// min, max, warning cell voltage (0.1 V), capacity u16, sources.
		return []byte{33, 43, 35, 0x00, 0x00, vs, cs}, true

	case msp.MSPSetBatteryConfig:
		if len(payload) < 7 {
			return nil, false
		}
		b.VoltageEnabled = payload[5] == 1
		b.CurrentEnabled = payload[6] == 1
		return nil, true

	case msp.MSPVoltageMeterConfig:
		w := msp.NewWriter()
		if b.VoltagePresent {
			w.U8(1).U8(5).U8(10).U8(b.meterType(0)).U8(uint8(b.VbatScale)).U8(10).U8(1)
		} else {
			w.U8(0)
		}
		return w.Bytes(), true

	case msp.MSPSetVoltageMeterConfig:
		if len(payload) < 4 || payload[0] != 10 || !b.VoltagePresent {
			return nil, false
		}
		b.VbatScale = int(payload[1])
		return nil, true

	case msp.MSPCurrentMeterConfig:
		w := msp.NewWriter()
		if b.CurrentPresent {
			w.U8(2)
			w.U8(6).U8(10).U8(b.meterType(1)).I16(int16(b.CurrentScale)).I16(int16(b.CurrentOffset))
		} else {
			w.U8(1)
		}
		// The virtual meter is always listed.
		w.U8(6).U8(80).U8(0).I16(0).I16(0)
		return w.Bytes(), true

	case msp.MSPSetCurrentMeterConfig:
		if len(payload) < 5 || payload[0] != 10 || !b.CurrentPresent {
			return nil, false
		}
		r := msp.NewReader(payload[1:])
		b.CurrentScale = int(r.I16())
		b.CurrentOffset = int(r.I16())
		return nil, true

	case msp.MSPAnalog:
		v := b.reportedVoltage()
		w := msp.NewWriter().
			U8(uint8(math.Round(v * 10))).
			U16(0).
			U16(0).
			I16(int16(math.Round(b.reportedCurrent() * 100)))
		if !b.LegacyAnalog {
			w.U16(uint16(math.Round(v * 100)))
		}
		return w.Bytes(), true
	}
	return nil, false
}

func (b *Board) features() uint32 {
	var f uint32
	if b.VoltageEnabled {
		f |= FeatureVbat
	}
	if b.CurrentEnabled {
		f |= FeatureCurrentMeter
	}
	return f
}

func (b *Board) handleINAV(cmd uint16, payload []byte) ([]byte, bool) {
	switch cmd {
	case msp.MSPFeatureConfig:
		return msp.NewWriter().U32(b.features()).Bytes(), true

	case msp.MSPSetFeatureConfig:
		if len(payload) < 4 {
			return nil, false
		}
		f := binary.LittleEndian.Uint32(payload)
		b.VoltageEnabled = f&FeatureVbat != 0
		b.CurrentEnabled = f&FeatureCurrentMeter != 0
		return nil, true

	case msp.MSP2CommonSetting:
		name, _ := cstring(payload)
		switch name {
		case "vbat_meter_type":
			return []byte{b.presentMeterType(b.VoltagePresent)}, true
		case "current_meter_type":
			return []byte{b.presentMeterType(b.CurrentPresent)}, true
		case "vbat_scale":
			return msp.NewWriter().U16(uint16(b.VbatScale)).Bytes(), true
		case "current_meter_scale":
			return msp.NewWriter().I16(int16(b.CurrentScale)).Bytes(), true
		case "current_meter_offset":
			return msp.NewWriter().I16(int16(b.CurrentOffset)).Bytes(), true
		}
		return nil, false

	case msp.MSP2CommonSetSetting:
		name, value := cstring(payload)
		if len(value) < 2 {
			return nil, false
		}
		v := binary.LittleEndian.Uint16(value)
		switch name {
		case "vbat_scale":
			b.VbatScale = int(v)
		case "current_meter_scale":
			b.CurrentScale = int(int16(v))
		case "current_meter_offset":
			b.CurrentOffset = int(int16(v))
		default:
			return nil, false
		}
		return nil, true

	case msp.MSP2INAVAnalog:
		return msp.NewWriter().
			U8(0).
			U16(uint16(math.Round(b.reportedVoltage() * 100))).
			I16(int16(math.Round(b.reportedCurrent() * 100))).
			U32(0). // power
			U32(0). // mAh drawn
			U32(0). // mWh drawn
			U32(0). // remaining capacity
			U8(0).  // percentage
			U16(0). // rssi
			Bytes(), true
	}
	return nil, false
}

const bogusMeterType = 42

func (b *Board) meterType(def uint8) uint8 {
	if b.BogusMeterType {
		return bogusMeterType
	}
	return def
}

// presentMeterType is the INAV meter type setting: none or ADC.
func (b *Board) presentMeterType(present bool) byte {
	if !present {
		return 0
	}
	return b.meterType(1)
}

func cstring(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}

func parseRequest(req []byte) (cmd uint16, payload []byte, v2 bool, ok bool) {
	if len(req) < 6 || req[0] != '$' || req[2] != '<' {
		return 0, nil, false, false
	}
	switch req[1] {
	case 'M':
		size := int(req[3])
		if len(req) < 6+size {
			return 0, nil, false, false
		}
		return uint16(req[4]), req[5 : 5+size], false, true
	case 'X':
		if len(req) < 9 {
			return 0, nil, false, false
		}
		cmd = binary.LittleEndian.Uint16(req[4:6])
		size := int(binary.LittleEndian.Uint16(req[6:8]))
		if len(req) < 9+size {
			return 0, nil, false, false
		}
		return cmd, req[8 : 8+size], true, true
	}
	return 0, nil, false, false
}

func direction(ok bool) byte {
	if ok {
		return '>'
	}
	return '!'
}

func v1Frame(cmd uint16, payload []byte, ok bool) []byte {
	if !ok {
		payload = nil
	}
	b := []byte{'$', 'M', direction(ok), byte(len(payload)), byte(cmd)}
	b = append(b, payload...)
	var x byte
	for _, c := range b[3:] {
		x ^= c
	}
	return append(b, x)
}

func v2Frame(cmd uint16, payload []byte, ok bool) []byte {
	if !ok {
		payload = nil
	}
	b := []byte{'$', 'X', direction(ok), 0}
	b = binary.LittleEndian.AppendUint16(b, cmd)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	b = append(b, payload...)
	return append(b, crc8.Checksum(b[3:], dvbS2))
}
