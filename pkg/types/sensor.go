package types

import (
	"fmt"
	"strings"
)

// SensorKind selects one of the two analog power sensors of a flight controller.
type SensorKind string

const (
	Voltage SensorKind = "voltage"
	Current SensorKind = "current"
)

// SensorKinds lists every kind in display order.
var SensorKinds = []SensorKind{Voltage, Current}

// Unit returns the physical unit readings of this kind are reported in.
func (k SensorKind) Unit() string {
	switch k {
	case Voltage:
		return "V"
	case Current:
		return "A"
	default:
		return "?"
	}
}

// ParseSensorKind accepts "voltage"/"v"/"vbat" and "current"/"c"/"amperage".
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voltage", "v", "vbat":
		return Voltage, nil
	case "current", "c", "a", "amperage":
		return Current, nil
	default:
		return "", fmt.Errorf("unknown sensor %q, expected voltage or current", s)
	}
}

// SensorState is a snapshot of one sensor as reported by the flight controller.
// Scale is expressed as a gain: readings are proportional to it.
type SensorState struct {
	Kind    SensorKind `json:"kind"`
	Present bool       `json:"present"`
	Enabled bool       `json:"enabled"`
	Scale   float64    `json:"scale"`
	Offset  float64    `json:"offset"`
}
