package types

import "time"

// Sample is one simultaneous (voltage, current) reading.
type Sample struct {
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// Value returns the channel of s selected by kind.
func (s Sample) Value(kind SensorKind) float64 {
	if kind == Current {
		return s.Current
	}
	return s.Voltage
}

// Values extracts the channel selected by kind from every sample, in order.
func Values(samples []Sample, kind SensorKind) []float64 {
	ret := make([]float64, len(samples))
	for i, s := range samples {
		ret[i] = s.Value(kind)
	}
	return ret
}
