package events

import "encoding/json"

// Event name constants
const (
	Sample           = "sample"
	CalibrationPhase = "calibration.phase"
)

// Event is a generic SSE event published on the hub.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// SampleEvent is the typed payload for sample.
type SampleEvent struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Ts      int64   `json:"ts"`
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	Sensor  string `json:"sensor"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.SampleEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Voltage, payload.Current)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
