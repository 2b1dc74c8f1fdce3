// Package fcerr defines the error codes shared by the transport, the firmware
// drivers and the calibration workflow. Codes are comparable and implement
// error, so callers can use errors.Is against them directly, while *E keeps
// the operation and the underlying cause.
package fcerr

import (
	"errors"
	"fmt"
)

// Code is a stable error identifier.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// AutodetectFailed means no firmware dialect answered its probe.
	AutodetectFailed Code = "autodetect_failed"
	// ProtocolViolation means a response did not match the expected shape or range.
	ProtocolViolation Code = "protocol_violation"
	// IOTimeout means no complete response arrived within the read timeout.
	IOTimeout Code = "io_timeout"
	// IOError means the serial link is broken or unreadable.
	IOError Code = "io_error"
	// DeviceBusy means the serial device is claimed by another process.
	DeviceBusy Code = "device_busy"
	// InvalidResults means calibration data failed the sanity or fit-quality checks.
	InvalidResults Code = "invalid_results"
	// Cancelled means the user aborted an operation.
	Cancelled Code = "cancelled"
	// SensorMissing means the requested sensor is not present on the board.
	SensorMissing Code = "sensor_missing"
	// Unsupported means the request names something this build does not know.
	Unsupported Code = "unsupported"

	Error Code = "error"
)

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

// Is lets errors.Is(err, fcerr.IOTimeout) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

func (e *E) Code() Code { return e.C }

// New returns an *E for op with a formatted message.
func New(c Code, op string, format string, args ...any) error {
	return &E{C: c, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *E for op carrying err as its cause. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(Code); ok {
			return c
		}
		if x, ok := e.(coder); ok {
			return x.Code()
		}
	}
	return Error
}
