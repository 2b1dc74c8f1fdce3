// Package transport exchanges request/response frames with a flight
// controller over a serial link. It owns the port, serializes every exchange
// and bounds each response by a read timeout. It never retries: whether a
// command may be re-issued is decided by the caller.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/fcerr"
)

const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Second
)

// Port is the subset of go.bug.st/serial.Port used by Transport.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Frame is one logical request or response. Error is set on responses the
// firmware flagged as failed (unknown or rejected command).
type Frame struct {
	Command uint16
	Payload []byte
	Error   bool
}

// Codec turns frames into bytes and back. Each firmware dialect brings its own.
// Decode reads exactly one response to req from r; errors returned by r must be
// passed through unchanged.
type Codec interface {
	Encode(req Frame) ([]byte, error)
	Decode(r io.Reader, req Frame) (Frame, error)
}

// Transport is a serial link to one flight controller.
type Transport struct {
	port    Port
	device  string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// New wraps an already opened port.
func New(port Port, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{
		port:    port,
		timeout: timeout,
	}
}

// Device returns the device path the transport was opened on, if known.
func (t *Transport) Device() string {
	return t.device
}

// Timeout returns the per-exchange response timeout.
func (t *Transport) Timeout() time.Duration {
	return t.timeout
}

// SendAndReceive writes req and waits for the matching response.
//
// Errors carry one of fcerr.IOTimeout, fcerr.IOError or
// fcerr.ProtocolViolation (framing, checksum or length errors).
func (t *Transport) SendAndReceive(req Frame, codec Codec) (Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Frame{}, fcerr.New(fcerr.IOError, "send", "transport closed")
	}

	b, err := codec.Encode(req)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "failed to encode command %d", req.Command)
	}

	logrus.WithFields(logrus.Fields{
		"cmd": req.Command,
		"len": len(req.Payload),
	}).Trace("Trying to send frame")

	// Stale bytes from an earlier timed out exchange would be read as the
	// start of this response.
	if err := t.port.ResetInputBuffer(); err != nil {
		return Frame{}, fcerr.Wrap(fcerr.IOError, "reset input", err)
	}

	if _, err := t.port.Write(b); err != nil {
		return Frame{}, fcerr.Wrap(fcerr.IOError, "write", err)
	}

	r := &deadlineReader{
		port:     t.port,
		deadline: time.Now().Add(t.timeout),
	}
	resp, err := codec.Decode(r, req)
	if err != nil {
		switch fcerr.Of(err) {
		case fcerr.IOTimeout, fcerr.IOError:
			return Frame{}, errors.Wrapf(err, "command %d", req.Command)
		default:
			return Frame{}, fcerr.Wrap(fcerr.ProtocolViolation, "decode", errors.Wrapf(err, "command %d", req.Command))
		}
	}

	logrus.WithFields(logrus.Fields{
		"cmd":   resp.Command,
		"len":   len(resp.Payload),
		"error": resp.Error,
	}).Trace("Receive frame succeed")

	return resp, nil
}

// Close releases the port. Calling it more than once is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fcerr.Wrap(fcerr.IOError, "close", err)
	}
	return nil
}

// deadlineReader reads from port until an absolute deadline.
// A serial read that times out returns (0, nil); that is retried until the
// deadline passes and then reported as fcerr.IOTimeout.
type deadlineReader struct {
	port     Port
	deadline time.Time
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		remaining := time.Until(d.deadline)
		if remaining <= 0 {
			return 0, fcerr.IOTimeout
		}
		if err := d.port.SetReadTimeout(remaining); err != nil {
			return 0, fcerr.Wrap(fcerr.IOError, "set read timeout", err)
		}
		n, err := d.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, fcerr.Wrap(fcerr.IOError, "read", err)
		}
	}
}
