package transport

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/powercal/powercal/pkg/fcerr"
)

// Config describes how to open the serial link.
type Config struct {
	Device   string
	BaudRate int
	Timeout  time.Duration
}

// OpenSerial opens cfg.Device as 8N1 at cfg.BaudRate.
// A device held by another process is reported as fcerr.DeviceBusy.
func OpenSerial(cfg Config) (*Transport, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, classifyOpenError(cfg.Device, err)
	}

	logrus.WithFields(logrus.Fields{
		"device":   cfg.Device,
		"baudRate": cfg.BaudRate,
	}).Debug("serial port opened")

	t := New(port, cfg.Timeout)
	t.device = cfg.Device
	return t, nil
}

func classifyOpenError(device string, err error) error {
	if pe, ok := err.(*serial.PortError); ok && pe.Code() == serial.PortBusy {
		return &fcerr.E{C: fcerr.DeviceBusy, Op: "open " + device, Err: err}
	}
	return &fcerr.E{C: fcerr.IOError, Op: "open " + device, Err: err}
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fcerr.Wrap(fcerr.IOError, "list ports", err)
	}
	return ports, nil
}
