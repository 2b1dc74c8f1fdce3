package main

import (
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/fc"
	"github.com/powercal/powercal/pkg/transport"
)

// openTransport is replaced in tests.
var openTransport = transport.OpenSerial

// openHandle opens the configured port and selects the firmware dialect.
// The caller must Close the handle.
func openHandle() (*fc.Handle, error) {
	t, err := openTransport(transport.Config{
		Device:   conf.Port(),
		BaudRate: conf.BaudRate(),
		Timeout:  conf.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	h, err := fc.Open(t, conf.Dialect(), conf.ProbeRetries())
	if err != nil {
		if cerr := t.Close(); cerr != nil {
			logrus.Warnf("failed to close %s: %v", conf.Port(), cerr)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"port":    conf.Port(),
		"dialect": h.Dialect(),
	}).Debug("flight controller connected")
	return h, nil
}

func closeHandle(h *fc.Handle) {
	if err := h.Close(); err != nil {
		logrus.Warnf("failed to close %s: %v", h.Device(), err)
	}
}
