// Package fc is the single entry point for talking to a flight controller.
// A Handle picks one firmware dialect for its lifetime and forwards every
// capability call to it, tracking whether configuration changed since the
// last save.
package fc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/driver"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

// Handle owns the transport and the selected driver.
type Handle struct {
	t      *transport.Transport
	driver driver.Driver

	mu    sync.Mutex
	dirty bool
}

func newHandle(t *transport.Transport, d driver.Driver) *Handle {
	return &Handle{t: t, driver: d}
}

// Dialect returns the selected firmware dialect name.
func (h *Handle) Dialect() string {
	return h.driver.Name()
}

// Device returns the serial device path, if known.
func (h *Handle) Device() string {
	return h.t.Device()
}

// NeedsReboot reports whether configuration changed since the last
// successful save.
func (h *Handle) NeedsReboot() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

func (h *Handle) setDirty(v bool) {
	h.mu.Lock()
	h.dirty = v
	h.mu.Unlock()
}

func (h *Handle) SensorPresent(kind types.SensorKind) (bool, error) {
	return h.driver.SensorPresent(kind)
}

func (h *Handle) SensorEnabled(kind types.SensorKind) (bool, error) {
	return h.driver.SensorEnabled(kind)
}

func (h *Handle) EnableSensor(kind types.SensorKind) error {
	if err := h.driver.EnableSensor(kind); err != nil {
		return err
	}
	logrus.WithField("sensor", kind).Info("sensor enabled")
	h.setDirty(true)
	return nil
}

func (h *Handle) Sample() (float64, float64, error) {
	return h.driver.Sample()
}

func (h *Handle) Scale(kind types.SensorKind) (float64, error) {
	return h.driver.Scale(kind)
}

func (h *Handle) Offset(kind types.SensorKind) (float64, error) {
	return h.driver.Offset(kind)
}

func (h *Handle) WriteScale(kind types.SensorKind, scale float64) error {
	if err := h.driver.WriteScale(kind, scale); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"sensor": kind,
		"scale":  scale,
	}).Info("scale written")
	h.setDirty(true)
	return nil
}

// SaveSettings persists the configuration. It is sent even when nothing
// changed.
func (h *Handle) SaveSettings() error {
	if err := h.driver.SaveSettings(); err != nil {
		return err
	}
	logrus.Info("settings saved")
	h.setDirty(false)
	return nil
}

// Reboot restarts the board. The handle must only be closed afterwards.
func (h *Handle) Reboot() error {
	if err := h.driver.Reboot(); err != nil {
		return err
	}
	logrus.Info("reboot requested")
	return nil
}

// SensorState reads a fresh snapshot of one sensor. Scale and offset are
// only queried when the sensor is present.
func (h *Handle) SensorState(kind types.SensorKind) (types.SensorState, error) {
	st := types.SensorState{Kind: kind}

	var err error
	st.Present, err = h.driver.SensorPresent(kind)
	if err != nil {
		return st, err
	}
	if !st.Present {
		return st, nil
	}
	st.Enabled, err = h.driver.SensorEnabled(kind)
	if err != nil {
		return st, err
	}
	st.Scale, err = h.driver.Scale(kind)
	if err != nil {
		return st, err
	}
	st.Offset, err = h.driver.Offset(kind)
	if err != nil {
		return st, err
	}
	return st, nil
}

// Close releases the serial link.
func (h *Handle) Close() error {
	return h.t.Close()
}
