package fc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/driver"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/fcsim"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/transport/transporttest"
	"github.com/powercal/powercal/pkg/types"
)

// fakeDriver answers probes from a fixed script and records calls.
type fakeDriver struct {
	name     string
	probes   []error
	match    bool
	calls    int
	failNext error
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) Probe() (bool, error) {
	f.calls++
	if len(f.probes) > 0 {
		err := f.probes[0]
		f.probes = f.probes[1:]
		if err != nil {
			return false, err
		}
	}
	return f.match, nil
}

func (f *fakeDriver) take() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeDriver) SensorPresent(types.SensorKind) (bool, error) { return true, nil }
func (f *fakeDriver) SensorEnabled(types.SensorKind) (bool, error) { return true, nil }
func (f *fakeDriver) EnableSensor(types.SensorKind) error          { return f.take() }
func (f *fakeDriver) Sample() (float64, float64, error)            { return 12, 1, nil }
func (f *fakeDriver) Scale(types.SensorKind) (float64, error)      { return 1, nil }
func (f *fakeDriver) Offset(types.SensorKind) (float64, error)     { return 0, nil }
func (f *fakeDriver) WriteScale(types.SensorKind, float64) error   { return f.take() }
func (f *fakeDriver) SaveSettings() error                          { return f.take() }
func (f *fakeDriver) Reboot() error                                { return nil }

func dialectOf(d *fakeDriver) driver.Dialect {
	return driver.Dialect{Name: d.name, New: func(*transport.Transport) driver.Driver { return d }}
}

func newTransport(t *testing.T, port transport.Port) *transport.Transport {
	t.Helper()
	tr := transport.New(port, 50*time.Millisecond)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestAutodetectPriority(t *testing.T) {
	tr := newTransport(t, transporttest.NewPort(nil))

	for i := 0; i < 3; i++ {
		a := &fakeDriver{name: "a", match: true}
		b := &fakeDriver{name: "b", match: false}
		h, err := Autodetect(tr, []driver.Dialect{dialectOf(a), dialectOf(b)}, 0)
		require.NoError(t, err)
		assert.Equal(t, "a", h.Dialect())
		assert.Zero(t, b.calls)
	}

	a := &fakeDriver{name: "a", match: false}
	b := &fakeDriver{name: "b", match: true}
	h, err := Autodetect(tr, []driver.Dialect{dialectOf(a), dialectOf(b)}, 0)
	require.NoError(t, err)
	assert.Equal(t, "b", h.Dialect())
}

func TestAutodetectNoneMatch(t *testing.T) {
	tr := newTransport(t, transporttest.NewPort(nil))

	a := &fakeDriver{name: "a"}
	b := &fakeDriver{name: "b"}
	_, err := Autodetect(tr, []driver.Dialect{dialectOf(a), dialectOf(b)}, 2)
	assert.True(t, errors.Is(err, fcerr.AutodetectFailed))
	assert.Contains(t, err.Error(), "a, b")
}

func TestAutodetectRetriesOnlyTimeouts(t *testing.T) {
	tr := newTransport(t, transporttest.NewPort(nil))

	a := &fakeDriver{name: "a", match: true, probes: []error{fcerr.IOTimeout, fcerr.IOTimeout}}
	h, err := Autodetect(tr, []driver.Dialect{dialectOf(a)}, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", h.Dialect())
	assert.Equal(t, 3, a.calls)

	// Out of retries: counts as not matching.
	a = &fakeDriver{name: "a", match: true, probes: []error{fcerr.IOTimeout, fcerr.IOTimeout}}
	_, err = Autodetect(tr, []driver.Dialect{dialectOf(a)}, 1)
	assert.Equal(t, fcerr.AutodetectFailed, fcerr.Of(err))
	assert.Equal(t, 2, a.calls)

	// Link errors abort immediately.
	a = &fakeDriver{name: "a", probes: []error{&fcerr.E{C: fcerr.IOError, Op: "read"}}}
	b := &fakeDriver{name: "b", match: true}
	_, err = Autodetect(tr, []driver.Dialect{dialectOf(a), dialectOf(b)}, 2)
	assert.Equal(t, fcerr.IOError, fcerr.Of(err))
	assert.Equal(t, 1, a.calls)
	assert.Zero(t, b.calls)
}

func TestAutodetectSimulatedBoards(t *testing.T) {
	for _, fw := range []fcsim.Firmware{fcsim.Betaflight, fcsim.INAV} {
		t.Run(string(fw), func(t *testing.T) {
			board := fcsim.New(fw)
			h, err := Open(newTransport(t, board.Port()), DialectAuto, DefaultProbeRetries)
			require.NoError(t, err)

			want := "betaflight"
			if fw == fcsim.INAV {
				want = "inav"
			}
			assert.Equal(t, want, h.Dialect())
		})
	}
}

func TestAutodetectSilentBoard(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.Silent = true

	done := make(chan error, 1)
	go func() {
		_, err := Open(newTransport(t, board.Port()), DialectAuto, 1)
		done <- err
	}()

	select {
	case err := <-done:
		assert.Equal(t, fcerr.AutodetectFailed, fcerr.Of(err))
	case <-time.After(5 * time.Second):
		t.Fatal("autodetect hung on a silent board")
	}
}

func TestOpenOverride(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	tr := newTransport(t, board.Port())

	h, err := Open(tr, "inav", 0)
	require.NoError(t, err)
	assert.Equal(t, "inav", h.Dialect())
	// No probe was sent.
	assert.Empty(t, board.Commands())

	_, err = Open(tr, "cleanflight", 0)
	assert.Equal(t, fcerr.Unsupported, fcerr.Of(err))
}

func TestDirtyFlag(t *testing.T) {
	d := &fakeDriver{name: "a"}
	h := newHandle(newTransport(t, transporttest.NewPort(nil)), d)

	assert.False(t, h.NeedsReboot())

	require.NoError(t, h.SaveSettings())
	assert.False(t, h.NeedsReboot())

	require.NoError(t, h.EnableSensor(types.Voltage))
	assert.True(t, h.NeedsReboot())

	require.NoError(t, h.SaveSettings())
	assert.False(t, h.NeedsReboot())

	require.NoError(t, h.WriteScale(types.Current, 1.2))
	assert.True(t, h.NeedsReboot())

	// A failed save keeps the flag.
	d.failNext = fcerr.IOTimeout
	assert.Error(t, h.SaveSettings())
	assert.True(t, h.NeedsReboot())

	require.NoError(t, h.SaveSettings())
	assert.False(t, h.NeedsReboot())

	// A failed mutation does not set it.
	d.failNext = fcerr.IOTimeout
	assert.Error(t, h.WriteScale(types.Voltage, 1))
	assert.False(t, h.NeedsReboot())
}

func TestSensorState(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	board.CurrentPresent = false
	board.CurrentOffset = 10
	h, err := Open(newTransport(t, board.Port()), "inav", 0)
	require.NoError(t, err)

	st, err := h.SensorState(types.Voltage)
	require.NoError(t, err)
	assert.Equal(t, types.SensorState{Kind: types.Voltage, Present: true, Enabled: true, Scale: 1100}, st)

	st, err = h.SensorState(types.Current)
	require.NoError(t, err)
	assert.Equal(t, types.SensorState{Kind: types.Current}, st)
}

func TestClose(t *testing.T) {
	port := transporttest.NewPort(nil)
	h := newHandle(transport.New(port, time.Second), &fakeDriver{name: "a"})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, port.Closed())
	assert.Zero(t, port.CloseErrs)
}
