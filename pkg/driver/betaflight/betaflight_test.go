package betaflight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/fcsim"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

func newDriver(t *testing.T, board *fcsim.Board) *Driver {
	t.Helper()
	tr := transport.New(board.Port(), 100*time.Millisecond)
	t.Cleanup(func() { _ = tr.Close() })
	return New(tr)
}

func TestProbe(t *testing.T) {
	ok, err := newDriver(t, fcsim.New(fcsim.Betaflight)).Probe()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = newDriver(t, fcsim.New(fcsim.INAV)).Probe()
	require.NoError(t, err)
	assert.False(t, ok)

	silent := fcsim.New(fcsim.Betaflight)
	silent.Silent = true
	ok, err = newDriver(t, silent).Probe()
	assert.Equal(t, fcerr.IOTimeout, fcerr.Of(err))
	assert.False(t, ok)
}

func TestSensorPresence(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.CurrentPresent = false
	d := newDriver(t, board)

	ok, err := d.SensorPresent(types.Voltage)
	require.NoError(t, err)
	assert.True(t, ok)

	// Only the virtual meter is listed.
	ok, err = d.SensorPresent(types.Current)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Scale(types.Current)
	assert.Equal(t, fcerr.SensorMissing, fcerr.Of(err))
}

func TestUnknownMeterType(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.BogusMeterType = true
	d := newDriver(t, board)

	for _, kind := range types.SensorKinds {
		_, err := d.SensorPresent(kind)
		assert.Equal(t, fcerr.ProtocolViolation, fcerr.Of(err), kind)
	}

	err := d.WriteScale(types.Voltage, 110)
	assert.Equal(t, fcerr.ProtocolViolation, fcerr.Of(err))
	assert.Equal(t, fcsim.BetaflightVbatScale, board.VbatScale)
}

func TestEnableSensor(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.CurrentEnabled = false
	d := newDriver(t, board)

	ok, err := d.SensorEnabled(types.Current)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.EnableSensor(types.Current))

	ok, err = d.SensorEnabled(types.Current)
	require.NoError(t, err)
	assert.True(t, ok)

	// The voltage source is left alone.
	ok, err = d.SensorEnabled(types.Voltage)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSample(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.TrueVoltage = 16.8
	board.TrueCurrent = 2.5
	d := newDriver(t, board)

	v, c, err := d.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 16.8, v, 0.001)
	assert.InDelta(t, 2.5, c, 0.001)

	board.LegacyAnalog = true
	v, _, err = d.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 16.8, v, 0.001)
}

func TestScales(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.CurrentScale = 200
	board.CurrentOffset = -150
	d := newDriver(t, board)

	s, err := d.Scale(types.Voltage)
	require.NoError(t, err)
	assert.Equal(t, 110.0, s)

	s, err = d.Scale(types.Current)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, s, 1e-9)

	o, err := d.Offset(types.Current)
	require.NoError(t, err)
	assert.InDelta(t, -0.15, o, 1e-9)

	o, err = d.Offset(types.Voltage)
	require.NoError(t, err)
	assert.Zero(t, o)
}

func TestWriteScale(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.CurrentOffset = 20
	d := newDriver(t, board)

	require.NoError(t, d.WriteScale(types.Voltage, 119))
	assert.Equal(t, 119, board.VbatScale)

	require.NoError(t, d.WriteScale(types.Current, 1.081))
	assert.Equal(t, 370, board.CurrentScale)
	assert.Equal(t, 20, board.CurrentOffset)

	err := d.WriteScale(types.Voltage, 300)
	assert.Equal(t, fcerr.InvalidResults, fcerr.Of(err))
	assert.Equal(t, 119, board.VbatScale)
}

func TestSaveAndReboot(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	d := newDriver(t, board)

	require.NoError(t, d.SaveSettings())
	require.NoError(t, d.Reboot())
	assert.Equal(t, 1, board.Saves())
	assert.Equal(t, 1, board.Reboots())
}

func TestNotResponding(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.Silent = true
	d := newDriver(t, board)

	_, _, err := d.Sample()
	assert.Equal(t, fcerr.IOTimeout, fcerr.Of(err))
}
