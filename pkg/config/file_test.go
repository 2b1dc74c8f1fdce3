package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/types"
	"github.com/powercal/powercal/pkg/utils/ptr"
)

func TestDefaults(t *testing.T) {
	for _, content := range []string{"", "  \n", "{}"} {
		path := filepath.Join(t.TempDir(), "powercal.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		f, err := NewFile(path)
		require.NoError(t, err)

		assert.Equal(t, "/dev/ttyACM0", f.Port())
		assert.Equal(t, 115200, f.BaudRate())
		assert.Equal(t, time.Second, f.Timeout())
		assert.Equal(t, 2, f.ProbeRetries())
		assert.Equal(t, "auto", f.Dialect())
		assert.Equal(t, 5*time.Second, f.Duration())
		assert.Equal(t, 200*time.Millisecond, f.Interval())
		assert.Equal(t, 10, f.MinSamples())
		assert.Equal(t, 0.05, f.MaxRelativeSpread())
		assert.Equal(t, 0.01, f.MinMean())
		assert.Equal(t, [2]float64{0.5, 60}, f.VoltageRange())
		assert.Equal(t, [2]float64{0.05, 300}, f.CurrentRange())
	}
}

func TestMissingFile(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "auto", f.Dialect())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powercal.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "/dev/ttyUSB1", "baudRate": 57600, "durationSeconds": 10, "currentRange": [0.1, 120]}`), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", f.Port())
	assert.Equal(t, 57600, f.BaudRate())
	assert.Equal(t, 10*time.Second, f.Duration())
	assert.Equal(t, [2]float64{0.1, 120}, f.CurrentRange())

	opts := f.CalibrationOptions()
	assert.Equal(t, 10, opts.MinSamples)
	assert.Equal(t, [2]float64{0.1, 120}, opts.ReferenceRange[types.Current])
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"bad json":       `{"port": `,
		"zero baud":      `{"baudRate": 0}`,
		"negative retry": `{"probeRetries": -1}`,
		"inverted range": `{"voltageRange": [10, 1]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "powercal.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := NewFile(path)
			assert.Error(t, err)
		})
	}
}

func TestSettersAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "powercal.json")
	f := NewFileFromConfig(&RawFileConfig{MinSamples: ptr.To(20)}, path)

	f.SetPort("/dev/ttyACM1")
	f.SetBaudRate(230400)
	f.SetTimeout(500 * time.Millisecond)
	f.SetDialect("inav")
	f.SetDuration(8 * time.Second)
	require.NoError(t, f.Save())

	g, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", g.Port())
	assert.Equal(t, 230400, g.BaudRate())
	assert.Equal(t, 500*time.Millisecond, g.Timeout())
	assert.Equal(t, "inav", g.Dialect())
	assert.Equal(t, 8*time.Second, g.Duration())
	assert.Equal(t, 20, g.MinSamples())
	// Unset values stay unset on disk.
	assert.Equal(t, 200*time.Millisecond, g.Interval())

	assert.Panics(t, func() { f.SetBaudRate(0) })
	assert.Panics(t, func() { f.SetDuration(time.Millisecond) })
}

func TestRawFromConfig(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	assert.Equal(t, defaultFileConfig, raw)

	_, err = NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)
}
