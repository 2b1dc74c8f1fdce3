package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/calibration"
	"github.com/powercal/powercal/pkg/types"
	"github.com/powercal/powercal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Port:              ptr.To("/dev/ttyACM0"),
		BaudRate:          ptr.To(115200),
		TimeoutMs:         ptr.To(1000),
		ProbeRetries:      ptr.To(2),
		Dialect:           ptr.To("auto"),
		DurationSeconds:   ptr.To(5),
		IntervalMs:        ptr.To(200),
		MinSamples:        ptr.To(10),
		MaxRelativeSpread: ptr.To(0.05),
		MinMean:           ptr.To(0.01),
		VoltageRange:      ptr.To([2]float64{0.5, 60}),
		CurrentRange:      ptr.To([2]float64{0.05, 300}),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields fall back to defaults.
type RawFileConfig struct {
	Port              *string     `json:"port,omitempty"`
	BaudRate          *int        `json:"baudRate,omitempty"`
	TimeoutMs         *int        `json:"timeoutMs,omitempty"`
	ProbeRetries      *int        `json:"probeRetries,omitempty"`
	Dialect           *string     `json:"dialect,omitempty"`
	DurationSeconds   *int        `json:"durationSeconds,omitempty"`
	IntervalMs        *int        `json:"intervalMs,omitempty"`
	MinSamples        *int        `json:"minSamples,omitempty"`
	MaxRelativeSpread *float64    `json:"maxRelativeSpread,omitempty"`
	MinMean           *float64    `json:"minMean,omitempty"`
	VoltageRange      *[2]float64 `json:"voltageRange,omitempty"`
	CurrentRange      *[2]float64 `json:"currentRange,omitempty"`
}

// NewRawFileConfigFromConfig captures every effective value of c.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Port:              ptr.To(c.Port()),
		BaudRate:          ptr.To(c.BaudRate()),
		TimeoutMs:         ptr.To(int(c.Timeout() / time.Millisecond)),
		ProbeRetries:      ptr.To(c.ProbeRetries()),
		Dialect:           ptr.To(c.Dialect()),
		DurationSeconds:   ptr.To(int(c.Duration() / time.Second)),
		IntervalMs:        ptr.To(int(c.Interval() / time.Millisecond)),
		MinSamples:        ptr.To(c.MinSamples()),
		MaxRelativeSpread: ptr.To(c.MaxRelativeSpread()),
		MinMean:           ptr.To(c.MinMean()),
		VoltageRange:      ptr.To(c.VoltageRange()),
		CurrentRange:      ptr.To(c.CurrentRange()),
	}

	return rawConfig, nil
}

// get returns *v, or *def when v is unset.
func get[T any](f *File, v func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if p := v(f.c); p != nil {
		return *p
	}
	return *v(defaultFileConfig)
}

func (f *File) Port() string {
	return get(f, func(c *RawFileConfig) *string { return c.Port })
}

func (f *File) BaudRate() int {
	return get(f, func(c *RawFileConfig) *int { return c.BaudRate })
}

func (f *File) Timeout() time.Duration {
	return time.Duration(get(f, func(c *RawFileConfig) *int { return c.TimeoutMs })) * time.Millisecond
}

func (f *File) ProbeRetries() int {
	return get(f, func(c *RawFileConfig) *int { return c.ProbeRetries })
}

func (f *File) Dialect() string {
	return get(f, func(c *RawFileConfig) *string { return c.Dialect })
}

func (f *File) Duration() time.Duration {
	return time.Duration(get(f, func(c *RawFileConfig) *int { return c.DurationSeconds })) * time.Second
}

func (f *File) Interval() time.Duration {
	return time.Duration(get(f, func(c *RawFileConfig) *int { return c.IntervalMs })) * time.Millisecond
}

func (f *File) MinSamples() int {
	return get(f, func(c *RawFileConfig) *int { return c.MinSamples })
}

func (f *File) MaxRelativeSpread() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.MaxRelativeSpread })
}

func (f *File) MinMean() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.MinMean })
}

func (f *File) VoltageRange() [2]float64 {
	return get(f, func(c *RawFileConfig) *[2]float64 { return c.VoltageRange })
}

func (f *File) CurrentRange() [2]float64 {
	return get(f, func(c *RawFileConfig) *[2]float64 { return c.CurrentRange })
}

// CalibrationOptions builds the acceptance thresholds from the config.
func (f *File) CalibrationOptions() calibration.Options {
	return calibration.Options{
		MinSamples:        f.MinSamples(),
		MaxRelativeSpread: f.MaxRelativeSpread(),
		MinMean:           f.MinMean(),
		ReferenceRange: map[types.SensorKind][2]float64{
			types.Voltage: f.VoltageRange(),
			types.Current: f.CurrentRange(),
		},
	}
}

func (f *File) SetPort(s string) {
	if f.c == nil {
		panic("config is nil")
	}
	if s == "" {
		panic("port must not be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Port = &s
}

func (f *File) SetBaudRate(i int) {
	if f.c == nil {
		panic("config is nil")
	}
	if i <= 0 {
		panic("baud rate must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.BaudRate = &i
}

func (f *File) SetTimeout(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d <= 0 {
		panic("timeout must be positive")
	}

	ms := int(d / time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.TimeoutMs = &ms
}

func (f *File) SetDialect(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Dialect = &s
}

func (f *File) SetDuration(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d < time.Second {
		panic("duration must be at least one second")
	}

	s := int(d / time.Second)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DurationSeconds = &s
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (c *RawFileConfig) validate() error {
	positive := map[string]*int{
		"baudRate":        c.BaudRate,
		"timeoutMs":       c.TimeoutMs,
		"durationSeconds": c.DurationSeconds,
		"intervalMs":      c.IntervalMs,
		"minSamples":      c.MinSamples,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return pkgerrors.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.ProbeRetries != nil && *c.ProbeRetries < 0 {
		return pkgerrors.Errorf("probeRetries must not be negative, got %d", *c.ProbeRetries)
	}
	for name, r := range map[string]*[2]float64{"voltageRange": c.VoltageRange, "currentRange": c.CurrentRange} {
		if r != nil && (r[0] <= 0 || r[0] >= r[1]) {
			return pkgerrors.Errorf("%s must be an increasing positive pair, got %v", name, *r)
		}
	}
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(f.filepath), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", f.filepath)
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) Path() string {
	return f.filepath
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"port":              f.Port(),
		"baudRate":          f.BaudRate(),
		"timeout":           f.Timeout(),
		"probeRetries":      f.ProbeRetries(),
		"dialect":           f.Dialect(),
		"duration":          f.Duration(),
		"interval":          f.Interval(),
		"minSamples":        f.MinSamples(),
		"maxRelativeSpread": f.MaxRelativeSpread(),
		"minMean":           f.MinMean(),
		"voltageRange":      f.VoltageRange(),
		"currentRange":      f.CurrentRange(),
	}
}
