package config

import "time"

type Config interface {
	Port() string
	BaudRate() int
	Timeout() time.Duration
	ProbeRetries() int
	Dialect() string
	Duration() time.Duration
	Interval() time.Duration
	MinSamples() int
	MaxRelativeSpread() float64
	MinMean() float64
	VoltageRange() [2]float64
	CurrentRange() [2]float64

	SetPort(string)
	SetBaudRate(int)
	SetTimeout(time.Duration)
	SetDialect(string)
	SetDuration(time.Duration)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
