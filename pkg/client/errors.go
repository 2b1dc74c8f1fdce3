package client

import "errors"

var (
	// ErrMonitorNotRunning is returned when nothing listens on the monitor address
	ErrMonitorNotRunning = errors.New("monitor not running")

	// ErrNotFound is returned when 404 is returned from the monitor
	ErrNotFound = errors.New("404 not found")
)
