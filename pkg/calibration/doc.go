// Package calibration turns a window of live readings plus an independently
// measured reference value into a new sensor scale. It contains:
//
//   - Compute: the pure statistics and acceptance checks
//   - Phase: the discrete steps of one calibration run
//   - Calibrator: the interactive run against a flight controller
//
// Scales are gains: readings are proportional to them, so a correction of
// reference/mean is applied multiplicatively to the stored gain.
package calibration
