package telemetry

import "errors"

// Domain-specific errors for telemetry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned by Connect when telemetry is disabled in config.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the InfluxDB server cannot be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned when writing through a closed recorder.
	ErrNotConnected = errors.New("telemetry: recorder not connected")
)
