package connection

import "errors"

// Domain-specific errors for connection management.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNilFactory is returned when a Registry is constructed without a
	// transport factory.
	ErrNilFactory = errors.New("connection: transport factory is required")
)
