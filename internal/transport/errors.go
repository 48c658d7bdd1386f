package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when sending on a transport that has no
	// live broker connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned when connecting through a transport that was
	// permanently closed.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidTopic is returned when an empty topic name is provided.
	ErrInvalidTopic = errors.New("transport: topic cannot be empty")

	// ErrEncode is returned when a payload cannot be encoded for the wire.
	ErrEncode = errors.New("transport: payload encoding failed")
)
