package topic

import "errors"

// Domain-specific errors for topic operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPublisherClosed is returned when publishing through a closed publisher.
	ErrPublisherClosed = errors.New("topic: publisher closed")

	// ErrInvalidRate is returned when an auto-repeat interval is not positive.
	ErrInvalidRate = errors.New("topic: repeat interval must be positive")

	// ErrInvalidTopicName is returned when settings carry an empty topic name.
	ErrInvalidTopicName = errors.New("topic: name cannot be empty")
)
