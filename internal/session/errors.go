package session

import "errors"

var (
	// ErrNilRegistry indicates the session was built without a
	// connection registry.
	ErrNilRegistry = errors.New("session: nil connection registry")

	// ErrNilCache indicates the session was built without a topic
	// cache.
	ErrNilCache = errors.New("session: nil topic cache")

	// ErrEmptyURL indicates a connection was requested without an
	// endpoint URL.
	ErrEmptyURL = errors.New("session: empty endpoint url")

	// ErrNilProvider indicates authentication was requested without a
	// credential provider.
	ErrNilProvider = errors.New("session: nil credential provider")

	// ErrNilCallback indicates an observer or subscriber callback was
	// nil.
	ErrNilCallback = errors.New("session: nil callback")

	// ErrReleased indicates an operation on a handle after Release.
	ErrReleased = errors.New("session: handle released")
)
