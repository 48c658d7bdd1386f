// Package connection manages shared broker connections.
//
// A Registry holds exactly one Conn per endpoint URL so unrelated
// owners of the same endpoint multiplex a single transport. Each Conn
// owns a callback table with set semantics: registering the same
// callback key twice is a silent no-op, which is what prevents
// compounding handlers when the same logical owner re-registers across
// retries or remounts. The underlying transport receives exactly one
// handler per event regardless of how many owners register.
//
// Connection and authentication failures are never returned to callers.
// They surface through the registered state callbacks and, when
// auto-connect is enabled, through the reconnect loop: a fixed delay
// after every error event, retried indefinitely until the connection
// becomes dormant (no registered callbacks) or an attempt succeeds.
//
// All timers go through a clock.Clock so tests control time.
package connection
