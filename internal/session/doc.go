// Package session is the owner-facing surface of the broker layer.
//
// A Session ties the connection registry and the topic cache together
// and hands out per-owner handles: a ConnectionHandle for observing and
// releasing a shared connection, and Publisher/Subscriber handles for
// shared topics. Every handle mints its own owner identity, so callers
// never coordinate reference counting themselves.
//
// Misuse (empty URL, released handle, nil callback) is reported through
// sentinel error returns. Broker-side failures never surface here; they
// reach owners through the observers they register.
package session
