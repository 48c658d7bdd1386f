// Package telemetry records operational metrics to InfluxDB.
//
// Telemetry is optional: when disabled in configuration, Connect
// returns ErrDisabled and callers run without a recorder (a nil
// *Recorder is safe to use; every write method is a no-op on nil).
//
// Recorded measurements:
//   - connection_state: one point per connection state transition
//   - topic_gauges: periodic counts of cached topics, publishers, listeners
//
// Writes are non-blocking and batched by the underlying client; write
// failures are delivered through the SetOnError callback.
package telemetry
