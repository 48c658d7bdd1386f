// Package transport defines the duplex broker connection contract and
// its concrete implementations.
//
// A Transport is an abstract connection to one pub/sub broker endpoint:
// connect, fire-and-forget sends (publish, advertise, subscribe,
// authenticate), idempotent close, and callback registration for the
// three connection events (connection, close, error) plus per-topic
// inbound messages.
//
// Two implementations are provided:
//   - WS: a text-protocol connection over a websocket (gorilla/websocket)
//   - MQTT: an MQTT broker connection (eclipse/paho.mqtt.golang)
//
// Higher layers never depend on a concrete implementation; the
// connection package takes a Factory so tests substitute fakes.
//
// Event callbacks may be invoked from transport-internal goroutines.
// Registration and removal are linearizable per event: once Off returns,
// the callback is not invoked again.
package transport
