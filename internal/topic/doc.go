// Package topic provides the shared topic cache with reference counting.
//
// A Cache holds one Topic per (endpoint, name, message type, QoS
// settings) fingerprint: two requests with identical settings resolve
// to the same Topic, any differing field resolves to a distinct one.
// Constructing a Topic has no broker side effects; advertise and
// subscribe traffic happens only on ownership edge transitions:
//
//   - physical advertise when the first publisher owner arrives,
//     physical unadvertise when the last one leaves;
//   - physical subscribe on the first listener, unsubscribe on the last.
//
// Publisher ownership is a set of opaque owner ids rather than a
// counter, so releasing twice by the same owner cannot double-decrement.
// A Topic with no owners, no listeners, and no active advertisement is
// evicted from the cache opportunistically after any decrement.
//
// Subscriber-side comparison/transform logic and publisher auto-repeat
// are private per owner; the cache shares only the physical resource.
package topic
