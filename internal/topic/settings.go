package topic

import "github.com/mbeckett/bridgemux/internal/transport"

// Settings are the per-topic fields an owner supplies. Together with
// the endpoint they form the cache fingerprint, so every field takes
// part in identity: change any one and you get a distinct Topic.
type Settings struct {
	Name         string
	MessageType  string
	ThrottleRate int
	Latch        bool
	QueueLength  int
	QueueSize    int
}

// transportOptions converts settings to the transport's option set.
func (s Settings) transportOptions() transport.TopicOptions {
	return transport.TopicOptions{
		MessageType:  s.MessageType,
		ThrottleRate: s.ThrottleRate,
		Latch:        s.Latch,
		QueueLength:  s.QueueLength,
		QueueSize:    s.QueueSize,
	}
}

// Fingerprint is the deterministic cache key for a Topic. It is a
// comparable value: map lookup gives exactly the identity semantics
// the cache needs, with no hashing of our own.
type Fingerprint struct {
	Endpoint string
	Settings
}
