package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mbeckett/bridgemux/internal/auth"
)

// Event identifies a connection-level transport event.
type Event string

// Connection-level events every Transport emits.
const (
	EventConnection Event = "connection"
	EventClose      Event = "close"
	EventError      Event = "error"
)

// EventFunc is the callback signature for connection-level events.
// err is non-nil only for EventError.
type EventFunc func(err error)

// MessageFunc is the callback signature for inbound topic messages.
// The payload is the decoded message value; encoding is transport-internal.
type MessageFunc func(payload any)

// Registration identifies one registered callback for removal.
type Registration struct {
	event Event
	topic string
	id    string
}

// TopicOptions carries the per-topic QoS settings a broker may honour.
// Transports forward what they understand and ignore the rest.
type TopicOptions struct {
	MessageType  string
	ThrottleRate int
	Latch        bool
	QueueLength  int
	QueueSize    int
}

// Transport is an abstract duplex connection to one broker endpoint.
//
// Connect, Publish, Advertise, Subscribe, and Authenticate are
// fire-and-forget: failures surface through EventError, not return
// values, except where the transport can reject locally (closed
// connection, encode failure).
//
// Close must tolerate being called when already closed.
type Transport interface {
	Connect(url string) error
	Authenticate(req auth.Request) error

	Advertise(topic string, opts TopicOptions) error
	Unadvertise(topic string) error
	Publish(topic string, payload any) error
	Subscribe(topic string, opts TopicOptions) error
	Unsubscribe(topic string) error

	On(event Event, fn EventFunc) Registration
	Off(reg Registration)
	OnMessage(topic string, fn MessageFunc) Registration
	OffMessage(reg Registration)

	Close() error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Factory constructs a Transport for an endpoint URL.
// The connection registry uses it so tests can substitute fakes.
type Factory func(url string) Transport

// events is the shared callback table embedded by concrete transports.
// It owns registration identity (generated ids) and fan-out.
type events struct {
	mu       sync.RWMutex
	handlers map[Event]map[string]EventFunc
	messages map[string]map[string]MessageFunc
}

func newEvents() *events {
	return &events{
		handlers: make(map[Event]map[string]EventFunc),
		messages: make(map[string]map[string]MessageFunc),
	}
}

func (e *events) On(event Event, fn EventFunc) Registration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers[event] == nil {
		e.handlers[event] = make(map[string]EventFunc)
	}
	id := uuid.NewString()
	e.handlers[event][id] = fn

	return Registration{event: event, id: id}
}

func (e *events) Off(reg Registration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if set, ok := e.handlers[reg.event]; ok {
		delete(set, reg.id)
	}
}

func (e *events) OnMessage(topic string, fn MessageFunc) Registration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.messages[topic] == nil {
		e.messages[topic] = make(map[string]MessageFunc)
	}
	id := uuid.NewString()
	e.messages[topic][id] = fn

	return Registration{topic: topic, id: id}
}

func (e *events) OffMessage(reg Registration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if set, ok := e.messages[reg.topic]; ok {
		delete(set, reg.id)
		if len(set) == 0 {
			delete(e.messages, reg.topic)
		}
	}
}

// emit invokes every handler registered for event outside the lock.
func (e *events) emit(event Event, err error) {
	e.mu.RLock()
	fns := make([]EventFunc, 0, len(e.handlers[event]))
	for _, fn := range e.handlers[event] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(err)
	}
}

// emitMessage invokes every message handler for topic outside the lock.
func (e *events) emitMessage(topic string, payload any) {
	e.mu.RLock()
	fns := make([]MessageFunc, 0, len(e.messages[topic]))
	for _, fn := range e.messages[topic] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
}
