package topic

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mbeckett/bridgemux/internal/transport"
)

// Logger interface for this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Subscription identifies one listener on a Topic for removal.
// The zero Subscription is invalid.
type Subscription struct {
	id string
}

// ListenerFunc receives every inbound message on a Topic.
type ListenerFunc func(payload any)

// Topic is the reference-counted wrapper around one physical topic
// binding. It is shared by all current owners; the cache evicts it only
// once every ownership record is gone.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Ownership mutations are
//     linearizable per topic: edge transitions are decided under one
//     lock, so concurrent advertise/unadvertise resolve to a single
//     deterministic membership.
type Topic struct {
	endpoint string
	settings Settings
	tr       transport.Transport
	logger   Logger

	// onIdle is the cache's eviction hook, invoked outside the lock
	// after any decrement that leaves the topic fully idle.
	onIdle func(*Topic)

	mu         sync.Mutex
	owners     map[string]struct{}
	listeners  map[string]ListenerFunc
	advertised bool
	subscribed bool
	msgReg     transport.Registration
}

// newTopic constructs the binding without any broker side effects.
func newTopic(endpoint string, tr transport.Transport, settings Settings, logger Logger, onIdle func(*Topic)) *Topic {
	return &Topic{
		endpoint:  endpoint,
		settings:  settings,
		tr:        tr,
		logger:    logger,
		onIdle:    onIdle,
		owners:    make(map[string]struct{}),
		listeners: make(map[string]ListenerFunc),
	}
}

// Settings returns the settings this topic was created with.
func (t *Topic) Settings() Settings {
	return t.settings
}

// Endpoint returns the endpoint URL this topic is bound to.
func (t *Topic) Endpoint() string {
	return t.endpoint
}

// Advertise adds ownerID to the publisher owner set. The physical
// advertise is issued only on the empty-to-non-empty transition.
// Adding an already-present owner is a no-op.
func (t *Topic) Advertise(ownerID string) {
	t.mu.Lock()
	if _, exists := t.owners[ownerID]; exists {
		t.mu.Unlock()
		return
	}
	t.owners[ownerID] = struct{}{}
	first := len(t.owners) == 1
	if first {
		t.advertised = true
	}
	t.mu.Unlock()

	if first {
		if err := t.tr.Advertise(t.settings.Name, t.settings.transportOptions()); err != nil {
			t.logger.Warn("advertise failed", "topic", t.settings.Name, "error", err)
		}
	}
}

// Unadvertise removes ownerID from the publisher owner set. The
// physical unadvertise is issued only when the set becomes empty.
// Removing an absent owner is a no-op, so double release is safe.
func (t *Topic) Unadvertise(ownerID string) {
	t.mu.Lock()
	if _, exists := t.owners[ownerID]; !exists {
		t.mu.Unlock()
		return
	}
	delete(t.owners, ownerID)
	last := len(t.owners) == 0 && t.advertised
	if last {
		t.advertised = false
	}
	t.mu.Unlock()

	if last {
		if err := t.tr.Unadvertise(t.settings.Name); err != nil {
			t.logger.Warn("unadvertise failed", "topic", t.settings.Name, "error", err)
		}
	}
	t.maybeIdle()
}

// Publish forwards one message to the physical topic regardless of
// advertise state; queueing or rejecting is the transport's contract.
func (t *Topic) Publish(msg any) {
	if err := t.tr.Publish(t.settings.Name, msg); err != nil {
		t.logger.Warn("publish failed", "topic", t.settings.Name, "error", err)
	}
}

// Subscribe adds a listener. The physical subscribe (and the inbound
// message registration) happens only for the first listener.
func (t *Topic) Subscribe(fn ListenerFunc) Subscription {
	id := uuid.NewString()

	t.mu.Lock()
	t.listeners[id] = fn
	first := len(t.listeners) == 1 && !t.subscribed
	if first {
		t.subscribed = true
	}
	t.mu.Unlock()

	if first {
		reg := t.tr.OnMessage(t.settings.Name, t.deliver)
		t.mu.Lock()
		t.msgReg = reg
		t.mu.Unlock()

		if err := t.tr.Subscribe(t.settings.Name, t.settings.transportOptions()); err != nil {
			t.logger.Warn("subscribe failed", "topic", t.settings.Name, "error", err)
		}
	}

	return Subscription{id: id}
}

// Unsubscribe removes a listener. The physical unsubscribe happens only
// when the last listener is removed. Removing an unknown subscription
// is a no-op.
func (t *Topic) Unsubscribe(sub Subscription) {
	t.mu.Lock()
	if _, exists := t.listeners[sub.id]; !exists {
		t.mu.Unlock()
		return
	}
	delete(t.listeners, sub.id)
	last := len(t.listeners) == 0 && t.subscribed
	var reg transport.Registration
	if last {
		t.subscribed = false
		reg = t.msgReg
		t.msgReg = transport.Registration{}
	}
	t.mu.Unlock()

	if last {
		t.tr.OffMessage(reg)
		if err := t.tr.Unsubscribe(t.settings.Name); err != nil {
			t.logger.Warn("unsubscribe failed", "topic", t.settings.Name, "error", err)
		}
	}
	t.maybeIdle()
}

// deliver fans an inbound message out to every current listener.
func (t *Topic) deliver(payload any) {
	t.mu.Lock()
	fns := make([]ListenerFunc, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// CanEvict reports whether nothing holds this topic: no listeners, no
// publisher owners, and no active advertisement.
func (t *Topic) CanEvict() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners) == 0 && len(t.listeners) == 0 && !t.advertised
}

// Advertised reports whether the physical advertise is currently active.
func (t *Topic) Advertised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertised
}

// OwnerCount returns the number of publisher owners.
func (t *Topic) OwnerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

// ListenerCount returns the number of listeners.
func (t *Topic) ListenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// maybeIdle notifies the cache after a decrement left the topic idle.
func (t *Topic) maybeIdle() {
	if t.onIdle != nil && t.CanEvict() {
		t.onIdle(t)
	}
}
