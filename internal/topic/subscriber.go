package topic

import "sync"

// CompareFunc reports whether two messages are equal for delivery
// purposes. When it returns true the incoming message is suppressed.
type CompareFunc func(prev, next any) bool

// TransformFunc derives the value handed to the owner's callback.
// Returning ok=false filters the message out. Filtering is not an
// error.
type TransformFunc func(next any) (derived any, ok bool)

// SubscriberOptions carries the optional per-owner delivery controls.
type SubscriberOptions struct {
	Compare   CompareFunc
	Transform TransformFunc
}

// Subscriber is one owner's view of a shared Topic. Its comparison
// baseline and transform are private state: two subscribers on the same
// Topic never share suppression decisions.
type Subscriber struct {
	topic *Topic
	sub   Subscription
	opts  SubscriberOptions
	cb    func(any)

	mu      sync.Mutex
	last    any
	hasLast bool
	closed  bool
}

// NewSubscriber attaches an owner callback to a shared Topic.
// This increments the topic's listener count (physically subscribing
// on the first listener).
func NewSubscriber(t *Topic, opts SubscriberOptions, cb func(any)) *Subscriber {
	s := &Subscriber{
		topic: t,
		opts:  opts,
		cb:    cb,
	}
	s.sub = t.Subscribe(s.deliver)
	return s
}

// deliver applies suppression and transformation before the owner's
// callback sees the message.
//
// Order matters: the baseline is updated whenever the message is not
// suppressed, even when the transform then filters it. The next
// comparison runs against the last message seen, not the last one
// delivered through the transform.
func (s *Subscriber) deliver(msg any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.opts.Compare != nil && s.hasLast && s.opts.Compare(s.last, msg) {
		s.mu.Unlock()
		return
	}

	s.last = msg
	s.hasLast = true

	out := msg
	present := true
	if s.opts.Transform != nil {
		out, present = s.opts.Transform(msg)
	}
	s.mu.Unlock()

	if present {
		s.cb(out)
	}
}

// Close detaches this owner from the topic, decrementing the listener
// count (physically unsubscribing on the last listener). Safe to call
// twice.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.topic.Unsubscribe(s.sub)
}
