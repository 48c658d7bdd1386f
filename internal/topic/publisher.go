package topic

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Publisher is one owner's publishing handle on a shared Topic.
// Creating it registers the owner in the topic's publisher set
// (physically advertising on the first owner); Close releases it.
type Publisher struct {
	topic   *Topic
	ownerID string
	clk     clock.Clock

	mu         sync.Mutex
	closed     bool
	repeating  bool
	ticked     bool
	current    any
	hasCurrent bool
	stop       chan struct{}
	loopDone   chan struct{}
}

// NewPublisher registers ownerID on the topic and returns its handle.
// The ownerID must be stable for this logical owner's lifetime and
// unique across owners; it is used only for reference counting.
func NewPublisher(t *Topic, ownerID string, clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	t.Advertise(ownerID)
	return &Publisher{
		topic:   t,
		ownerID: ownerID,
		clk:     clk,
	}
}

// Publish sends one message and retains it as the current value for
// any active auto-repeat loop.
func (p *Publisher) Publish(msg any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.current = msg
	p.hasCurrent = true
	p.mu.Unlock()

	p.topic.Publish(msg)
	return nil
}

// PublishRepeated enables periodic re-publication of msg every
// interval. The message is not sent immediately; the first send
// happens on the first tick. Publish may update the value between
// ticks. Calling PublishRepeated again replaces the previous loop.
func (p *Publisher) PublishRepeated(msg any, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidRate
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	var prevStop chan struct{}
	var prevDone chan struct{}
	if p.repeating {
		prevStop, prevDone = p.stop, p.loopDone
		p.repeating = false
	}
	p.mu.Unlock()

	// Join the previous loop outside the lock; its tick path takes p.mu.
	if prevStop != nil {
		close(prevStop)
		<-prevDone
	}

	p.mu.Lock()
	p.current = msg
	p.hasCurrent = true
	p.ticked = false
	p.repeating = true
	p.stop = make(chan struct{})
	p.loopDone = make(chan struct{})
	stop, done := p.stop, p.loopDone
	p.mu.Unlock()

	go p.repeatLoop(interval, stop, done)
	return nil
}

// repeatLoop publishes the current value on every tick until stopped.
func (p *Publisher) repeatLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := p.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.ticked = true
			msg := p.current
			p.mu.Unlock()

			p.topic.Publish(msg)
		}
	}
}

// Close releases this owner from the topic, stopping any auto-repeat
// loop first. If the loop never got to fire a tick and the topic is
// still advertised, the pending message is published exactly once
// before release: an owner tearing down before the first interval
// elapses must not silently drop its message. Once a tick has fired,
// no final publish happens. Safe to call twice.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	wasRepeating := p.repeating
	var stop, done chan struct{}
	if wasRepeating {
		stop, done = p.stop, p.loopDone
		p.repeating = false
	}
	p.mu.Unlock()

	// Join the loop outside the lock; its tick path takes p.mu.
	if wasRepeating {
		close(stop)
		<-done
	}

	p.mu.Lock()
	flush := wasRepeating && !p.ticked && p.hasCurrent
	pending := p.current
	p.mu.Unlock()

	if flush && p.topic.Advertised() {
		p.topic.Publish(pending)
	}
	p.topic.Unadvertise(p.ownerID)
}
