package topic

import (
	"sync"

	"github.com/mbeckett/bridgemux/internal/transport"
)

// Cache is the shared topic cache: one Topic per fingerprint.
//
// Like the connection registry, it is an explicit constructor-injected
// object, not process-global state, so tests instantiate isolated
// caches per case.
type Cache struct {
	logger Logger

	mu     sync.Mutex
	topics map[Fingerprint]*Topic
}

// Stats are point-in-time gauges over the cache, used for telemetry.
type Stats struct {
	Topics     int
	Publishers int
	Listeners  int
}

// NewCache creates an empty topic cache.
func NewCache(logger Logger) *Cache {
	return &Cache{
		logger: logger,
		topics: make(map[Fingerprint]*Topic),
	}
}

// GetOrCreate returns the shared Topic for (endpoint, settings),
// constructing it on first request. Construction has no broker side
// effects; advertise/subscribe traffic happens only through the
// returned Topic's operations.
//
// Returns:
//   - *Topic: the shared topic binding
//   - error: ErrInvalidTopicName if settings carry no name
func (c *Cache) GetOrCreate(endpoint string, tr transport.Transport, settings Settings) (*Topic, error) {
	if settings.Name == "" {
		return nil, ErrInvalidTopicName
	}

	fp := Fingerprint{Endpoint: endpoint, Settings: settings}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[fp]; ok {
		return t, nil
	}

	t := newTopic(endpoint, tr, settings, c.logger, func(idle *Topic) {
		c.evict(fp, idle)
	})
	c.topics[fp] = t
	return t, nil
}

// evict removes the cache entry if it still maps to t and t is still
// fully idle. A topic re-acquired between going idle and the sweep
// stays cached; a subsequent GetOrCreate after eviction builds fresh
// state.
func (c *Cache) evict(fp Fingerprint, t *Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.topics[fp]; ok && current == t && t.CanEvict() {
		delete(c.topics, fp)
	}
}

// Len returns the number of cached topics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

// StatsFor aggregates gauges for one endpoint.
func (c *Cache) StatsFor(endpoint string) Stats {
	c.mu.Lock()
	topics := make([]*Topic, 0, len(c.topics))
	for fp, t := range c.topics {
		if fp.Endpoint == endpoint {
			topics = append(topics, t)
		}
	}
	c.mu.Unlock()

	var s Stats
	for _, t := range topics {
		s.Topics++
		s.Publishers += t.OwnerCount()
		s.Listeners += t.ListenerCount()
	}
	return s
}

// Reset empties the cache. Intended for shutdown and test teardown;
// owners holding evicted topics keep working against the detached
// instances until they release them.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = make(map[Fingerprint]*Topic)
}
