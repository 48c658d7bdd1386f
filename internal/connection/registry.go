package connection

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/mbeckett/bridgemux/internal/transport"
)

// Registry holds exactly one Conn per endpoint URL.
//
// Registries are explicit objects rather than package globals so tests
// and applications own their lifecycle: create at startup, Reset at
// shutdown or test teardown. There is no per-URL removal; connections
// are registry-lifetime singletons so unrelated owners of the same
// endpoint never duplicate the underlying resource.
type Registry struct {
	factory transport.Factory
	clk     clock.Clock
	logger  Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry creates a connection registry.
//
// Parameters:
//   - factory: constructs a transport for an endpoint URL; tests pass fakes
//   - clk: clock for reconnect timers; nil selects the real clock
//   - logger: destination for lifecycle logging
//
// Returns:
//   - *Registry: empty registry ready for use
//   - error: ErrNilFactory if factory is nil
func NewRegistry(factory transport.Factory, clk clock.Clock, logger Logger) (*Registry, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		factory: factory,
		clk:     clk,
		logger:  logger,
		conns:   make(map[string]*Conn),
	}, nil
}

// Acquire returns the Conn for url, constructing it on first request.
//
// Construction and insertion are a single atomic step: a second caller
// for the same url never observes a partially constructed Conn. New
// Conns start Disconnected with an empty callback table.
func (r *Registry) Acquire(url string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[url]; ok {
		return c
	}
	c := newConn(url, r.factory, r.clk, r.logger)
	r.conns[url] = c
	return c
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Each calls fn for every registered connection.
func (r *Registry) Each(fn func(*Conn)) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		fn(c)
	}
}

// Reset tears down every connection and empties the registry.
// Intended for shutdown and test teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Teardown()
	}
}
