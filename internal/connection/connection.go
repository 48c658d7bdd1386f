package connection

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mbeckett/bridgemux/internal/auth"
	"github.com/mbeckett/bridgemux/internal/transport"
)

// State is the lifecycle state of a Conn.
type State int

// Connection lifecycle states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Callback observes connection state changes for one registered owner.
// connected reports whether the connection is usable; err is non-nil
// only for transport error events.
type Callback func(connected bool, err error)

// Handle identifies one registration for later removal.
// The zero Handle is invalid.
type Handle struct {
	event transport.Event
	key   string
}

// Logger interface for this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectParams carries everything a (re)connection attempt needs.
// Reconnection re-invokes Connect with the same params; callbacks stay
// registered across attempts.
type ConnectParams struct {
	Authenticate       bool
	User               string
	Secret             string
	Provider           auth.Provider
	AutoConnect        bool
	AutoConnectTimeout time.Duration
}

// Conn is one shared connection to a broker endpoint.
//
// Conns are created by a Registry, never directly. All mutation of the
// callback table and lifecycle state goes through Conn methods; the
// table is guarded independently of any other structure.
type Conn struct {
	url     string
	factory transport.Factory
	clk     clock.Clock
	logger  Logger

	mu        sync.Mutex
	tr        transport.Transport
	state     State
	callbacks map[transport.Event]map[string]Callback
	params    ConnectParams
	hasParams bool
	retry     *clock.Timer

	// gen invalidates handlers of replaced transports: a torn-down
	// transport may still fire one late event after Teardown swapped it
	// out, and that event must not touch the fresh state.
	gen uint64
}

// newConn builds a Conn in the Disconnected state with an empty
// callback table and wires the internal event handlers exactly once
// per transport.
func newConn(url string, factory transport.Factory, clk clock.Clock, logger Logger) *Conn {
	c := &Conn{
		url:       url,
		factory:   factory,
		clk:       clk,
		logger:    logger,
		callbacks: make(map[transport.Event]map[string]Callback),
	}
	c.tr = factory(url)
	c.wireTransport(c.tr)
	return c
}

// wireTransport registers the three lifecycle handlers on tr.
// Caller must hold c.mu (or own c exclusively during construction).
func (c *Conn) wireTransport(tr transport.Transport) {
	gen := c.gen
	tr.On(transport.EventConnection, func(error) { c.handleConnection(gen) })
	tr.On(transport.EventClose, func(error) { c.handleClose(gen) })
	tr.On(transport.EventError, func(err error) { c.handleError(gen, err) })
}

// URL returns the endpoint this connection targets.
func (c *Conn) URL() string {
	return c.url
}

// Transport returns the current underlying transport.
// Topic bindings hold this to issue physical operations.
func (c *Conn) Transport() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Register inserts a state callback under a caller-stable key.
//
// Set semantics: if the key is already present for the event, nothing
// changes and inserted is false. Duplicate registration is
// silently absorbed, never an error.
//
// Returns:
//   - Handle: pass to Deregister to remove this registration
//   - inserted: false if the key was already registered
func (c *Conn) Register(event transport.Event, key string, fn Callback) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.callbacks[event]
	if set == nil {
		set = make(map[string]Callback)
		c.callbacks[event] = set
	}
	if _, exists := set[key]; exists {
		return Handle{event: event, key: key}, false
	}
	set[key] = fn
	return Handle{event: event, key: key}, true
}

// Deregister removes one registration. Removing an absent or
// already-removed handle is a no-op. Once Deregister returns, the
// callback will not be invoked again.
func (c *Conn) Deregister(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.callbacks[h.event]; ok {
		delete(set, h.key)
	}
}

// callbackCountLocked reports total registrations across all events.
func (c *Conn) callbackCountLocked() int {
	n := 0
	for _, set := range c.callbacks {
		n += len(set)
	}
	return n
}

// Dormant reports whether no owner has any callback registered.
// A dormant connection skips scheduled reconnection.
func (c *Conn) Dormant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbackCountLocked() == 0
}

// Connect drives a connection attempt with the given parameters.
//
// Fire-and-forget: a failed attempt is not returned to the caller; it
// is reported through the registered error callbacks and, when
// AutoConnect is set, retried after AutoConnectTimeout. When
// Authenticate is set, the credential provider's request is forwarded
// to the transport immediately after the transport connects.
//
// Calling Connect on an already-connected Conn is a no-op: the state,
// the stored params, and any submitted credentials are left untouched.
func (c *Conn) Connect(params ConnectParams) {
	c.mu.Lock()
	// A second owner joining an endpoint that is already up must not
	// disturb it: the transports treat Connect on a live connection as
	// a no-op and emit no event, so transitioning to Connecting here
	// would strand the state machine. Keep the first owner's params.
	if c.state == Connected {
		c.mu.Unlock()
		return
	}
	c.params = params
	c.hasParams = true
	c.state = Connecting
	tr := c.tr
	gen := c.gen
	c.mu.Unlock()

	if err := tr.Connect(c.url); err != nil {
		c.logger.Warn("connect failed", "url", c.url, "error", err)
		c.handleError(gen, err)
		return
	}

	if params.Authenticate && params.Provider != nil {
		req := params.Provider(c.url, params.User, params.Secret, c.clk.Now())
		if err := tr.Authenticate(req); err != nil {
			// Surfaced like any other runtime failure: observers and the
			// reconnect loop, never the caller.
			c.logger.Warn("authenticate failed", "url", c.url, "error", err)
			c.handleError(gen, err)
		}
	}
}

// Teardown detaches the owning consumer from this connection.
//
// It cancels any pending reconnect, closes the transport, and clears
// every callback in every event set, so a future reconnection from the
// same logical owner starts from zero duplicate risk. The Conn itself
// stays in the registry and is reusable: a fresh transport is wired in
// for the next Connect.
func (c *Conn) Teardown() {
	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	old := c.tr
	c.gen++
	c.tr = c.factory(c.url)
	c.wireTransport(c.tr)
	c.callbacks = make(map[transport.Event]map[string]Callback)
	c.state = Disconnected
	c.hasParams = false
	c.mu.Unlock()

	if err := old.Close(); err != nil {
		c.logger.Warn("transport close failed", "url", c.url, "error", err)
	}
}

// handleConnection reacts to a successful transport connection.
func (c *Conn) handleConnection(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = Connected
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	fns := c.snapshotLocked(transport.EventConnection)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(true, nil)
	}
}

// handleClose reacts to the transport closing.
// State stays Reconnecting while a retry is pending.
func (c *Conn) handleClose(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.retry == nil {
		c.state = Disconnected
	}
	fns := c.snapshotLocked(transport.EventClose)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(false, nil)
	}
}

// handleError reacts to a transport error: notify observers, then
// schedule a reconnect if configured and not already pending.
func (c *Conn) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	fns := c.snapshotLocked(transport.EventError)

	if c.hasParams && c.params.AutoConnect {
		c.state = Reconnecting
		if c.retry != nil {
			c.retry.Stop()
		}
		c.retry = c.clk.AfterFunc(c.params.AutoConnectTimeout, func() { c.fireRetry(gen) })
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(false, err)
	}
}

// fireRetry runs when the reconnect delay elapses.
// A dormant connection (no registered callbacks) skips the attempt.
func (c *Conn) fireRetry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	if c.callbackCountLocked() == 0 {
		c.state = Disconnected
		c.mu.Unlock()
		c.logger.Info("skipping reconnect, connection dormant", "url", c.url)
		return
	}
	params := c.params
	c.mu.Unlock()

	c.logger.Info("reconnecting", "url", c.url)
	c.Connect(params)
}

// snapshotLocked copies one event's callbacks for invocation outside
// the lock. Caller must hold c.mu.
func (c *Conn) snapshotLocked(event transport.Event) []Callback {
	set := c.callbacks[event]
	fns := make([]Callback, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	return fns
}
