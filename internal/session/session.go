package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mbeckett/bridgemux/internal/auth"
	"github.com/mbeckett/bridgemux/internal/connection"
	"github.com/mbeckett/bridgemux/internal/topic"
	"github.com/mbeckett/bridgemux/internal/transport"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectionOptions describes one owner's request for a shared
// connection. Options beyond URL apply only when this request is the
// first for the endpoint; later owners join the existing connection
// as-is.
type ConnectionOptions struct {
	URL string

	// Authenticate forwards a credential request after connecting.
	// Requires Provider.
	Authenticate bool
	User         string
	Secret       string
	Provider     auth.Provider

	// AutoConnect retries after errors, every AutoConnectTimeout,
	// until the connection goes dormant.
	AutoConnect        bool
	AutoConnectTimeout time.Duration
}

// Session hands out owner handles backed by the shared connection
// registry and topic cache.
type Session struct {
	registry *connection.Registry
	cache    *topic.Cache
	clk      clock.Clock
	logger   Logger
}

// NewSession builds a Session over an existing registry and cache.
// A nil clk falls back to the wall clock.
func NewSession(registry *connection.Registry, cache *topic.Cache, clk clock.Clock, logger Logger) (*Session, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if cache == nil {
		return nil, ErrNilCache
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		registry: registry,
		cache:    cache,
		clk:      clk,
		logger:   logger,
	}, nil
}

// AcquireConnection returns a handle on the shared connection for
// opts.URL, creating and connecting it on first use. The connect
// itself is fire-and-forget; use Observe to learn the outcome.
func (s *Session) AcquireConnection(opts ConnectionOptions) (*ConnectionHandle, error) {
	if opts.URL == "" {
		return nil, ErrEmptyURL
	}
	if opts.Authenticate && opts.Provider == nil {
		return nil, ErrNilProvider
	}

	conn := s.registry.Acquire(opts.URL)
	h := &ConnectionHandle{
		session: s,
		conn:    conn,
		id:      uuid.NewString(),
	}

	conn.Connect(connection.ConnectParams{
		Authenticate:       opts.Authenticate,
		User:               opts.User,
		Secret:             opts.Secret,
		Provider:           opts.Provider,
		AutoConnect:        opts.AutoConnect,
		AutoConnectTimeout: opts.AutoConnectTimeout,
	})

	s.logger.Info("connection acquired", "url", opts.URL, "owner", h.id)
	return h, nil
}

// StatsFor reports topic counts for one endpoint, for observability.
func (s *Session) StatsFor(url string) topic.Stats {
	return s.cache.StatsFor(url)
}

// Close tears down every connection and drops all cached topics.
// Outstanding handles become inert; their Release calls are no-ops at
// the broker level.
func (s *Session) Close() {
	s.registry.Reset()
	s.cache.Reset()
}

// ConnectionHandle is one owner's grip on a shared connection.
type ConnectionHandle struct {
	session *Session
	conn    *connection.Conn

	// id namespaces this owner's observer keys on the shared conn.
	id string

	mu       sync.Mutex
	released bool
}

func (h *ConnectionHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Observer identifies one Observe registration for removal.
type Observer struct {
	conn    *connection.Conn
	handles []connection.Handle
}

// Stop removes the observer. Safe to call on the zero value.
func (o Observer) Stop() {
	for _, h := range o.handles {
		o.conn.Deregister(h)
	}
}

// Observe registers fn for every lifecycle transition of the shared
// connection: fn(true, nil) on connect, fn(false, nil) on close,
// fn(false, err) on error. Each call installs one independent
// observer; registering the same function twice yields two.
func (h *ConnectionHandle) Observe(fn func(connected bool, err error)) (Observer, error) {
	if h.isReleased() {
		return Observer{}, ErrReleased
	}
	if fn == nil {
		return Observer{}, ErrNilCallback
	}

	key := h.id + "/" + uuid.NewString()
	obs := Observer{conn: h.conn}
	for _, ev := range []transport.Event{
		transport.EventConnection,
		transport.EventClose,
		transport.EventError,
	} {
		reg, _ := h.conn.Register(ev, key, connection.Callback(fn))
		obs.handles = append(obs.handles, reg)
	}
	return obs, nil
}

// State reports the current lifecycle state of the shared connection.
func (h *ConnectionHandle) State() connection.State {
	return h.conn.State()
}

// Release tears the shared connection down: transport closed, callback
// table cleared, reconnect timer cancelled. The handle is unusable
// afterwards. Safe to call twice.
func (h *ConnectionHandle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	h.conn.Teardown()
	h.session.logger.Info("connection released", "url", h.conn.URL(), "owner", h.id)
}

// AcquirePublisher returns a publishing handle on the shared topic the
// settings fingerprint resolves to, registering a fresh owner in its
// publisher set.
func (s *Session) AcquirePublisher(h *ConnectionHandle, settings topic.Settings) (*topic.Publisher, error) {
	if h.isReleased() {
		return nil, ErrReleased
	}
	t, err := s.cache.GetOrCreate(h.conn.URL(), h.conn.Transport(), settings)
	if err != nil {
		return nil, err
	}
	return topic.NewPublisher(t, uuid.NewString(), s.clk), nil
}

// AcquireSubscriber attaches cb to the shared topic the settings
// fingerprint resolves to, with optional per-owner compare and
// transform stages.
func (s *Session) AcquireSubscriber(h *ConnectionHandle, settings topic.Settings, opts topic.SubscriberOptions, cb func(any)) (*topic.Subscriber, error) {
	if h.isReleased() {
		return nil, ErrReleased
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	t, err := s.cache.GetOrCreate(h.conn.URL(), h.conn.Transport(), settings)
	if err != nil {
		return nil, err
	}
	return topic.NewSubscriber(t, opts, cb), nil
}
