package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbeckett/bridgemux/internal/auth"
)

// Websocket connection constants.
const (
	wsDialTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// Text-protocol operations. The envelope grammar is internal to this
// transport; nothing above this package depends on it.
const (
	wsOpAdvertise   = "advertise"
	wsOpUnadvertise = "unadvertise"
	wsOpPublish     = "publish"
	wsOpSubscribe   = "subscribe"
	wsOpUnsubscribe = "unsubscribe"
	wsOpAuth        = "auth"
)

// wsEnvelope is the wire format for the websocket text protocol.
type wsEnvelope struct {
	Op           string `json:"op"`
	Topic        string `json:"topic,omitempty"`
	Type         string `json:"type,omitempty"`
	Msg          any    `json:"msg,omitempty"`
	Latch        bool   `json:"latch,omitempty"`
	ThrottleRate int    `json:"throttle_rate,omitempty"`
	QueueLength  int    `json:"queue_length,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`

	// Authentication fields (op=auth), forwarded opaquely.
	Mac    string `json:"mac,omitempty"`
	Client string `json:"client,omitempty"`
	Dest   string `json:"dest,omitempty"`
	Rand   string `json:"rand,omitempty"`
	T      int64  `json:"t,omitempty"`
	Level  string `json:"level,omitempty"`
	End    int64  `json:"end,omitempty"`
}

// WS is a Transport over a websocket text protocol.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are serialised; reads run on a single internal goroutine.
type WS struct {
	*events
	logger Logger

	// writeMu serialises writes to the websocket (gorilla requirement).
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
}

// interface guard
var _ Transport = (*WS)(nil)

// NewWS creates a websocket transport. The endpoint URL is supplied at
// Connect time so one factory serves every endpoint.
func NewWS(logger Logger) *WS {
	return &WS{
		events: newEvents(),
		logger: logger,
	}
}

// Connect dials the broker endpoint and starts the read loop.
//
// Calling Connect on an already-connected transport is a no-op.
// A dial failure is returned to the caller; it is the connection
// lifecycle layer that converts it into an error event.
func (t *WS) Connect(url string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %w", ErrNotConnected, url, err)
	}

	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(conn)

	t.emit(EventConnection, nil)
	return nil
}

// readLoop decodes inbound envelopes until the connection drops.
// It emits EventError for unexpected drops, then EventClose exactly once.
func (t *WS) readLoop(conn *websocket.Conn) {
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			deliberate := t.closed || t.conn != conn
			t.connected = false
			t.mu.Unlock()

			if !deliberate {
				if t.logger != nil {
					t.logger.Warn("websocket read failed", "error", err)
				}
				t.emit(EventError, err)
			}
			t.emit(EventClose, nil)
			return
		}

		if env.Op == wsOpPublish && env.Topic != "" {
			t.emitMessage(env.Topic, env.Msg)
		}
	}
}

// send encodes one envelope onto the wire.
func (t *WS) send(env wsEnvelope) error {
	t.mu.Lock()
	conn, connected := t.conn, t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}

// Authenticate forwards a signed-credential request to the broker.
func (t *WS) Authenticate(req auth.Request) error {
	return t.send(wsEnvelope{
		Op:     wsOpAuth,
		Mac:    req.Mac,
		Client: req.Client,
		Dest:   req.Dest,
		Rand:   req.Rand,
		T:      req.Time.Unix(),
		Level:  req.Level,
		End:    req.End.Unix(),
	})
}

// Advertise declares publisher intent for a topic.
func (t *WS) Advertise(topic string, opts TopicOptions) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return t.send(wsEnvelope{
		Op:        wsOpAdvertise,
		Topic:     topic,
		Type:      opts.MessageType,
		Latch:     opts.Latch,
		QueueSize: opts.QueueSize,
	})
}

// Unadvertise withdraws publisher intent for a topic.
func (t *WS) Unadvertise(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return t.send(wsEnvelope{Op: wsOpUnadvertise, Topic: topic})
}

// Publish sends one message on a topic.
func (t *WS) Publish(topic string, payload any) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return t.send(wsEnvelope{Op: wsOpPublish, Topic: topic, Msg: payload})
}

// Subscribe opens the inbound message stream for a topic.
func (t *WS) Subscribe(topic string, opts TopicOptions) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return t.send(wsEnvelope{
		Op:           wsOpSubscribe,
		Topic:        topic,
		Type:         opts.MessageType,
		ThrottleRate: opts.ThrottleRate,
		QueueLength:  opts.QueueLength,
	})
}

// Unsubscribe closes the inbound message stream for a topic.
func (t *WS) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return t.send(wsEnvelope{Op: wsOpUnsubscribe, Topic: topic})
}

// Close shuts the connection down. Idempotent: closing a closed
// transport is a no-op. EventClose is emitted by the read loop when the
// connection actually drops.
func (t *WS) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	if conn != nil {
		// Best-effort close frame; the peer may already be gone.
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteTimeout))
		t.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
