package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mbeckett/bridgemux/internal/auth"
)

// MQTT connection constants.
const (
	mqttConnectTimeout = 10 * time.Second
	mqttSendTimeout    = 5 * time.Second
	mqttQuiesceMs      = 250
	mqttKeepAlive      = 60 * time.Second

	// mqttQoS is the delivery QoS for publishes and subscriptions.
	// Per-topic queue settings from TopicOptions have no MQTT equivalent
	// and are ignored; latch maps to the broker's retained flag.
	mqttQoS = 1

	// mqttAuthTopic is where signed-credential payloads are submitted.
	mqttAuthTopic = "$bridgemux/auth"
)

// MQTT is a Transport over an MQTT broker connection.
//
// Reconnection is owned by the connection lifecycle layer, so paho's
// own auto-reconnect is disabled; a lost connection surfaces as an
// error event followed by a close event.
type MQTT struct {
	*events
	logger   Logger
	clientID string

	mu        sync.Mutex
	client    pahomqtt.Client
	connected bool
	closed    bool

	// latched tracks which advertised topics requested latching so
	// publishes can set the retained flag.
	latched map[string]bool
}

var _ Transport = (*MQTT)(nil)

// NewMQTT creates an MQTT transport with the given client identity.
func NewMQTT(clientID string, logger Logger) *MQTT {
	return &MQTT{
		events:   newEvents(),
		logger:   logger,
		clientID: clientID,
		latched:  make(map[string]bool),
	}
}

// Connect establishes the broker connection.
// Calling Connect on an already-connected transport is a no-op.
func (t *MQTT) Connect(url string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
		t.emit(EventConnection, nil)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		t.emit(EventError, err)
		t.emit(EventClose, nil)
	})

	client := pahomqtt.NewClient(opts)
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrNotConnected, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Authenticate submits the signed-credential payload to the auth topic.
// The fields are forwarded untouched; the broker side owns verification.
func (t *MQTT) Authenticate(req auth.Request) error {
	payload := map[string]any{
		"mac":    req.Mac,
		"client": req.Client,
		"dest":   req.Dest,
		"rand":   req.Rand,
		"t":      req.Time.Unix(),
		"level":  req.Level,
		"end":    req.End.Unix(),
	}
	return t.publish(mqttAuthTopic, payload, false)
}

// Advertise records publisher intent. MQTT brokers have no advertise
// operation; only the latch flag carries over (as message retention).
func (t *MQTT) Advertise(topic string, opts TopicOptions) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	t.mu.Lock()
	t.latched[topic] = opts.Latch
	t.mu.Unlock()
	return nil
}

// Unadvertise withdraws publisher intent.
func (t *MQTT) Unadvertise(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	t.mu.Lock()
	delete(t.latched, topic)
	t.mu.Unlock()
	return nil
}

// Publish sends one message on a topic.
func (t *MQTT) Publish(topic string, payload any) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	t.mu.Lock()
	retained := t.latched[topic]
	t.mu.Unlock()
	return t.publish(topic, payload, retained)
}

func (t *MQTT) publish(topic string, payload any, retained bool) error {
	client, err := t.live()
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	token := client.Publish(topic, mqttQoS, retained, data)
	if !token.WaitTimeout(mqttSendTimeout) {
		return fmt.Errorf("transport: publish timeout after %v", mqttSendTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: publish: %w", err)
	}
	return nil
}

// Subscribe opens the inbound message stream for a topic.
func (t *MQTT) Subscribe(topic string, _ TopicOptions) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	client, err := t.live()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, mqttQoS, t.wrapHandler())
	if !token.WaitTimeout(mqttSendTimeout) {
		return fmt.Errorf("transport: subscribe timeout after %v", mqttSendTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe closes the inbound message stream for a topic.
func (t *MQTT) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	client, err := t.live()
	if err != nil {
		return err
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(mqttSendTimeout) {
		return fmt.Errorf("transport: unsubscribe timeout after %v", mqttSendTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: unsubscribe: %w", err)
	}
	return nil
}

// Close disconnects from the broker. Idempotent.
func (t *MQTT) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	client := t.client
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if client != nil && wasConnected {
		client.Disconnect(mqttQuiesceMs)
		t.emit(EventClose, nil)
	}
	return nil
}

// live returns the client if the connection is usable.
func (t *MQTT) live() (pahomqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

// wrapHandler decodes inbound payloads and fans them out with panic
// recovery, matching how handler failures must never kill the paho
// read goroutine.
func (t *MQTT) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if t.logger != nil {
					t.logger.Error("message handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		var payload any
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			if t.logger != nil {
				t.logger.Warn("dropping undecodable message",
					"topic", msg.Topic(),
					"error", err,
				)
			}
			return
		}

		t.emitMessage(msg.Topic(), payload)
	}
}
