// Package mqttconn implements transport.Connection (spec.md §6.2) over
// paho.mqtt.golang. Grounded directly on the teacher's
// messenger/mqtt/paho.go: same ClientOptions construction, same
// ConnectionLostHandler wiring, generalized from Otto's
// messenger.Conn interface to the gateway's narrower Connection
// contract.
//
// Two Connections exist in a running gateway, one per broker (platform
// and local bus); both are built with this same constructor.
package mqttconn

import (
	"log/slog"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/transport"
)

// Config is everything needed to dial one broker.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string // random suffix appended if empty
	Username string
	Password string

	// Topic is the single subscription this Connection maintains once
	// connected; every message landing on it is handed to the
	// registered Listener. The gateway's two connections each use a
	// wildcard scoped to their own side (platform vs local bus).
	Topic string
	QoS   byte

	CleanSession     bool
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

// Connection wraps a single paho.Client, satisfying
// transport.Connection.
type Connection struct {
	name string
	cfg  Config
	opts *paho.ClientOptions
	log  *slog.Logger

	client paho.Client

	listener transport.Listener
	lostCB   func(error)
}

// New builds a Connection for cfg but does not dial the broker; call
// Connect for that. name identifies the connection in log lines
// ("platform" or "local").
func New(name string, cfg Config, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}

	id := cfg.ClientID
	if id == "" {
		id = "gwbridge-" + name + "-" + randSuffix()
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(id).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false). // supervisor owns reconnection (spec.md §4.11)
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(cfg.CleanSession)

	c := &Connection{
		name: name,
		cfg:  cfg,
		opts: opts,
		log:  log,
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqttconn: connection lost", "connection", name, "error", err)
		if c.lostCB != nil {
			c.lostCB(err)
		}
	})

	return c
}

func randSuffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// SetListener registers the single Listener every inbound message on
// cfg.Topic is delivered to. Must be called before Connect to avoid
// racing the subscription's own message handler.
func (c *Connection) SetListener(l transport.Listener) {
	c.listener = l
}

// OnConnectionLost registers the callback supervisor.connectionMachine
// uses to learn about an unplanned disconnect.
func (c *Connection) OnConnectionLost(cb func(error)) {
	c.lostCB = cb
}

// Connect dials the broker and, on success, subscribes to cfg.Topic.
// Returns false on any failure (timeout or broker-reported error)
// rather than blocking indefinitely; supervisor.connectionMachine
// treats a false return the same as an error.
func (c *Connection) Connect() bool {
	if c.client == nil {
		c.client = paho.NewClient(c.opts)
	}
	tok := c.client.Connect()
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		c.log.Error("mqttconn: connect timed out", "connection", c.name)
		return false
	}
	if err := tok.Error(); err != nil {
		c.log.Error("mqttconn: connect failed", "connection", c.name, "error", err)
		return false
	}

	if c.cfg.Topic == "" {
		return true
	}
	subTok := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handleMessage)
	if !subTok.WaitTimeout(c.cfg.SubscribeTimeout) {
		c.log.Error("mqttconn: subscribe timed out", "connection", c.name, "topic", c.cfg.Topic)
		return false
	}
	if err := subTok.Error(); err != nil {
		c.log.Error("mqttconn: subscribe failed", "connection", c.name, "topic", c.cfg.Topic, "error", err)
		return false
	}
	return true
}

func (c *Connection) handleMessage(_ paho.Client, msg paho.Message) {
	if c.listener == nil {
		return
	}
	c.listener.MessageReceived(model.NewMessage(msg.Topic(), msg.Payload()))
}

// Disconnect closes the client connection. Safe to call even if never
// connected.
func (c *Connection) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Publish sends msg at QoS 0, non-retained. Returns false on timeout
// or broker-reported error so the Outbound Publisher (spec.md §4.3)
// pauses and waits for the next Connected transition rather than
// losing the message.
func (c *Connection) Publish(msg *model.Message) bool {
	if c.client == nil || !c.client.IsConnected() {
		return false
	}
	tok := c.client.Publish(msg.Channel, 0, false, msg.Payload)
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		c.log.Warn("mqttconn: publish timed out", "connection", c.name, "channel", msg.Channel)
		return false
	}
	if err := tok.Error(); err != nil {
		c.log.Warn("mqttconn: publish failed", "connection", c.name, "channel", msg.Channel, "error", err)
		return false
	}
	return true
}
