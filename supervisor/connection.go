package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/timer"
	"github.com/rustyeddy/gwbridge/transport"
)

// State is one of the three states in spec.md §4.11's connection state
// diagram.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// reconnectDelay is spec.md §4.11's fixed RECONNECT_DELAY.
const reconnectDelay = 2 * time.Second

// connectionMachine drives one Connection through spec.md §4.11's
// state diagram:
//
//	Disconnected --connect()--> Connecting
//	Connecting   --ok-------->  Connected
//	Connecting   --fail------>  Disconnected (scheduleReconnect)
//	Connected    --lost------>  Disconnected (scheduleReconnect)
//	Connected    --disconnect-> Disconnected
//
// Both the initial connect attempt and every scheduled reconnect run
// as items on the machine's own Command Queue, so they serialize with
// everything else the owning connection's services do - grounded on
// messenger.Messenger.Connect's subscribe-after-connect sequencing and
// station.StationManager.Start's ticker-driven background loop.
//
// A gobreaker.CircuitBreaker wraps the underlying conn.Connect() call:
// a connection that keeps failing to come up trips the breaker, which
// turns a hot reconnect loop (one attempt every RECONNECT_DELAY,
// forever) into a wider backoff instead of hammering a broker that is
// clearly down.
type connectionMachine struct {
	name string
	conn transport.Connection

	publisher *outbound.Publisher
	queue     *cmdqueue.Queue
	breaker   *gobreaker.CircuitBreaker
	log       *slog.Logger

	onConnected    func()
	onDisconnected func()
	onStateChange  func(State)

	mu    sync.Mutex
	state State

	stopped bool
}

func newConnectionMachine(name string, conn transport.Connection, publisher *outbound.Publisher, log *slog.Logger, onConnected, onDisconnected func(), onStateChange func(State)) *connectionMachine {
	m := &connectionMachine{
		name:           name,
		conn:           conn,
		publisher:      publisher,
		queue:          cmdqueue.New(16),
		log:            log,
		onConnected:    onConnected,
		onDisconnected: onDisconnected,
		onStateChange:  onStateChange,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name + "-connect",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(bname string, from, to gobreaker.State) {
			m.log.Warn("supervisor: connect circuit breaker changed state", "connection", bname, "from", from, "to", to)
		},
	})
	conn.OnConnectionLost(func(err error) {
		m.queue.Submit(func() { m.handleConnectionLost(err) })
	})
	return m
}

// State reports the machine's current state.
func (m *connectionMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *connectionMachine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.onStateChange != nil {
		m.onStateChange(s)
	}
}

// Start submits the first connect attempt onto the machine's Command
// Queue.
func (m *connectionMachine) Start() {
	m.queue.Submit(m.attemptConnect)
}

// Stop marks the machine disconnected and releases the underlying
// connection; pending reconnect timers are left to fire and no-op
// once stopped is observed.
func (m *connectionMachine) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.conn.Disconnect()
	m.setState(Disconnected)
	m.queue.Shutdown()
}

func (m *connectionMachine) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *connectionMachine) attemptConnect() {
	if m.isStopped() {
		return
	}
	m.setState(Connecting)
	_, err := m.breaker.Execute(func() (interface{}, error) {
		if !m.conn.Connect() {
			return nil, fmt.Errorf("%s: connect returned false", m.name)
		}
		return nil, nil
	})
	if err != nil {
		m.log.Error("supervisor: connect attempt failed", "connection", m.name, "error", err)
		m.enterDisconnected()
		return
	}
	m.enterConnected()
}

func (m *connectionMachine) enterConnected() {
	m.setState(Connected)
	if m.publisher != nil {
		m.publisher.SetConnected(true)
	}
	m.log.Info("supervisor: connection established", "connection", m.name)
	if m.onConnected != nil {
		m.onConnected()
	}
}

func (m *connectionMachine) enterDisconnected() {
	m.setState(Disconnected)
	if m.publisher != nil {
		m.publisher.SetConnected(false)
	}
	if m.onDisconnected != nil {
		m.onDisconnected()
	}
	m.scheduleReconnect()
}

func (m *connectionMachine) scheduleReconnect() {
	if m.isStopped() {
		return
	}
	timer.StartOnce(reconnectDelay, func() {
		m.queue.Submit(m.attemptConnect)
	})
}

func (m *connectionMachine) handleConnectionLost(err error) {
	if m.State() != Connected {
		return
	}
	m.log.Warn("supervisor: connection lost", "connection", m.name, "error", err)
	m.enterDisconnected()
}
