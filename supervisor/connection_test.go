package supervisor

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu          sync.Mutex
	connectFn   func() bool
	lostHandler func(error)
	disconnects int
}

func (c *fakeConn) Connect() bool {
	if c.connectFn != nil {
		return c.connectFn()
	}
	return true
}
func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}
func (c *fakeConn) Publish(*model.Message) bool    { return true }
func (c *fakeConn) SetListener(transport.Listener) {}
func (c *fakeConn) OnConnectionLost(cb func(error)) {
	c.mu.Lock()
	c.lostHandler = cb
	c.mu.Unlock()
}

func (c *fakeConn) triggerLost(err error) {
	c.mu.Lock()
	cb := c.lostHandler
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func newTestPublisher() *outbound.Publisher {
	return outbound.New(outbound.NewMemoryQueue(), &fakeConn{}, nil)
}

func TestConnectionMachineSuccessfulConnectEntersConnected(t *testing.T) {
	conn := &fakeConn{}
	pub := newTestPublisher()
	defer pub.Shutdown()

	var connectedCalls int32
	m := newConnectionMachine("t", conn, pub, testLogger(), func() { atomic.AddInt32(&connectedCalls, 1) }, nil, nil)
	m.Start()

	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&connectedCalls))
}

func TestConnectionMachineFailedConnectDoesNotEnterConnected(t *testing.T) {
	conn := &fakeConn{}
	var attempts int32
	conn.connectFn = func() bool {
		n := atomic.AddInt32(&attempts, 1)
		return n > 1 // fail first attempt, succeed on retry
	}
	pub := newTestPublisher()
	defer pub.Shutdown()

	// Shrink the reconnect delay for the test by constructing the
	// machine directly and invoking its private retry path would
	// require touching the package constant; instead we only assert
	// the first attempt lands in Disconnected, which proves the
	// failure branch ran without waiting out the full delay.
	m := newConnectionMachine("t", conn, pub, testLogger(), nil, nil, nil)
	m.Start()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second, time.Millisecond)
	assert.NotEqual(t, Connected, m.State())
}

func TestConnectionMachineConnectionLostReentersDisconnected(t *testing.T) {
	conn := &fakeConn{}
	pub := newTestPublisher()
	defer pub.Shutdown()

	var disconnectedCalls int32
	m := newConnectionMachine("t", conn, pub, testLogger(), nil, func() { atomic.AddInt32(&disconnectedCalls, 1) }, nil)
	m.Start()
	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)

	conn.triggerLost(assert.AnError)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&disconnectedCalls) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Disconnected, m.State())
}

func TestConnectionMachineStopDisconnectsAndEntersDisconnected(t *testing.T) {
	conn := &fakeConn{}
	pub := newTestPublisher()
	defer pub.Shutdown()

	m := newConnectionMachine("t", conn, pub, testLogger(), nil, nil, nil)
	m.Start()
	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)

	m.Stop()
	conn.mu.Lock()
	disconnects := conn.disconnects
	conn.mu.Unlock()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, Disconnected, m.State())
}

func TestConnectionMachineOnStateChangeFiresForEveryTransition(t *testing.T) {
	conn := &fakeConn{}
	pub := newTestPublisher()
	defer pub.Shutdown()

	var mu sync.Mutex
	var seen []State
	m := newConnectionMachine("t", conn, pub, testLogger(), nil, nil, func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	m.Start()

	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, Connecting)
	assert.Contains(t, seen, Connected)
}
