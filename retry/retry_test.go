package retry

import (
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

type countingConn struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingConn) Publish(msg *model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg.Channel)
	return true
}
func (c *countingConn) Connect() bool                { return true }
func (c *countingConn) Disconnect()                  {}
func (c *countingConn) SetListener(transport.Listener) {}
func (c *countingConn) OnConnectionLost(func(error)) {}

func (c *countingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		pattern, channel string
		want             bool
	}{
		{"p/d/D1/sensor", "p/d/D1/sensor", true},
		{"p/d/+/sensor", "p/d/D1/sensor", true},
		{"p/d/+/sensor", "p/d/D1/D2/sensor", false},
		{"p/d/#", "p/d/D1/sensor/extra", true},
		{"p/d/D1", "p/d/D2", false},
		{"p/+/+", "p/d", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TopicMatches(c.pattern, c.channel), "pattern=%s channel=%s", c.pattern, c.channel)
	}
}

func TestNotifyResponseClearsMatchingRecord(t *testing.T) {
	conn := &countingConn{}
	pub := outbound.New(outbound.NewMemoryQueue(), conn, nil)
	defer pub.Shutdown()
	pub.SetConnected(true)

	layer := NewLayer(pub, nil)
	defer layer.Shutdown()

	var failed int32
	layer.Add(model.NewMessage("req", nil), "resp/+/ack", 3, 10*time.Millisecond, func(_ *model.Message) {
		atomic.AddInt32(&failed, 1)
	})

	layer.NotifyResponse(model.NewMessage("resp/D1/ack", nil))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&failed), "onFail must not run after a matching response")
	assert.Equal(t, 0, layer.ActiveCount())
}

func TestRetryExhaustionFiresOnFailOnce(t *testing.T) {
	conn := &countingConn{}
	pub := outbound.New(outbound.NewMemoryQueue(), conn, nil)
	defer pub.Shutdown()
	pub.SetConnected(true)

	layer := NewLayer(pub, nil)
	defer layer.Shutdown()

	var failed int32
	layer.Add(model.NewMessage("req", nil), "resp/never", 2, 10*time.Millisecond, func(msg *model.Message) {
		atomic.AddInt32(&failed, 1)
		assert.Nil(t, msg)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&failed) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&failed), "onFail must fire exactly once")

	require.Eventually(t, func() bool {
		return layer.ActiveCount() == 0
	}, time.Second, 5*time.Millisecond)

	// initial send + 2 retries = 3 publishes minimum
	assert.GreaterOrEqual(t, conn.count(), 3)
}
