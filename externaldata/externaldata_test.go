package externaldata

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/envelope"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/protocol"
	"github.com/rustyeddy/gwbridge/transport"
)

type noopConn struct{}

func (noopConn) Connect() bool                  { return true }
func (noopConn) Disconnect()                    {}
func (noopConn) Publish(*model.Message) bool    { return true }
func (noopConn) SetListener(transport.Listener) {}
func (noopConn) OnConnectionLost(func(error))   {}

type fakeProvider struct {
	mu       sync.Mutex
	readings map[string][]model.Reading
	params   map[string][]model.Parameter
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{readings: map[string][]model.Reading{}, params: map[string][]model.Parameter{}}
}

func (p *fakeProvider) OnReadingData(deviceKey string, readings []model.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings[deviceKey] = readings
}

func (p *fakeProvider) OnParameterData(deviceKey string, parameters []model.Parameter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params[deviceKey] = parameters
}

func (p *fakeProvider) readingsFor(key string) []model.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readings[key]
}

func TestAddReadingWrapsAndEnqueuesToPlatform(t *testing.T) {
	q := outbound.NewMemoryQueue()
	platform := outbound.New(q, noopConn{}, nil)
	defer platform.Shutdown()

	proto := protocol.NewJSON("GW1")
	svc := New("GW1", proto, platform, newFakeProvider(), nil)

	svc.AddReading("D1", model.Reading{Reference: "T", Value: "25"})

	front, err := q.Front()
	require.NoError(t, err)
	require.NotNil(t, front)
	assert.Equal(t, proto.ChannelFor(model.FeedValues, ""), front.Channel)

	unwrapped := envelope.Unwrap(front)
	require.Len(t, unwrapped, 1)
	assert.Equal(t, "D1", unwrapped[0].DeviceKey)
}

func TestReceiveMessagesDispatchesFeedValuesToProvider(t *testing.T) {
	proto := protocol.NewJSON("GW1")
	provider := newFakeProvider()
	svc := New("GW1", proto, nil, provider, nil)
	defer svc.Shutdown()

	msg := proto.MakeOutboundMessage("", model.FeedValues, feedValuesMessage{Readings: []model.Reading{{Reference: "T", Value: "25"}}})
	require.NotNil(t, msg)

	svc.ReceiveMessages([]model.GatewaySubdeviceMessage{{DeviceKey: "D1", Message: *msg}})

	require.Eventually(t, func() bool {
		return len(provider.readingsFor("D1")) == 1
	}, time.Second, time.Millisecond)
}

func TestReceiveMessagesEmptyBatchIsDropped(t *testing.T) {
	svc := New("GW1", protocol.NewJSON("GW1"), nil, newFakeProvider(), nil)
	defer svc.Shutdown()
	svc.ReceiveMessages(nil) // must not panic
}

func TestDeclaredTypesIsFeedValuesAndParameterSyncOnly(t *testing.T) {
	svc := New("GW1", protocol.NewJSON("GW1"), nil, newFakeProvider(), nil)
	defer svc.Shutdown()
	assert.ElementsMatch(t, []model.MessageType{model.FeedValues, model.ParameterSync}, svc.DeclaredTypes())
}
