package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/envelope"
	"github.com/rustyeddy/gwbridge/model"
)

func TestMakeOutboundMessageAndClassifyRoundTrip(t *testing.T) {
	p := NewJSON("GW1")

	msg := p.MakeOutboundMessage("D1", model.DeviceRegistration, model.DeviceIdentity{Key: "D1"})
	require.NotNil(t, msg)

	assert.Equal(t, model.DeviceRegistration, p.GetMessageType(msg))
	assert.Equal(t, "D1", p.GetDeviceKey(msg))
}

func TestMakeOutboundMessageGatewayScopedIgnoresDeviceKey(t *testing.T) {
	p := NewJSON("GW1")

	msg := p.MakeOutboundMessage("", model.ChildrenSynchronizationRequest, struct{}{})
	require.NotNil(t, msg)
	assert.Equal(t, model.ChildrenSynchronizationRequest, p.GetMessageType(msg))
	assert.Equal(t, "", p.GetDeviceKey(msg))
}

func TestMakeOutboundMessageDeviceScopedRequiresKey(t *testing.T) {
	p := NewJSON("GW1")
	msg := p.MakeOutboundMessage("", model.DeviceRegistration, model.DeviceIdentity{})
	assert.Nil(t, msg)
}

func TestGetMessageTypeUnknownChannel(t *testing.T) {
	p := NewJSON("GW1")
	mt := p.GetMessageType(model.NewMessage("not/a/recognized/channel/shape", nil))
	assert.Equal(t, model.Unknown, mt)
}

func TestGetResponseChannelForMessage(t *testing.T) {
	p := NewJSON("GW1")

	ch := p.GetResponseChannelForMessage(model.RegisteredDevicesRequest, "")
	assert.Equal(t, "p/GW1/registered-devices-response", ch)

	ch = p.GetResponseChannelForMessage(model.ChildrenSynchronizationRequest, "")
	assert.Equal(t, "p/GW1/children-synchronization-response", ch)

	assert.Equal(t, "", p.GetResponseChannelForMessage(model.FeedValues, "D1"))
}

func TestParseIncomingSubdeviceMessageDirectChannel(t *testing.T) {
	p := NewJSON("GW1")
	msg := p.MakeOutboundMessage("D1", model.DeviceRemoval, model.DeviceIdentity{Key: "D1"})
	require.NotNil(t, msg)

	got := p.ParseIncomingSubdeviceMessage(msg)
	require.Len(t, got, 1)
	assert.Equal(t, "D1", got[0].DeviceKey)
}

func TestParseIncomingSubdeviceMessageEnvelopeBatch(t *testing.T) {
	p := NewJSON("GW1")
	msgs := []model.GatewaySubdeviceMessage{
		{DeviceKey: "D1", Message: *model.NewMessage("sensor/temp", []byte("1"))},
		{DeviceKey: "D2", Message: *model.NewMessage("sensor/temp", []byte("2"))},
	}
	wrapped, err := envelope.WrapBatch(p.ChannelFor(model.FeedValues, ""), msgs)
	require.NoError(t, err)

	got := p.ParseIncomingSubdeviceMessage(wrapped)
	require.Len(t, got, 2)
	assert.Equal(t, "D1", got[0].DeviceKey)
	assert.Equal(t, "D2", got[1].DeviceKey)
}

func TestParseIncomingSubdeviceMessageUnknownDrops(t *testing.T) {
	p := NewJSON("GW1")
	got := p.ParseIncomingSubdeviceMessage(model.NewMessage("garbage", nil))
	assert.Nil(t, got)
}
