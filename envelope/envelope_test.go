package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/model"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	inner := model.NewMessage("p/GW1/feed-values", []byte("25.5"))

	wrapped, err := Wrap("D1", inner)
	require.NoError(t, err)
	assert.Equal(t, inner.Channel, wrapped.Channel)

	got := Unwrap(wrapped)
	require.Len(t, got, 1)
	assert.Equal(t, "D1", got[0].DeviceKey)
	assert.Equal(t, inner.Channel, got[0].Message.Channel)
	assert.Equal(t, inner.Payload, got[0].Message.Payload)
}

func TestWrapRequiresDeviceKey(t *testing.T) {
	_, err := Wrap("", model.NewMessage("p/GW1/feed-values", nil))
	assert.Error(t, err)
}

func TestWrapBatchFansOutMultipleDevices(t *testing.T) {
	msgs := []model.GatewaySubdeviceMessage{
		{DeviceKey: "D1", Message: *model.NewMessage("sensor/temp", []byte("1"))},
		{DeviceKey: "D2", Message: *model.NewMessage("sensor/temp", []byte("2"))},
	}
	wrapped, err := WrapBatch("p/GW1/feed-values", msgs)
	require.NoError(t, err)
	assert.Equal(t, "p/GW1/feed-values", wrapped.Channel)

	got := Unwrap(wrapped)
	require.Len(t, got, 2)
	assert.Equal(t, "D1", got[0].DeviceKey)
	assert.Equal(t, "D2", got[1].DeviceKey)
}

func TestUnwrapInvalidPayloadReturnsEmpty(t *testing.T) {
	got := Unwrap(model.NewMessage("p/GW1/feed-values", []byte("not json")))
	assert.Empty(t, got)
}
