package model

// RegisteredDevicesRequestParameters is both an outgoing catalog query
// and, by value, the key used to locate the pending callback when the
// matching response arrives. Equality is over all three fields, which
// is exactly what Go's comparable struct semantics give for free when
// used as a map key.
type RegisteredDevicesRequestParameters struct {
	FromTimestamp int64
	DeviceType    string
	ExternalID    string
}

// RegisteredDevicesResponseDevice is one entry in a RegisteredDevicesResponse.
type RegisteredDevicesResponseDevice struct {
	DeviceKey  string
	ExternalID string
	DeviceType string
}

// RegisteredDevicesResponseMessage is the parsed platform response to a
// RegisteredDevicesRequest.
type RegisteredDevicesResponseMessage struct {
	RegisteredDevicesRequestParameters
	MatchingDevices []RegisteredDevicesResponseDevice
}

// RegisteredDevicesRequestCallback fires exactly once: with the response
// when one matching its request parameters arrives, or with nil when the
// request's retry budget is exhausted without a response.
type RegisteredDevicesRequestCallback struct {
	SentAt     int64
	OnResponse func(*RegisteredDevicesResponseMessage)
}

// GatewaySubdeviceMessage is one logical inner message destined for a
// single subdevice, produced by unwrapping a platform envelope.
type GatewaySubdeviceMessage struct {
	DeviceKey string
	Message   Message
}
