// Package protocol declares the pluggable wire-codec contract (spec
// §6.1) and provides a JSON reference implementation. The core never
// interprets payload bytes beyond what a Protocol exposes: message
// classification, device-key extraction, envelope parsing, outbound
// message construction, and response-channel computation all go
// through this interface. Grounded on the external collaborator
// boundary the teacher draws around its own messenger.Msg (topic split
// into path segments, station/device key extracted positionally) and
// on original_source/src/protocol/GatewayProtocol.h and
// src/connectivity/json/{RegistrationProtocol,StatusProtocol}.h, which
// draw the same line between "core routing" and "protocol knows the
// wire format."
package protocol

import (
	"github.com/rustyeddy/gwbridge/model"
)

// Protocol classifies and builds messages for one wire format. A
// concrete Protocol is supplied by the operator, not by this module;
// JSON below is a usable reference implementation, not the only one.
type Protocol interface {
	// GetMessageType classifies msg from its channel and/or payload.
	// Returns model.Unknown when the message cannot be classified.
	GetMessageType(msg *model.Message) model.MessageType

	// GetDeviceKey extracts the subdevice key embedded in msg's
	// channel, or "" if none is present.
	GetDeviceKey(msg *model.Message) string

	// ParseIncomingSubdeviceMessage unwraps a gateway envelope into
	// the inner per-subdevice messages it carries. Returns nil when
	// msg carries no recognizable envelope.
	ParseIncomingSubdeviceMessage(msg *model.Message) []model.GatewaySubdeviceMessage

	// MakeOutboundMessage builds a publishable Message for one domain
	// message type addressed to deviceKey. Returns nil when domain
	// cannot be encoded (an unsupported type, or domain of the wrong
	// shape for t).
	MakeOutboundMessage(deviceKey string, t model.MessageType, domain any) *model.Message

	// GetResponseChannelForMessage returns the channel pattern a
	// response to a message of type t, addressed to deviceKey, will
	// arrive on. Used to register retry-layer expectations.
	GetResponseChannelForMessage(t model.MessageType, deviceKey string) string
}
