package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustyeddy/gwbridge/envelope"
	"github.com/rustyeddy/gwbridge/model"
)

// responseType maps a request MessageType to the type its response
// carries, mirroring the correlation pairs devices.Service registers
// with the retry layer.
var responseType = map[model.MessageType]model.MessageType{
	model.RegisteredDevicesRequest:       model.RegisteredDevicesResponse,
	model.ChildrenSynchronizationRequest: model.ChildrenSynchronizationResponse,
}

// deviceScoped types carry a single subdevice's domain request or
// response; their channel ends in a literal device-key segment.
var deviceScoped = map[model.MessageType]bool{
	model.DeviceRegistration: true,
	model.DeviceRemoval:      true,
}

// batchScoped types are telemetry and file/firmware traffic that may
// fan out across several subdevices in one platform publish; their
// channel carries no device key, and their payload is an envelope
// batch (see the envelope package) addressed per-entry.
var batchScoped = map[model.MessageType]bool{
	model.FeedValues:            true,
	model.ParameterSync:         true,
	model.TimeSync:              true,
	model.FileUploadInit:        true,
	model.FileUploadAbort:       true,
	model.FileBinaryResponse:    true,
	model.FileURLDownloadInit:   true,
	model.FileURLDownloadAbort:  true,
	model.FileListRequest:       true,
	model.FileDelete:            true,
	model.FilePurge:             true,
	model.FirmwareUpdateInstall: true,
	model.FirmwareUpdateAbort:   true,
}

// JSON is a reference Protocol implementation: channels are
// "/"-segmented strings of the form "p/<gatewayKey>/<type>[/<deviceKey>]",
// payloads are JSON-encoded domain structs (or, for batchScoped types,
// an envelope.WrapBatch payload). It exists so the rest of the core
// (router, devices, internaldata, externaldata) can be exercised in
// tests without a real platform-side codec. Grounded on
// original_source/src/connectivity/json/{RegistrationProtocol,
// StatusProtocol}.h, which classify messages positionally from
// "/"-delimited topics in the same way.
type JSON struct {
	gatewayKey string
}

// NewJSON builds a JSON protocol scoped to gatewayKey; every channel
// it mints or recognizes is rooted at "p/<gatewayKey>".
func NewJSON(gatewayKey string) *JSON {
	return &JSON{gatewayKey: gatewayKey}
}

func slug(t model.MessageType) string {
	return strings.ToLower(strings.ReplaceAll(t.String(), "_", "-"))
}

var slugToType = func() map[string]model.MessageType {
	m := make(map[string]model.MessageType)
	for t := 0; t <= int(model.ChildrenSynchronizationResponse); t++ {
		mt := model.MessageType(t)
		m[slug(mt)] = mt
	}
	return m
}()

// ChannelFor returns the channel a message of type t, addressed to
// deviceKey, is published on. deviceKey is ignored for batch-scoped
// and gateway-scoped types.
func (p *JSON) ChannelFor(t model.MessageType, deviceKey string) string {
	base := fmt.Sprintf("p/%s/%s", p.gatewayKey, slug(t))
	if deviceScoped[t] && deviceKey != "" {
		return base + "/" + deviceKey
	}
	return base
}

// GetMessageType classifies msg by its third path segment
// ("p/<gw>/<type>[/<key>]").
func (p *JSON) GetMessageType(msg *model.Message) model.MessageType {
	parts := strings.Split(msg.Channel, "/")
	if len(parts) < 3 {
		return model.Unknown
	}
	if mt, ok := slugToType[parts[2]]; ok {
		return mt
	}
	return model.Unknown
}

// GetDeviceKey returns the fourth path segment ("p/<gw>/<type>/<key>"),
// or "" when the channel has no device segment.
func (p *JSON) GetDeviceKey(msg *model.Message) string {
	parts := strings.Split(msg.Channel, "/")
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// ParseIncomingSubdeviceMessage unwraps a batch-scoped message via the
// envelope codec; for a device-scoped or gateway-scoped channel it
// passes the message through as a one-element list addressed to the
// device key GetDeviceKey extracts (empty for gateway-scoped types,
// which carry no subdevice at all and so unwrap to a single entry
// whose DeviceKey is "").
func (p *JSON) ParseIncomingSubdeviceMessage(msg *model.Message) []model.GatewaySubdeviceMessage {
	t := p.GetMessageType(msg)
	if t == model.Unknown {
		return nil
	}
	if batchScoped[t] {
		return envelope.Unwrap(msg)
	}
	return []model.GatewaySubdeviceMessage{{DeviceKey: p.GetDeviceKey(msg), Message: *msg}}
}

// MakeOutboundMessage JSON-encodes domain and mints a channel for type
// t addressed to deviceKey. Returns nil when domain cannot be
// marshalled, or when t is device-scoped but deviceKey is empty.
func (p *JSON) MakeOutboundMessage(deviceKey string, t model.MessageType, domain any) *model.Message {
	if deviceScoped[t] && deviceKey == "" {
		return nil
	}
	body, err := json.Marshal(domain)
	if err != nil {
		return nil
	}
	return model.NewMessage(p.ChannelFor(t, deviceKey), body)
}

// GetResponseChannelForMessage returns the channel a response to a
// message of type t, addressed to deviceKey, will arrive on. Types
// with no declared response (e.g. FeedValues, which is fire-and-
// forget) return "".
func (p *JSON) GetResponseChannelForMessage(t model.MessageType, deviceKey string) string {
	rt, ok := responseType[t]
	if !ok {
		return ""
	}
	return p.ChannelFor(rt, deviceKey)
}

// connectionStatusMessage is the payload of a platform connection
// status announcement. Mirrors original_source's ConnectivityStatus
// enum (CONNECTED/OFFLINE) rather than a bare bool, since that is the
// wire value the original GatewayPlatformStatusProtocol sends.
type connectionStatusMessage struct {
	Status string `json:"status"`
}

const (
	statusConnected = "CONNECTED"
	statusOffline   = "OFFLINE"
)

// MakeConnectionStatusMessage builds the local-bus announcement the
// status package sends on every platform connect/disconnect
// transition. It lives outside the closed MessageType classification
// system deliberately: original_source gives this its own narrow
// GatewayPlatformStatusProtocol rather than folding it into the
// general gateway protocol, and this method is the Go analog of that
// split collaborator.
func (p *JSON) MakeConnectionStatusMessage(deviceKey string, connected bool) *model.Message {
	status := statusOffline
	if connected {
		status = statusConnected
	}
	body, err := json.Marshal(connectionStatusMessage{Status: status})
	if err != nil {
		return nil
	}
	return model.NewMessage(fmt.Sprintf("l/%s/status", deviceKey), body)
}
