// Package internaldata implements the Internal Data Service (spec
// §4.7): a stateless relay between the local bus and the platform for
// telemetry, parameter, time-sync, file, and firmware-update traffic.
// Local messages are wrapped with the gateway envelope and pushed to
// the platform publisher; platform messages are unwrapped and pushed
// to the local publisher verbatim, one per subdevice.
//
// Grounded on
// original_source/gateway/service/internal_data/InternalDataService.cpp,
// whose messageReceived/receiveMessages pair does exactly this with no
// state beyond the gateway key and the two OutboundMessageHandlers;
// the declared MessageType list below matches its getMessageTypes()
// precisely (and is, not coincidentally, the batch-scoped type set
// protocol.JSON recognizes).
package internaldata

import (
	"log/slog"

	"github.com/rustyeddy/gwbridge/envelope"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
)

// declaredTypes is the set of message types this service relays: all
// telemetry, parameter, time-sync, file-*, and firmware-update* types.
var declaredTypes = []model.MessageType{
	model.FeedValues,
	model.ParameterSync,
	model.TimeSync,
	model.FileUploadInit,
	model.FileUploadAbort,
	model.FileBinaryResponse,
	model.FileURLDownloadInit,
	model.FileURLDownloadAbort,
	model.FileListRequest,
	model.FileDelete,
	model.FilePurge,
	model.FirmwareUpdateInstall,
	model.FirmwareUpdateAbort,
}

// Service relays local-bus messages to the platform publisher (wrapped
// in a gateway envelope) and platform messages to the local publisher
// (unwrapped, verbatim). It is registered with the platform Inbound
// Router; the supervisor hands local-bus messages to MessageReceived
// directly.
type Service struct {
	deviceKey string // the local device identity the envelope addresses outbound traffic to
	platform  *outbound.Publisher
	local     *outbound.Publisher
	log       *slog.Logger
}

// New builds an internal data relay. deviceKey is the local device
// identity used to address messages wrapped for the platform; in the
// common case where the local bus carries one device's traffic this
// is the gateway's own key. Every message passed to MessageReceived is
// addressed to this one key; a multi-device local bus configures one
// Service per device.
func New(deviceKey string, platform, local *outbound.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{deviceKey: deviceKey, platform: platform, local: local, log: log}
}

// DeclaredTypes implements router.Listener.
func (s *Service) DeclaredTypes() []model.MessageType {
	return declaredTypes
}

// MessageReceived handles one local-bus message: wrap it in a gateway
// envelope addressed to s.deviceKey and enqueue it to the platform.
func (s *Service) MessageReceived(msg *model.Message) {
	wrapped, err := envelope.Wrap(s.deviceKey, msg)
	if err != nil {
		s.log.Error("internaldata: failed to wrap local message for platform", "channel", msg.Channel, "error", err)
		return
	}
	s.platform.Enqueue(wrapped)
}

// ReceiveMessages implements router.Listener: it is invoked with the
// platform envelope already unwrapped into per-subdevice messages, and
// relays each one verbatim onto the local publisher.
func (s *Service) ReceiveMessages(msgs []model.GatewaySubdeviceMessage) {
	for _, m := range msgs {
		inner := m.Message
		s.local.Enqueue(&inner)
	}
}
