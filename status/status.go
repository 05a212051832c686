// Package status implements the Platform-Status Service (spec §4.10):
// a one-operation component that announces the gateway's platform
// connectivity onto the local bus. The Gateway Supervisor calls it
// twice per platform-connection transition - once on connect, once on
// disconnect.
//
// Grounded on
// original_source/gateway/service/platform_status/GatewayPlatformStatusService.cpp,
// which is itself a thin wrapper: build via a narrow status protocol,
// bail out and log on a nil message or a failed publish.
package status

import (
	"log/slog"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
)

// Protocol is the narrow status-announcement collaborator. It is kept
// separate from protocol.Protocol's closed MessageType classification
// because original_source gives this its own protocol type
// (GatewayPlatformStatusProtocol) rather than folding it into the
// general gateway protocol.
type Protocol interface {
	MakeConnectionStatusMessage(deviceKey string, connected bool) *model.Message
}

// Service publishes connection-status announcements onto the local
// bus.
type Service struct {
	gatewayKey string
	proto      Protocol
	local      *outbound.Publisher
	log        *slog.Logger
}

// New builds a Platform-Status Service. local is the local-bus
// publisher; the announcement never touches the platform connection.
func New(gatewayKey string, proto Protocol, local *outbound.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gatewayKey: gatewayKey, proto: proto, local: local, log: log}
}

// SendPlatformConnectionStatusMessage builds and publishes the
// connection-status announcement. Logs and returns if the protocol
// refuses to build the message; the Outbound Publisher's own Enqueue
// already logs and drops on a queue failure, so there is no separate
// publish-failure branch here.
func (s *Service) SendPlatformConnectionStatusMessage(connected bool) {
	msg := s.proto.MakeConnectionStatusMessage(s.gatewayKey, connected)
	if msg == nil {
		s.log.Error("status: failed to build platform connection status message", "connected", connected)
		return
	}
	s.local.Enqueue(msg)
}
