// Package externaldata implements the External Data Service (spec
// §4.8): the same relay shape as internaldata, but the "local side" is
// an in-process DataProvider callback API instead of a local broker,
// so host code can feed readings and parameters directly without
// running a second MQTT client.
//
// Grounded on
// original_source/gateway/service/external_data/ExternalDataService.cpp:
// every outbound method (addReading, addReadings, pullFeedValues,
// pullParameters, registerFeed(s), removeFeed(s), addAttribute,
// updateParameter) builds a domain message via the data protocol, then
// packs it with the gateway/subdevice protocol, then hands it to the
// outbound handler — sendDomain below is that same
// three-step shape, generalized over a closed MessageType enumeration
// (FEED_VALUES for feed-shaped operations, PARAMETER_SYNC for
// parameter/attribute ones) rather than one bespoke domain-message
// type per operation. Inbound, receiveMessages dispatches FEED_VALUES
// and PARAMETER_SYNC only, on the service's own Command Queue, exactly
// as the original's m_commandBuffer.pushCommand calls do.
package externaldata

import (
	"encoding/json"
	"log/slog"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/envelope"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/protocol"
)

// DataProvider is the in-process callback API external host code
// drives and receives from (spec §4.8).
type DataProvider interface {
	OnReadingData(deviceKey string, readings []model.Reading)
	OnParameterData(deviceKey string, parameters []model.Parameter)
}

var declaredTypes = []model.MessageType{model.FeedValues, model.ParameterSync}

type feedValuesMessage struct {
	Readings []model.Reading `json:"readings"`
}

type parametersMessage struct {
	Parameters []model.Parameter `json:"parameters"`
}

type feedRegistrationMessage struct {
	Feeds []model.Feed `json:"feeds"`
}

type feedRemovalMessage struct {
	References []string `json:"references"`
}

type attributeMessage struct {
	Attributes []model.Attribute `json:"attributes"`
}

type pullFeedValuesMessage struct{}

type pullParametersMessage struct{}

// Service relays between an in-process DataProvider and the platform
// publisher.
type Service struct {
	gatewayKey string
	proto      protocol.Protocol
	platform   *outbound.Publisher
	provider   DataProvider
	queue      *cmdqueue.Queue
	log        *slog.Logger
}

// New builds an external data relay for the gateway gatewayKey. Each
// outbound message's envelope entry is addressed to the subdevice key
// passed to the operation; its channel is the one proto builds.
func New(gatewayKey string, proto protocol.Protocol, platform *outbound.Publisher, provider DataProvider, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gatewayKey: gatewayKey,
		proto:      proto,
		platform:   platform,
		provider:   provider,
		queue:      cmdqueue.New(32),
		log:        log,
	}
}

// Shutdown drains the service's own Command Queue.
func (s *Service) Shutdown() { s.queue.Shutdown() }

// DeclaredTypes implements router.Listener: FEED_VALUES and
// PARAMETER_SYNC only.
func (s *Service) DeclaredTypes() []model.MessageType {
	return declaredTypes
}

// ReceiveMessages implements router.Listener. Each inbound subdevice
// message is parsed as either a feed-values or parameter-sync payload
// and dispatched to the provider on the service's own Command Queue.
func (s *Service) ReceiveMessages(msgs []model.GatewaySubdeviceMessage) {
	if len(msgs) == 0 {
		s.log.Warn("externaldata: received an empty subdevice message batch")
		return
	}
	for _, m := range msgs {
		t := s.proto.GetMessageType(&m.Message)
		switch t {
		case model.FeedValues:
			var fv feedValuesMessage
			if err := json.Unmarshal(m.Message.Payload, &fv); err != nil {
				s.log.Error("externaldata: failed to parse feed values message", "device", m.DeviceKey, "error", err)
				continue
			}
			deviceKey, readings := m.DeviceKey, fv.Readings
			s.queue.Submit(func() { s.provider.OnReadingData(deviceKey, readings) })
		case model.ParameterSync:
			var pm parametersMessage
			if err := json.Unmarshal(m.Message.Payload, &pm); err != nil {
				s.log.Error("externaldata: failed to parse parameter sync message", "device", m.DeviceKey, "error", err)
				continue
			}
			deviceKey, params := m.DeviceKey, pm.Parameters
			s.queue.Submit(func() { s.provider.OnParameterData(deviceKey, params) })
		default:
			s.log.Debug("externaldata: ignoring message of unhandled type", "type", t)
		}
	}
}

// sendDomain builds a domain message for deviceKey, wraps it with the
// gateway envelope, and enqueues it to the platform. Any failure along
// the way is logged and the operation is dropped.
func (s *Service) sendDomain(op string, deviceKey string, t model.MessageType, domain any) {
	msg := s.proto.MakeOutboundMessage(deviceKey, t, domain)
	if msg == nil {
		s.log.Error("externaldata: protocol refused to build outgoing message", "op", op, "device", deviceKey)
		return
	}
	wrapped, err := envelope.Wrap(deviceKey, msg)
	if err != nil {
		s.log.Error("externaldata: failed to wrap outgoing message", "op", op, "device", deviceKey, "error", err)
		return
	}
	s.platform.Enqueue(wrapped)
}

func (s *Service) AddReading(deviceKey string, reading model.Reading) {
	s.sendDomain("addReading", deviceKey, model.FeedValues, feedValuesMessage{Readings: []model.Reading{reading}})
}

func (s *Service) AddReadings(deviceKey string, readings []model.Reading) {
	s.sendDomain("addReadings", deviceKey, model.FeedValues, feedValuesMessage{Readings: readings})
}

func (s *Service) PullFeedValues(deviceKey string) {
	s.sendDomain("pullFeedValues", deviceKey, model.FeedValues, pullFeedValuesMessage{})
}

func (s *Service) PullParameters(deviceKey string) {
	s.sendDomain("pullParameters", deviceKey, model.ParameterSync, pullParametersMessage{})
}

func (s *Service) RegisterFeed(deviceKey string, feed model.Feed) {
	s.sendDomain("registerFeed", deviceKey, model.FeedValues, feedRegistrationMessage{Feeds: []model.Feed{feed}})
}

func (s *Service) RegisterFeeds(deviceKey string, feeds []model.Feed) {
	s.sendDomain("registerFeeds", deviceKey, model.FeedValues, feedRegistrationMessage{Feeds: feeds})
}

func (s *Service) RemoveFeed(deviceKey, reference string) {
	s.sendDomain("removeFeed", deviceKey, model.FeedValues, feedRemovalMessage{References: []string{reference}})
}

func (s *Service) RemoveFeeds(deviceKey string, references []string) {
	s.sendDomain("removeFeeds", deviceKey, model.FeedValues, feedRemovalMessage{References: references})
}

func (s *Service) AddAttribute(deviceKey string, attribute model.Attribute) {
	s.sendDomain("addAttribute", deviceKey, model.ParameterSync, attributeMessage{Attributes: []model.Attribute{attribute}})
}

func (s *Service) UpdateParameter(deviceKey string, parameter model.Parameter) {
	s.sendDomain("updateParameter", deviceKey, model.ParameterSync, parametersMessage{Parameters: []model.Parameter{parameter}})
}
