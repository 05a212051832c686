// Package devices implements the Devices Service (spec §4.9): the
// busiest component in the gateway. It bridges local device lifecycle
// requests to the platform, correlates the platform's asynchronous
// responses back to the right caller, and keeps the device repository
// in step with what the platform reports as attached.
//
// Grounded on
// original_source/gateway/service/devices/DevicesService.{h,cpp} for
// the basic shape (gateway key, platform protocol/handlers, optional
// local protocol/handler, optional device repository, the
// RegisteredDevicesRequestParameters value-keyed callback map) and on
// original_source/tests/DevicesServiceTests.cpp for the fuller surface
// that the shipped .cpp/.h pair predates: registerChildDevices,
// removeChildDevices, sendOutChildrenSynchronizationRequest and the
// m_childSyncRequests FIFO, which the test fixture exercises directly
// via its friend-test access. The children-synchronization response
// handler's reconciliation against an existing-devices collaborator
// (save confirmed children, add newly-seen keys, remove locally-known
// keys the platform no longer lists) is grounded on the same test
// file's HandleChildrenSynchronizationResponseWithCallback case.
package devices

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/existingdevices"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/protocol"
	"github.com/rustyeddy/gwbridge/repository"
	"github.com/rustyeddy/gwbridge/retry"
)

const (
	defaultRetryCount    = 3
	defaultRetryInterval = 5 * time.Second
)

var declaredTypes = []model.MessageType{
	model.DeviceRegistration,
	model.DeviceRemoval,
	model.RegisteredDevicesRequest,
	model.RegisteredDevicesResponse,
	model.ChildrenSynchronizationResponse,
}

type deviceRegistrationMessage struct {
	Devices []model.DeviceIdentity `json:"devices"`
}

type deviceRegistrationResponseMessage struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
}

type deviceRemovalMessage struct {
	DeviceKeys []string `json:"deviceKeys"`
}

type childrenSynchronizationRequestMessage struct{}

type childrenSynchronizationResponseMessage struct {
	Children []string `json:"children"`
}

// childSyncCallback is fired exactly once when a matching
// CHILDREN_SYNCHRONIZATION_RESPONSE is handled, or when the retry
// budget for the request is exhausted (children nil, timedOut true).
type childSyncCallback struct {
	lambda func(children []string, timedOut bool)
}

// Service is the Devices Service. The local-side fields (localProto,
// local, existing) are optional: a gateway with no local bus still
// maintains the repository via updateDeviceCache.
type Service struct {
	gatewayKey string

	platformProto protocol.Protocol
	platform      *outbound.Publisher
	retryLayer    *retry.Layer

	localProto protocol.Protocol
	local      *outbound.Publisher

	repo     *repository.Repository
	existing *existingdevices.JSONLog

	retryCount    int
	retryInterval time.Duration

	queue *cmdqueue.Queue
	log   *slog.Logger

	mu                        sync.Mutex
	childSyncRequests         []*childSyncCallback
	registeredDevicesRequests map[model.RegisteredDevicesRequestParameters]*model.RegisteredDevicesRequestCallback
}

// New builds a Devices Service. localProto/local may be nil to disable
// local-bus bridging; repo/existing may be nil to disable repository
// maintenance. retryCount <= 0 and retryInterval <= 0 fall back to the
// original's RETRY_COUNT (3) and RETRY_TIMEOUT (5s).
func New(gatewayKey string, platformProto protocol.Protocol, platform *outbound.Publisher, retryLayer *retry.Layer,
	localProto protocol.Protocol, local *outbound.Publisher,
	repo *repository.Repository, existing *existingdevices.JSONLog,
	retryCount int, retryInterval time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if retryCount <= 0 {
		retryCount = defaultRetryCount
	}
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &Service{
		gatewayKey:                gatewayKey,
		platformProto:             platformProto,
		platform:                  platform,
		retryLayer:                retryLayer,
		localProto:                localProto,
		local:                     local,
		repo:                      repo,
		existing:                  existing,
		retryCount:                retryCount,
		retryInterval:             retryInterval,
		queue:                     cmdqueue.New(64),
		log:                       log,
		registeredDevicesRequests: make(map[model.RegisteredDevicesRequestParameters]*model.RegisteredDevicesRequestCallback),
	}
}

// Shutdown drains the service's own Command Queue.
func (s *Service) Shutdown() { s.queue.Shutdown() }

// DeclaredTypes implements router.Listener. Service is registered
// under the same name on both the platform router (which only ever
// delivers RegisteredDevicesResponse/ChildrenSynchronizationResponse,
// since those are the only types the platform originates from this
// list) and the local router (which only ever delivers
// DeviceRegistration/DeviceRemoval/RegisteredDevicesRequest) - the
// single dispatch implementation below is direction-agnostic, it
// switches purely on classified type.
func (s *Service) DeclaredTypes() []model.MessageType {
	return declaredTypes
}

// Protocol returns the local protocol. Calling it with no local
// protocol configured is a programming error, mirroring
// DevicesService::getProtocol's std::runtime_error.
func (s *Service) Protocol() protocol.Protocol {
	if s.localProto == nil {
		panic("devices: Protocol() called with local communication disabled")
	}
	return s.localProto
}

// ReceiveMessages implements router.Listener.
func (s *Service) ReceiveMessages(msgs []model.GatewaySubdeviceMessage) {
	if len(msgs) == 0 {
		s.log.Warn("devices: received an empty subdevice message batch")
		return
	}
	for _, m := range msgs {
		m := m
		s.queue.Submit(func() { s.dispatch(m) })
	}
}

// dispatch classifies m and routes it to exactly one handler. Each
// case returns on its own; none falls through to the next, unlike the
// original's missing break between DEVICE_REGISTRATION and
// DEVICE_REMOVAL.
func (s *Service) dispatch(m model.GatewaySubdeviceMessage) {
	switch t := s.platformProto.GetMessageType(&m.Message); t {
	case model.DeviceRegistration:
		s.handleLocalDeviceRegistration(m)
	case model.DeviceRemoval:
		s.handleLocalDeviceRemoval(m)
	case model.RegisteredDevicesRequest:
		s.handleLocalRegisteredDevicesRequest(m)
	case model.RegisteredDevicesResponse:
		s.handlePlatformRegisteredDevicesResponse(m)
	case model.ChildrenSynchronizationResponse:
		s.handlePlatformChildrenSynchronizationResponse(m)
	default:
		s.log.Debug("devices: ignoring message of unhandled type", "type", t)
	}
}

func (s *Service) handleLocalDeviceRegistration(m model.GatewaySubdeviceMessage) {
	var payload deviceRegistrationMessage
	if err := json.Unmarshal(m.Message.Payload, &payload); err != nil {
		s.log.Error("devices: failed to parse local device registration message", "device", m.DeviceKey, "error", err)
		return
	}
	deviceKey := m.DeviceKey
	if !s.RegisterChildren(payload.Devices, func(success, failed []string) {
		s.respondDeviceRegistration(deviceKey, success, failed)
	}) {
		s.log.Error("devices: failed to register children from local request", "device", deviceKey)
	}
}

func (s *Service) handleLocalDeviceRemoval(m model.GatewaySubdeviceMessage) {
	var payload deviceRemovalMessage
	if err := json.Unmarshal(m.Message.Payload, &payload); err != nil {
		s.log.Error("devices: failed to parse local device removal message", "device", m.DeviceKey, "error", err)
		return
	}
	if !s.RemoveChildren(payload.DeviceKeys) {
		s.log.Error("devices: failed to remove children from local request", "device", m.DeviceKey)
	}
}

func (s *Service) handleLocalRegisteredDevicesRequest(m model.GatewaySubdeviceMessage) {
	var params model.RegisteredDevicesRequestParameters
	if err := json.Unmarshal(m.Message.Payload, &params); err != nil {
		s.log.Error("devices: failed to parse local registered devices request", "device", m.DeviceKey, "error", err)
		return
	}

	deviceKey := m.DeviceKey
	var cb *model.RegisteredDevicesRequestCallback
	if s.localProto != nil && s.local != nil {
		cb = &model.RegisteredDevicesRequestCallback{
			OnResponse: func(resp *model.RegisteredDevicesResponseMessage) {
				if resp == nil {
					return
				}
				localMsg := s.localProto.MakeOutboundMessage(deviceKey, model.RegisteredDevicesResponse, resp)
				if localMsg == nil {
					s.log.Error("devices: protocol failed to build local registered devices response", "device", deviceKey)
					return
				}
				s.local.Enqueue(localMsg)
			},
		}
	}
	if !s.sendOutRegisteredDevicesRequest(params, cb) {
		s.log.Error("devices: failed to forward registered devices request to platform", "device", deviceKey)
	}
}

func (s *Service) handlePlatformChildrenSynchronizationResponse(m model.GatewaySubdeviceMessage) {
	s.retryLayer.NotifyResponse(&m.Message)

	var payload childrenSynchronizationResponseMessage
	if err := json.Unmarshal(m.Message.Payload, &payload); err != nil {
		s.log.Error("devices: failed to parse children synchronization response", "error", err)
		return
	}

	s.mu.Lock()
	var cb *childSyncCallback
	if len(s.childSyncRequests) > 0 {
		cb = s.childSyncRequests[0]
		s.childSyncRequests = s.childSyncRequests[1:]
	}
	s.mu.Unlock()

	if cb != nil && cb.lambda != nil {
		cb.lambda(payload.Children, false)
	}

	s.reconcileExistingDevices(payload.Children)
}

func (s *Service) handlePlatformRegisteredDevicesResponse(m model.GatewaySubdeviceMessage) {
	s.retryLayer.NotifyResponse(&m.Message)

	var resp model.RegisteredDevicesResponseMessage
	if err := json.Unmarshal(m.Message.Payload, &resp); err != nil {
		s.log.Error("devices: failed to parse registered devices response", "error", err)
		return
	}

	s.mu.Lock()
	cb, found := s.registeredDevicesRequests[resp.RegisteredDevicesRequestParameters]
	if found {
		delete(s.registeredDevicesRequests, resp.RegisteredDevicesRequestParameters)
	}
	s.mu.Unlock()

	if s.repo != nil && len(resp.MatchingDevices) > 0 {
		timestamp := time.Now().UnixMilli()
		if found {
			timestamp = cb.SentAt
		}
		batch := make([]model.StoredDeviceInformation, 0, len(resp.MatchingDevices))
		for _, d := range resp.MatchingDevices {
			batch = append(batch, model.StoredDeviceInformation{
				DeviceKey:  d.DeviceKey,
				Ownership:  model.OwnershipPlatform,
				AcquiredAt: timestamp,
			})
		}
		if err := s.repo.Save(batch); err != nil {
			s.log.Error("devices: failed to save registered devices batch", "error", err)
		}
	}

	if found && cb.OnResponse != nil {
		cb.OnResponse(&resp)
	}
}

// RegisterChildren is the registerChildren compound operation (spec
// §4.9a): it registers devices with the platform, then issues a
// children-synchronization request whose eventual response is diffed
// against the requested keys to report success/failure. Returns false
// synchronously, without contacting the platform, for an empty device
// list or a list containing an empty key.
func (s *Service) RegisterChildren(devices []model.DeviceIdentity, onResult func(success, failed []string)) bool {
	if len(devices) == 0 {
		return false
	}
	requested := make([]string, 0, len(devices))
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return false
		}
		requested = append(requested, d.Key)
	}

	msg := s.platformProto.MakeOutboundMessage(s.gatewayKey, model.DeviceRegistration, deviceRegistrationMessage{Devices: devices})
	if msg == nil {
		s.log.Error("devices: protocol failed to build outgoing device registration message")
		return false
	}
	s.platform.Enqueue(msg)

	sent := s.sendOutChildrenSynchronizationRequest(&childSyncCallback{
		lambda: func(children []string, timedOut bool) {
			if onResult == nil {
				return
			}
			if timedOut {
				onResult(nil, requested)
				return
			}
			confirmed := make(map[string]struct{}, len(children))
			for _, c := range children {
				confirmed[c] = struct{}{}
			}
			var success, failed []string
			for _, k := range requested {
				if _, ok := confirmed[k]; ok {
					success = append(success, k)
				} else {
					failed = append(failed, k)
				}
			}
			onResult(success, failed)
		},
	})
	if !sent {
		s.log.Error("devices: failed to send children synchronization request after registration")
	}
	return true
}

// RemoveChildren issues a DEVICE_REMOVAL for keys. Returns false
// synchronously for an empty list or a list containing an empty key.
func (s *Service) RemoveChildren(keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if k == "" {
			return false
		}
	}
	msg := s.platformProto.MakeOutboundMessage(s.gatewayKey, model.DeviceRemoval, deviceRemovalMessage{DeviceKeys: keys})
	if msg == nil {
		s.log.Error("devices: protocol failed to build outgoing device removal message")
		return false
	}
	s.platform.Enqueue(msg)
	return true
}

// UpdateDeviceCache implements spec §4.9b: read the repository's
// latest known platform timestamp, ask for everything registered
// since, and separately ask for the currently-attached children.
func (s *Service) UpdateDeviceCache() {
	if s.repo == nil {
		s.log.Warn("devices: skipping update device cache, no repository configured")
		return
	}
	lastTimestamp := s.repo.LatestPlatformTimestamp()
	if !s.sendOutRegisteredDevicesRequest(model.RegisteredDevicesRequestParameters{FromTimestamp: lastTimestamp}, nil) {
		s.log.Error("devices: failed to send registered devices request during cache update")
	}
	if !s.sendOutChildrenSynchronizationRequest(&childSyncCallback{}) {
		s.log.Error("devices: failed to send children synchronization request during cache update")
	}
}

func (s *Service) sendOutRegisteredDevicesRequest(params model.RegisteredDevicesRequestParameters, cb *model.RegisteredDevicesRequestCallback) bool {
	msg := s.platformProto.MakeOutboundMessage(s.gatewayKey, model.RegisteredDevicesRequest, params)
	if msg == nil {
		s.log.Error("devices: protocol failed to build outgoing registered devices request")
		return false
	}
	channel := s.platformProto.GetResponseChannelForMessage(model.RegisteredDevicesRequest, s.gatewayKey)

	if cb == nil {
		cb = &model.RegisteredDevicesRequestCallback{}
	}
	cb.SentAt = time.Now().UnixMilli()

	s.mu.Lock()
	s.registeredDevicesRequests[params] = cb
	s.mu.Unlock()

	s.retryLayer.Add(msg, channel, s.retryCount, s.retryInterval, func(*model.Message) {
		s.log.Error("devices: no response received for registered devices request", "fromTimestamp", params.FromTimestamp)
		s.mu.Lock()
		delete(s.registeredDevicesRequests, params)
		s.mu.Unlock()
		if cb.OnResponse != nil {
			cb.OnResponse(nil)
		}
	})
	return true
}

func (s *Service) sendOutChildrenSynchronizationRequest(cb *childSyncCallback) bool {
	msg := s.platformProto.MakeOutboundMessage(s.gatewayKey, model.ChildrenSynchronizationRequest, childrenSynchronizationRequestMessage{})
	if msg == nil {
		s.log.Error("devices: protocol failed to build outgoing children synchronization request")
		return false
	}
	channel := s.platformProto.GetResponseChannelForMessage(model.ChildrenSynchronizationRequest, s.gatewayKey)

	s.mu.Lock()
	s.childSyncRequests = append(s.childSyncRequests, cb)
	s.mu.Unlock()

	s.retryLayer.Add(msg, channel, s.retryCount, s.retryInterval, func(*model.Message) {
		s.log.Error("devices: no response received for children synchronization request")
		s.removeChildSyncRequest(cb)
		if cb.lambda != nil {
			cb.lambda(nil, true)
		}
	})
	return true
}

func (s *Service) removeChildSyncRequest(cb *childSyncCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.childSyncRequests {
		if c == cb {
			s.childSyncRequests = append(s.childSyncRequests[:i], s.childSyncRequests[i+1:]...)
			return
		}
	}
}

// respondDeviceRegistration emits a local DEVICE_REGISTRATION response
// (the closed MessageType enum has no dedicated response slot, so the
// request type is reused for the reply, addressed to the requesting
// device's own channel) carrying the success/failure sets computed by
// RegisterChildren's children-sync callback.
func (s *Service) respondDeviceRegistration(deviceKey string, success, failed []string) {
	if s.localProto == nil || s.local == nil {
		return
	}
	msg := s.localProto.MakeOutboundMessage(deviceKey, model.DeviceRegistration, deviceRegistrationResponseMessage{Success: success, Failed: failed})
	if msg == nil {
		s.log.Error("devices: protocol failed to build local device registration response", "device", deviceKey)
		return
	}
	s.local.Enqueue(msg)
}

// reconcileExistingDevices implements spec §4.9b step 3: save the
// confirmed children as platform-owned, record any newly-seen key in
// the existing-devices log, and issue a DEVICE_REMOVAL for any
// previously-seen local key the platform no longer lists.
func (s *Service) reconcileExistingDevices(children []string) {
	if s.repo != nil {
		now := time.Now().UnixMilli()
		batch := make([]model.StoredDeviceInformation, 0, len(children))
		for _, c := range children {
			batch = append(batch, model.StoredDeviceInformation{DeviceKey: c, Ownership: model.OwnershipPlatform, AcquiredAt: now})
		}
		if err := s.repo.Save(batch); err != nil {
			s.log.Error("devices: failed to save synchronized children", "error", err)
		}
	}

	if s.existing == nil {
		return
	}

	current := make(map[string]struct{}, len(children))
	for _, c := range children {
		current[c] = struct{}{}
		if err := s.existing.AddDeviceKey(c); err != nil {
			s.log.Error("devices: failed to record existing device key", "device", c, "error", err)
		}
	}

	var stale []string
	for _, k := range s.existing.GetDeviceKeys() {
		if _, ok := current[k]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 && !s.RemoveChildren(stale) {
		s.log.Error("devices: failed to emit removal for stale existing devices", "keys", stale)
	}
}
