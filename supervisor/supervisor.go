// Package supervisor is the Gateway Supervisor (spec.md §4.11): the
// composition root that wires every other package together into a
// running gateway, plus the two connection state machines (platform,
// local) that drive reconnection and the connect/disconnect side
// effects spec.md §4.11 describes.
//
// Grounded on messenger.Messenger.Connect/Close's connect-then-
// resubscribe sequencing and station.StationManager.Start's
// ticker-driven background reconnection loop, generalized into the
// explicit three-state machine of spec.md's diagram.
package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/devices"
	"github.com/rustyeddy/gwbridge/existingdevices"
	"github.com/rustyeddy/gwbridge/internaldata"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/protocol"
	"github.com/rustyeddy/gwbridge/repository"
	"github.com/rustyeddy/gwbridge/retry"
	"github.com/rustyeddy/gwbridge/router"
	"github.com/rustyeddy/gwbridge/status"
	"github.com/rustyeddy/gwbridge/transport"
)

// Listener is notified of platform connectivity transitions, beyond
// the fixed-function hooks spec.md §4.11 wires internally (repository
// reload, cache update, status announcement). Callers register through
// AddListener; statusapi does not, it reads PlatformState/LocalState
// directly.
type Listener interface {
	OnPlatformConnected()
	OnPlatformDisconnected()
}

// Metrics are the prometheus collectors the supervisor updates across
// both connections' lifecycles. Grounded on the CounterVec/state-gauge
// shape used in the pack's own metrics test fixtures
// (test/unit/gateway/metrics/error_recovery_test.go).
type Metrics struct {
	ConnectionState *prometheus.GaugeVec   // labels: connection={"platform","local"}; 0=Disconnected,1=Connecting,2=Connected
	ReconnectTotal  *prometheus.CounterVec // labels: connection
}

// NewMetrics registers a fresh Metrics set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gwbridge",
			Name:      "connection_state",
			Help:      "Current connection state (0=Disconnected, 1=Connecting, 2=Connected) by connection name.",
		}, []string{"connection"}),
		ReconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwbridge",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of connect attempts by connection name.",
		}, []string{"connection"}),
	}
	reg.MustRegister(m.ConnectionState, m.ReconnectTotal)
	return m
}

// Supervisor is the gateway's composition root.
type Supervisor struct {
	gatewayKey string
	log        *slog.Logger
	metrics    *Metrics

	platformPublisher *outbound.Publisher
	localPublisher    *outbound.Publisher

	retryLayer *retry.Layer

	platformRouter *router.Router

	repo       *repository.Repository
	devices    *devices.Service
	status     *status.Service
	existing   *existingdevices.JSONLog
	internal   internalRelay
	proto      protocol.Protocol

	platformMachine *connectionMachine
	localMachine    *connectionMachine

	mu             sync.Mutex
	listeners      map[string]Listener
	localDevRouter *router.Router
}

// internalRelay is the narrow slice of internaldata.Service's surface
// Supervisor needs: the raw-message entry point for local-origin
// telemetry (spec.md §4.7). Kept as an interface so local-bus
// demuxing does not need to import internaldata's concrete type.
type internalRelay interface {
	MessageReceived(msg *model.Message)
}

// Config bundles the collaborators Supervisor wires together. Built by
// cmd/gwbridge's composition step from a loaded config.Config.
type Config struct {
	GatewayKey string

	PlatformConn transport.Connection
	LocalConn    transport.Connection

	Proto       protocol.Protocol
	StatusProto status.Protocol // usually the same concrete value as Proto

	PlatformQueue outbound.Queue // persistence backing the platform Outbound Publisher
	LocalQueue    outbound.Queue

	Repository      *repository.Repository
	ExistingDevices *existingdevices.JSONLog

	// Internal is the local<->platform relay for telemetry/parameter/
	// file/firmware traffic (spec.md §4.7). Left nil, New builds a real
	// internaldata.Service wired to the Supervisor's own platform/local
	// publishers and GatewayKey; tests substitute their own stub here to
	// observe what reaches the relay without a real publisher round-trip.
	Internal internalRelay

	RetryCount    int
	RetryInterval time.Duration

	Metrics *Metrics
	Log     *slog.Logger
}

// New builds a Supervisor and every collaborator it owns (publishers,
// retry layer, inbound router, devices and status services) but does
// not connect anything yet; call Start for that.
func New(cfg Config) *Supervisor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	platformPublisher := outbound.New(cfg.PlatformQueue, cfg.PlatformConn, log)
	localPublisher := outbound.New(cfg.LocalQueue, cfg.LocalConn, log)

	retryLayer := retry.NewLayer(platformPublisher, log)

	platformRouter := router.New(cfg.Proto, cmdqueue.New(64), log)

	statusSvc := status.New(cfg.GatewayKey, cfg.StatusProto, localPublisher, log)

	devicesSvc := devices.New(cfg.GatewayKey, cfg.Proto, platformPublisher, retryLayer,
		cfg.Proto, localPublisher, cfg.Repository, cfg.ExistingDevices,
		cfg.RetryCount, cfg.RetryInterval, log)

	internal := cfg.Internal
	if internal == nil {
		internal = internaldata.New(cfg.GatewayKey, platformPublisher, localPublisher, log)
	}

	platformRouter.AddListener("devices", devicesSvc)
	if relay, ok := internal.(router.Listener); ok {
		platformRouter.AddListener("internaldata", relay)
	}

	s := &Supervisor{
		gatewayKey:        cfg.GatewayKey,
		log:               log,
		metrics:           cfg.Metrics,
		platformPublisher: platformPublisher,
		localPublisher:    localPublisher,
		retryLayer:        retryLayer,
		platformRouter:    platformRouter,
		repo:              cfg.Repository,
		devices:           devicesSvc,
		status:            statusSvc,
		existing:          cfg.ExistingDevices,
		internal:          internal,
		proto:             cfg.Proto,
		listeners:         make(map[string]Listener),
	}

	cfg.PlatformConn.SetListener(platformRouter)
	cfg.LocalConn.SetListener(transport.ListenerFunc(s.localMessageReceived))

	s.platformMachine = newConnectionMachine("platform", cfg.PlatformConn, platformPublisher, log,
		s.onPlatformConnected, s.onPlatformDisconnected, s.stateChangeRecorder("platform"))
	s.localMachine = newConnectionMachine("local", cfg.LocalConn, localPublisher, log,
		s.onLocalConnected, s.onLocalDisconnected, s.stateChangeRecorder("local"))

	return s
}

// localMessageReceived demuxes the single local-bus connection between
// devices.Service (subdevice lifecycle traffic, which the Inbound
// Router's classify-then-unwrap shape handles correctly since those
// message types are device- or gateway-scoped, never batched) and the
// internal data relay (telemetry/parameter/file/firmware traffic, which
// travels on the local bus as a single unenveloped reading per message
// rather than as an envelope batch, so it bypasses the router's
// batch-unwrap path entirely). Grounded on the observation, recorded in
// DESIGN.md, that original_source pre-filters local-bus subscriptions
// per service at the MQTT layer rather than dynamically classifying a
// single shared subscription; this is the Go analog of that split,
// done once here since transport.Connection exposes only one listener
// slot.
func (s *Supervisor) localMessageReceived(msg *model.Message) {
	switch s.proto.GetMessageType(msg) {
	case model.DeviceRegistration, model.DeviceRemoval, model.RegisteredDevicesRequest,
		model.RegisteredDevicesResponse, model.ChildrenSynchronizationResponse:
		s.localDevicesRouter().MessageReceived(msg)
	default:
		if s.internal != nil {
			s.internal.MessageReceived(msg)
		}
	}
}

// localDevicesRouter lazily builds the single-purpose router used to
// classify+unwrap local device-lifecycle messages before handing them
// to devices.Service. It is built once, on first use, since it has no
// state beyond the registration.
func (s *Supervisor) localDevicesRouter() *router.Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localDevRouter != nil {
		return s.localDevRouter
	}
	r := router.New(s.proto, cmdqueue.New(16), s.log)
	r.AddListener("devices", s.devices)
	s.localDevRouter = r
	return r
}

// AddListener registers l to be notified of future platform connect/
// disconnect transitions, replacing any previously registered listener
// under the same name.
func (s *Supervisor) AddListener(name string, l Listener) {
	s.mu.Lock()
	s.listeners[name] = l
	s.mu.Unlock()
}

// RemoveListener unregisters name.
func (s *Supervisor) RemoveListener(name string) {
	s.mu.Lock()
	delete(s.listeners, name)
	s.mu.Unlock()
}

func (s *Supervisor) notifyListeners(connected bool) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		if connected {
			l.OnPlatformConnected()
		} else {
			l.OnPlatformDisconnected()
		}
	}
}

// onPlatformConnected implements spec.md §4.11's "On entering Connected
// (platform)" sequence: notify listeners, reload the repository from
// its durable store, trigger a device cache update, announce the
// transition on the local bus. Unpausing the platform publisher is
// handled by connectionMachine.enterConnected before this callback
// runs.
func (s *Supervisor) onPlatformConnected() {
	s.notifyListeners(true)
	if s.repo != nil {
		if err := s.repo.LoadFromStore(); err != nil {
			s.log.Error("supervisor: failed to reload repository from durable store", "error", err)
		}
	}
	s.devices.UpdateDeviceCache()
	s.status.SendPlatformConnectionStatusMessage(true)
}

// onPlatformDisconnected implements spec.md §4.11's "On entering
// Disconnected (platform)" sequence: notify listeners, announce the
// transition on the local bus if the local connection is up. Pausing
// the platform publisher and scheduling the reconnect attempt are
// handled by connectionMachine.enterDisconnected.
func (s *Supervisor) onPlatformDisconnected() {
	s.notifyListeners(false)
	if s.localMachine != nil && s.localMachine.State() == Connected {
		s.status.SendPlatformConnectionStatusMessage(false)
	}
}

// onLocalConnected/onLocalDisconnected implement spec.md §4.11's "Local
// connection has the symmetric, simpler cycle - no cache reload, no
// platform-status announcement."
func (s *Supervisor) onLocalConnected()    {}
func (s *Supervisor) onLocalDisconnected() {}

// stateChangeRecorder returns a connectionMachine onStateChange hook
// that keeps the connection-state gauge current and counts every
// transition into Connecting as one connect attempt.
func (s *Supervisor) stateChangeRecorder(connection string) func(State) {
	return func(state State) {
		if s.metrics == nil {
			return
		}
		s.metrics.ConnectionState.WithLabelValues(connection).Set(float64(state))
		if state == Connecting {
			s.metrics.ReconnectTotal.WithLabelValues(connection).Inc()
		}
	}
}

// Start connects both the platform and local connections, each on its
// own Command Queue.
func (s *Supervisor) Start() {
	s.platformMachine.Start()
	s.localMachine.Start()
}

// Stop disconnects both connections, stops the retry layer's collector,
// and shuts down both Outbound Publishers and the devices service's
// Command Queue. The inbound routers' Command Queues are not shut down.
func (s *Supervisor) Stop() {
	s.platformMachine.Stop()
	s.localMachine.Stop()
	s.retryLayer.Shutdown()
	s.platformPublisher.Shutdown()
	s.localPublisher.Shutdown()
	s.devices.Shutdown()
}

// PlatformState reports the platform connection's current state, for
// statusapi's introspection surface.
func (s *Supervisor) PlatformState() State { return s.platformMachine.State() }

// LocalState reports the local connection's current state.
func (s *Supervisor) LocalState() State { return s.localMachine.State() }

// RetryLayer exposes the shared retry layer so other composition-root
// wiring (externaldata, a supplementary service) can register its own
// request/response correlations against the same instance.
func (s *Supervisor) RetryLayer() *retry.Layer { return s.retryLayer }

// PlatformPublisher/LocalPublisher expose the shared Outbound
// Publishers for the same reason.
func (s *Supervisor) PlatformPublisher() *outbound.Publisher { return s.platformPublisher }
func (s *Supervisor) LocalPublisher() *outbound.Publisher    { return s.localPublisher }
