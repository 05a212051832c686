package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/supervisor"
	"github.com/rustyeddy/gwbridge/transport"
)

type fakeSupervisor struct {
	platform, local       supervisor.State
	platformPub, localPub *outbound.Publisher
}

func (s *fakeSupervisor) PlatformState() supervisor.State        { return s.platform }
func (s *fakeSupervisor) LocalState() supervisor.State            { return s.local }
func (s *fakeSupervisor) PlatformPublisher() *outbound.Publisher   { return s.platformPub }
func (s *fakeSupervisor) LocalPublisher() *outbound.Publisher      { return s.localPub }

type fakeRepo struct {
	devices []model.StoredDeviceInformation
}

func (r *fakeRepo) GetGatewayOwned() []model.StoredDeviceInformation { return r.devices }

type noopConn struct{}

func (noopConn) Connect() bool                 { return true }
func (noopConn) Disconnect()                   {}
func (noopConn) Publish(*model.Message) bool   { return true }
func (noopConn) SetListener(transport.Listener) {}
func (noopConn) OnConnectionLost(func(error))  {}

func TestHandleStatusReportsBothConnectionStates(t *testing.T) {
	sup := &fakeSupervisor{platform: supervisor.Connected, local: supervisor.Disconnected}
	api := New(Config{Supervisor: sup})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Connected", body.Platform)
	assert.Equal(t, "Disconnected", body.Local)
}

func TestHandleStatusWithNilSupervisorReturnsServiceUnavailable(t *testing.T) {
	api := New(Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleDevicesReturnsGatewayOwnedDevices(t *testing.T) {
	repo := &fakeRepo{devices: []model.StoredDeviceInformation{
		{DeviceKey: "sub1", Ownership: model.OwnershipGateway, AcquiredAt: 123},
	}}
	api := New(Config{Repository: repo})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []deviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "sub1", body[0].DeviceKey)
}

func TestHandleDevicesWithNilRepositoryReturnsEmptyList(t *testing.T) {
	api := New(Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []deviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body)
}

func TestHandleQueueReportsPublisherState(t *testing.T) {
	q := outbound.NewMemoryQueue()
	pub := outbound.New(q, noopConn{}, nil)
	defer pub.Shutdown()
	pub.SetConnected(true)

	sup := &fakeSupervisor{platformPub: pub, localPub: pub}
	api := New(Config{Supervisor: sup})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body queueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.PlatformConnected)
	assert.True(t, body.PlatformEmpty)
}
