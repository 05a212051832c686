package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/model"
)

// fakeStore is an in-memory stand-in for Store, used to test Repository
// policy behavior without a real database.
type fakeStore struct {
	rows map[string]model.StoredDeviceInformation
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]model.StoredDeviceInformation{}}
}

func (s *fakeStore) Save(batch []model.StoredDeviceInformation) error {
	for _, d := range batch {
		s.rows[d.DeviceKey] = d
	}
	return nil
}
func (s *fakeStore) Remove(keys []string) error {
	for _, k := range keys {
		delete(s.rows, k)
	}
	return nil
}
func (s *fakeStore) RemoveAll() error {
	s.rows = map[string]model.StoredDeviceInformation{}
	return nil
}
func (s *fakeStore) Contains(key string) (bool, error) {
	_, ok := s.rows[key]
	return ok, nil
}
func (s *fakeStore) Get(key string) (*model.StoredDeviceInformation, error) {
	d, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (s *fakeStore) GetGatewayOwned() ([]model.StoredDeviceInformation, error) {
	var out []model.StoredDeviceInformation
	for _, d := range s.rows {
		if d.Ownership == model.OwnershipGateway {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *fakeStore) LatestPlatformTimestamp() (int64, error) {
	var max int64
	for _, d := range s.rows {
		if d.Ownership == model.OwnershipPlatform && d.AcquiredAt > max {
			max = d.AcquiredAt
		}
	}
	return max, nil
}
func (s *fakeStore) All() ([]model.StoredDeviceInformation, error) {
	var out []model.StoredDeviceInformation
	for _, d := range s.rows {
		out = append(out, d)
	}
	return out, nil
}

func TestSaveIdempotent(t *testing.T) {
	r := New(PolicyCached, nil, nil)
	d := model.StoredDeviceInformation{DeviceKey: "D1", Ownership: model.OwnershipPlatform, AcquiredAt: 100}

	require.NoError(t, r.Save([]model.StoredDeviceInformation{d}))
	require.NoError(t, r.Save([]model.StoredDeviceInformation{d}))

	assert.True(t, r.Contains("D1"))
	assert.Equal(t, int64(100), r.LatestPlatformTimestamp())
}

func TestSaveInvariantLatestTimestamp(t *testing.T) {
	r := New(PolicyCached, nil, nil)
	batch := []model.StoredDeviceInformation{
		{DeviceKey: "D1", Ownership: model.OwnershipPlatform, AcquiredAt: 10},
		{DeviceKey: "D2", Ownership: model.OwnershipPlatform, AcquiredAt: 50},
	}
	require.NoError(t, r.Save(batch))
	for _, d := range batch {
		assert.True(t, r.Contains(d.DeviceKey))
	}
	assert.GreaterOrEqual(t, r.LatestPlatformTimestamp(), int64(50))
}

func TestPolicyNoneIsNoop(t *testing.T) {
	r := New(PolicyNone, nil, nil)
	require.NoError(t, r.Save([]model.StoredDeviceInformation{{DeviceKey: "D1"}}))
	assert.False(t, r.Contains("D1"))
	assert.Equal(t, int64(0), r.LatestPlatformTimestamp())
}

func TestPolicyPersistentRoundTripsThroughStore(t *testing.T) {
	store := newFakeStore()
	r := New(PolicyPersistent, store, nil)

	d := model.StoredDeviceInformation{DeviceKey: "D1", Ownership: model.OwnershipGateway, AcquiredAt: 5}
	require.NoError(t, r.Save([]model.StoredDeviceInformation{d}))

	assert.True(t, r.Contains("D1"))
	got, ok := r.Get("D1")
	require.True(t, ok)
	assert.Equal(t, d, got)

	require.NoError(t, r.Remove([]string{"D1"}))
	assert.False(t, r.Contains("D1"))
}

func TestPolicyFullWritesThroughAsynchronously(t *testing.T) {
	store := newFakeStore()
	r := New(PolicyFull, store, nil)
	defer r.Shutdown()

	d := model.StoredDeviceInformation{DeviceKey: "D1", Ownership: model.OwnershipPlatform, AcquiredAt: 42}
	require.NoError(t, r.Save([]model.StoredDeviceInformation{d}))

	// Memory sees it immediately.
	assert.True(t, r.Contains("D1"))

	require.Eventually(t, func() bool {
		ok, _ := store.Contains("D1")
		return ok
	}, time.Second, time.Millisecond, "durable write-through should land asynchronously")
}

func TestLoadFromStorePopulatesMemory(t *testing.T) {
	store := newFakeStore()
	store.rows["D1"] = model.StoredDeviceInformation{DeviceKey: "D1", Ownership: model.OwnershipPlatform, AcquiredAt: 7}

	r := New(PolicyFull, store, nil)
	defer r.Shutdown()

	// Contains would fall back to the durable store, so inspect the
	// in-memory index directly.
	r.mu.Lock()
	_, inMemory := r.index["D1"]
	r.mu.Unlock()
	assert.False(t, inMemory, "memory starts empty until LoadFromStore")
	require.NoError(t, r.LoadFromStore())
	r.mu.Lock()
	_, inMemory = r.index["D1"]
	r.mu.Unlock()
	assert.True(t, inMemory)
}
