package repository

import (
	"log/slog"
	"sync"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/model"
)

// Repository is the two-tier facade over an in-memory index and a
// durable Store, specialized by Policy (spec §4.5 table). The
// in-memory tier writes through by submitting each durable operation to
// a private command queue so that durability never blocks the caller;
// readers may observe a write before it is durable.
type Repository struct {
	policy Policy
	store  Store
	log    *slog.Logger

	mu    sync.Mutex
	index map[string]model.StoredDeviceInformation

	writeQ *cmdqueue.Queue
}

// New builds a Repository for the given policy. store may be nil when
// policy is PolicyNone or PolicyCached.
func New(policy Policy, store Store, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	r := &Repository{
		policy: policy,
		store:  store,
		log:    log,
		index:  make(map[string]model.StoredDeviceInformation),
	}
	if policy == PolicyFull {
		r.writeQ = cmdqueue.New(64)
	}
	return r
}

func (r *Repository) hasMemory() bool  { return r.policy == PolicyCached || r.policy == PolicyFull }
func (r *Repository) hasDurable() bool { return r.policy == PolicyPersistent || r.policy == PolicyFull }

// Save merges batch by key: existing entries update Ownership and
// AcquiredAt, new entries insert. Invariant: after Save, Contains(k) is
// true for every k in batch (when the repository has a memory or
// durable tier at all), and LatestPlatformTimestamp() >=
// max(batch.AcquiredAt).
func (r *Repository) Save(batch []model.StoredDeviceInformation) error {
	if r.policy == PolicyNone || len(batch) == 0 {
		return nil
	}

	if r.hasMemory() {
		r.mu.Lock()
		for _, d := range batch {
			r.index[d.DeviceKey] = d
		}
		r.mu.Unlock()
	}

	if !r.hasDurable() {
		return nil
	}

	if r.policy == PolicyPersistent {
		if err := r.store.Save(batch); err != nil {
			r.log.Error("repository failed to persist device batch", "error", err)
			return err
		}
		return nil
	}

	// PolicyFull: durable write goes through the private queue so it
	// never blocks the caller. Failures are logged; the in-memory tier
	// stays authoritative for the process lifetime.
	r.writeQ.Submit(func() {
		if err := r.store.Save(batch); err != nil {
			r.log.Error("repository failed to persist device batch", "error", err)
		}
	})
	return nil
}

func (r *Repository) Remove(keys []string) error {
	if r.policy == PolicyNone || len(keys) == 0 {
		return nil
	}

	if r.hasMemory() {
		r.mu.Lock()
		for _, k := range keys {
			delete(r.index, k)
		}
		r.mu.Unlock()
	}

	if !r.hasDurable() {
		return nil
	}
	if r.policy == PolicyPersistent {
		if err := r.store.Remove(keys); err != nil {
			r.log.Error("repository failed to remove devices", "error", err)
			return err
		}
		return nil
	}
	r.writeQ.Submit(func() {
		if err := r.store.Remove(keys); err != nil {
			r.log.Error("repository failed to remove devices", "error", err)
		}
	})
	return nil
}

func (r *Repository) RemoveAll() error {
	if r.policy == PolicyNone {
		return nil
	}
	if r.hasMemory() {
		r.mu.Lock()
		r.index = make(map[string]model.StoredDeviceInformation)
		r.mu.Unlock()
	}
	if !r.hasDurable() {
		return nil
	}
	if r.policy == PolicyPersistent {
		return r.store.RemoveAll()
	}
	r.writeQ.Submit(func() {
		if err := r.store.RemoveAll(); err != nil {
			r.log.Error("repository failed to truncate devices", "error", err)
		}
	})
	return nil
}

// Contains consults memory first; on a miss it falls back to the
// durable store and populates memory on a hit.
func (r *Repository) Contains(key string) bool {
	if r.policy == PolicyNone {
		return false
	}
	if r.hasMemory() {
		r.mu.Lock()
		_, ok := r.index[key]
		r.mu.Unlock()
		if ok {
			return true
		}
	}
	if !r.hasDurable() {
		return false
	}
	ok, err := r.store.Contains(key)
	if err != nil {
		r.log.Error("repository durable contains lookup failed", "key", key, "error", err)
		return false
	}
	if ok && r.hasMemory() {
		if d, derr := r.store.Get(key); derr == nil && d != nil {
			r.mu.Lock()
			r.index[key] = *d
			r.mu.Unlock()
		}
	}
	return ok
}

func (r *Repository) Get(key string) (model.StoredDeviceInformation, bool) {
	if r.policy == PolicyNone {
		return model.StoredDeviceInformation{}, false
	}
	if r.hasMemory() {
		r.mu.Lock()
		d, ok := r.index[key]
		r.mu.Unlock()
		if ok {
			return d, true
		}
	}
	if !r.hasDurable() {
		return model.StoredDeviceInformation{}, false
	}
	d, err := r.store.Get(key)
	if err != nil || d == nil {
		return model.StoredDeviceInformation{}, false
	}
	return *d, true
}

func (r *Repository) GetGatewayOwned() []model.StoredDeviceInformation {
	if r.policy == PolicyNone {
		return nil
	}
	if r.hasMemory() {
		r.mu.Lock()
		out := make([]model.StoredDeviceInformation, 0)
		for _, d := range r.index {
			if d.Ownership == model.OwnershipGateway {
				out = append(out, d)
			}
		}
		r.mu.Unlock()
		return out
	}
	out, err := r.store.GetGatewayOwned()
	if err != nil {
		r.log.Error("repository durable gateway-owned query failed", "error", err)
		return nil
	}
	return out
}

func (r *Repository) LatestPlatformTimestamp() int64 {
	if r.policy == PolicyNone {
		return 0
	}
	if r.hasMemory() {
		r.mu.Lock()
		var max int64
		for _, d := range r.index {
			if d.Ownership == model.OwnershipPlatform && d.AcquiredAt > max {
				max = d.AcquiredAt
			}
		}
		r.mu.Unlock()
		if max > 0 || !r.hasDurable() {
			return max
		}
	}
	ts, err := r.store.LatestPlatformTimestamp()
	if err != nil {
		r.log.Error("repository durable timestamp query failed", "error", err)
		return 0
	}
	return ts
}

// LoadFromStore refreshes the in-memory index from the durable store.
// The supervisor calls this on entering the platform-Connected state
// (spec §4.11) so a restarted process recovers LatestPlatformTimestamp
// and the rest of the cached set before it asks the platform for
// anything.
func (r *Repository) LoadFromStore() error {
	if !r.hasMemory() || !r.hasDurable() {
		return nil
	}
	all, err := r.store.All()
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, d := range all {
		r.index[d.DeviceKey] = d
	}
	r.mu.Unlock()
	return nil
}

// Shutdown drains the private write-through queue, if any.
func (r *Repository) Shutdown() {
	if r.writeQ != nil {
		r.writeQ.Shutdown()
	}
}
