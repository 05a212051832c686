// Package existingdevices implements the "existing devices" list (spec
// §6.3): a simple append-on-seen log of every subdevice key the
// gateway has ever encountered, persisted as a plain JSON array of
// strings at a configured path. The Devices Service consults it during
// reconciliation (spec §4.9b step 3): any key it once saw but the
// platform no longer reports as a current child gets a DEVICE_REMOVAL.
//
// Grounded on station.StationManager's map+mutex in-memory shape
// (station/station_manager.go) generalized to a set of strings, with
// persistence added since this collaborator is explicitly a durable
// log in the spec, unlike StationManager's in-memory-only registry.
package existingdevices

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONLog is a set of device keys backed by a JSON file. AddDeviceKey
// is idempotent and durable; GetDeviceKeys returns a snapshot.
type JSONLog struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewJSONLog loads path if it exists, or starts empty if it does not.
func NewJSONLog(path string) (*JSONLog, error) {
	l := &JSONLog{path: path, seen: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("existingdevices: read %s: %w", path, err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("existingdevices: parse %s: %w", path, err)
	}
	for _, k := range keys {
		l.seen[k] = struct{}{}
	}
	return l, nil
}

// AddDeviceKey records key as seen, if it is not already, and
// rewrites the backing file. A no-op (no write) if key was already
// recorded.
func (l *JSONLog) AddDeviceKey(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; ok {
		return nil
	}
	l.seen[key] = struct{}{}
	return l.flushLocked()
}

// GetDeviceKeys returns every key ever recorded, in no particular
// order.
func (l *JSONLog) GetDeviceKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.seen))
	for k := range l.seen {
		keys = append(keys, k)
	}
	return keys
}

func (l *JSONLog) flushLocked() error {
	keys := make([]string, 0, len(l.seen))
	for k := range l.seen {
		keys = append(keys, k)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("existingdevices: marshal: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("existingdevices: write %s: %w", l.path, err)
	}
	return nil
}
