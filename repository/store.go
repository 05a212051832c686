// Package repository implements the Device Repository (spec §4.5): an
// in-memory index of known subdevices (with no size limit) backed by a durable
// relational store, specialized by Policy. Grounded on
// station.StationManager's map+mutex in-memory shape from the teacher,
// with the durable tier realized over the relational driver the
// example pack carries (jmoiron/sqlx + lib/pq) rather than the
// original's embedded SQLite, per DESIGN.md.
package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rustyeddy/gwbridge/model"
)

// Store is the durable tier contract (spec §6.3): the repository
// operations realized against persistent storage, plus All for
// reloading the in-memory tier.
type Store interface {
	Save(batch []model.StoredDeviceInformation) error
	Remove(keys []string) error
	RemoveAll() error
	Contains(key string) (bool, error)
	Get(key string) (*model.StoredDeviceInformation, error)
	GetGatewayOwned() ([]model.StoredDeviceInformation, error)
	LatestPlatformTimestamp() (int64, error)
	All() ([]model.StoredDeviceInformation, error)
}

// SQLStore implements Store against the table described in spec §6.5:
// Device(id auto, key text unique, belongsTo text, timestamp integer).
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Schema is the DDL for the durable device table (spec §6.5).
const Schema = `
CREATE TABLE IF NOT EXISTS device (
	id        SERIAL PRIMARY KEY,
	key       TEXT NOT NULL UNIQUE,
	belongsto TEXT NOT NULL CHECK (belongsto IN ('Platform', 'Gateway')),
	timestamp BIGINT NOT NULL
)`

// EnsureSchema creates the device table if it does not already exist.
func EnsureSchema(db *sqlx.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Save merges batch by key: existing rows update belongsTo/timestamp,
// new rows insert. The whole batch commits in a single transaction.
func (s *SQLStore) Save(batch []model.StoredDeviceInformation) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO device (key, belongsto, timestamp) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET belongsto = EXCLUDED.belongsto, timestamp = EXCLUDED.timestamp`

	for _, d := range batch {
		if _, err := tx.Exec(upsert, d.DeviceKey, string(d.Ownership), d.AcquiredAt); err != nil {
			return fmt.Errorf("repository: upsert device %q: %w", d.DeviceKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM device WHERE key IN (?)`, keys)
	if err != nil {
		return fmt.Errorf("repository: build remove query: %w", err)
	}
	query = s.db.Rebind(query)
	_, err = s.db.Exec(query, args...)
	return err
}

func (s *SQLStore) RemoveAll() error {
	_, err := s.db.Exec(`DELETE FROM device`)
	return err
}

func (s *SQLStore) Contains(key string) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM device WHERE key = $1`, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Get(key string) (*model.StoredDeviceInformation, error) {
	var row deviceRow
	err := s.db.Get(&row, `SELECT key, belongsto, timestamp FROM device WHERE key = $1`, key)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	d := row.toModel()
	return &d, nil
}

func (s *SQLStore) GetGatewayOwned() ([]model.StoredDeviceInformation, error) {
	var rows []deviceRow
	err := s.db.Select(&rows, `SELECT key, belongsto, timestamp FROM device WHERE belongsto = $1`, string(model.OwnershipGateway))
	if err != nil {
		return nil, err
	}
	out := make([]model.StoredDeviceInformation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) All() ([]model.StoredDeviceInformation, error) {
	var rows []deviceRow
	err := s.db.Select(&rows, `SELECT key, belongsto, timestamp FROM device`)
	if err != nil {
		return nil, err
	}
	out := make([]model.StoredDeviceInformation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) LatestPlatformTimestamp() (int64, error) {
	var ts *int64
	err := s.db.Get(&ts, `SELECT MAX(timestamp) FROM device WHERE belongsto = $1`, string(model.OwnershipPlatform))
	if err != nil {
		return 0, err
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

type deviceRow struct {
	Key       string `db:"key"`
	BelongsTo string `db:"belongsto"`
	Timestamp int64  `db:"timestamp"`
}

func (r deviceRow) toModel() model.StoredDeviceInformation {
	return model.StoredDeviceInformation{
		DeviceKey:  r.Key,
		Ownership:  model.Ownership(r.BelongsTo),
		AcquiredAt: r.Timestamp,
	}
}
