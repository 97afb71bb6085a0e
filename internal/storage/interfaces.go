// Package storage defines the persistence contract for memory records.
//
// The engine never issues a read-then-write sequence for anything that must be
// atomic. Instead every mutation is expressed as a conditional write: an insert
// guarded by the active-content uniqueness constraint, an update guarded by a
// Predicate, or a delete whose Predicate is re-evaluated by the backend at the
// moment of deletion.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/mnemo/pkg/types"
)

// MemoryStore is the persistent store for memory records.
type MemoryStore interface {
	// FindActiveByContent returns the active record whose content equals
	// content exactly. Returns ErrNotFound if there is none.
	FindActiveByContent(ctx context.Context, content string) (*types.MemoryRecord, error)

	// Insert writes a new record and returns its id. The insert fails if an
	// active record with identical content already exists.
	Insert(ctx context.Context, record *types.MemoryRecord) (int64, error)

	// InsertOrTouch atomically inserts record unless an active record with the
	// same content exists. In that case the existing record's access count is
	// incremented, its last access time set to now, and its id returned with
	// inserted=false.
	InsertOrTouch(ctx context.Context, record *types.MemoryRecord, now time.Time) (id int64, inserted bool, err error)

	// Get retrieves a record by id. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)

	// UpdateFields applies update to the record with the given id. When guard
	// is non-nil the update only happens if the record still satisfies it,
	// evaluated atomically with the write. Returns updated=false on a guard
	// miss and ErrNotFound if the record does not exist.
	UpdateFields(ctx context.Context, id int64, update FieldUpdate, guard *Predicate) (updated bool, err error)

	// SelectWhere returns the records matching q.
	SelectWhere(ctx context.Context, q Query) ([]*types.MemoryRecord, error)

	// CountWhere returns the number of records matching p.
	CountWhere(ctx context.Context, p Predicate) (int, error)

	// DeleteWhere physically deletes every record matching p in a single
	// statement and returns the number removed.
	DeleteWhere(ctx context.Context, p Predicate) (int, error)

	// TouchAccessed increments access_count and sets last_accessed_at=now for
	// all ids in one batch update.
	TouchAccessed(ctx context.Context, ids []int64, now time.Time) error

	// Close releases the underlying connection pool.
	Close() error
}

// SettingsStore persists small key/value state such as scheduler run stamps.
type SettingsStore interface {
	// GetSetting returns the stored value. Returns ErrNotFound if unset.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting upserts the value for key.
	SetSetting(ctx context.Context, key, value string) error
}

// Store is implemented by the concrete backends (sqlite, postgres).
type Store interface {
	MemoryStore
	SettingsStore
}
