package erpsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the stored state of one synchronized entity
type Record struct {
	TenantID   uuid.UUID       `json:"tenantId"`
	EntityType EntityType      `json:"entityType"`
	ID         string          `json:"id"`
	RowVersion int64           `json:"rowVersion"`
	SortKey    string          `json:"sortKey,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	DeletedAt  *time.Time      `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the record is soft-deleted
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// SortValue renders the record's value for a sort field as it is carried
// in a cursor
func (r *Record) SortValue(field string) string {
	switch field {
	case SortByUpdatedAt:
		return r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	case SortBySortKey:
		return r.SortKey
	default:
		return r.ID
	}
}

// Change is one entry of the change log. Seq is assigned by the store and
// strictly increases per store; it is the delta watermark.
type Change struct {
	Seq        int64           `json:"seq"`
	TenantID   uuid.UUID       `json:"tenantId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	ChangeType ChangeType      `json:"changeType"`
	RowVersion int64           `json:"rowVersion"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ChangedAt  time.Time       `json:"changedAt"`
}

// KeysetPosition is the decoded position of a cursor
type KeysetPosition struct {
	SortValue string `json:"v"`
	ID        string `json:"id"`
}

// PageQuery is a store-level keyset query
type PageQuery struct {
	TenantID     uuid.UUID
	EntityType   EntityType
	Sort         SortSpec
	After        *KeysetPosition
	Limit        int
	UpdatedAfter *time.Time
	IDPrefix     string
}

// RecordStore holds the current state of synchronized entities
type RecordStore interface {
	// Get returns a record by id, including soft-deleted ones
	Get(ctx context.Context, tenantID uuid.UUID, entityType EntityType, id string) (*Record, error)

	// ListPage returns up to q.Limit live records after q.After in sort order
	ListPage(ctx context.Context, q PageQuery) ([]Record, error)

	// Count returns the number of live records matching the query filters
	Count(ctx context.Context, q PageQuery) (int64, error)

	// Put inserts or replaces a record and appends the matching change in
	// the same transaction
	Put(ctx context.Context, rec *Record, change ChangeType) (*Change, error)

	// Delete soft-deletes a record and appends a tombstone change
	Delete(ctx context.Context, tenantID uuid.UUID, entityType EntityType, id string, rowVersion int64) (*Change, error)
}

// ChangeLog exposes the ordered change history
type ChangeLog interface {
	// ListSince returns changes with afterSeq < seq <= uptoSeq in ascending
	// order, at most limit entries
	ListSince(ctx context.Context, tenantID uuid.UUID, entityType EntityType, afterSeq, uptoSeq int64, limit int, includeDeleted bool) ([]Change, error)

	// MaxSeq returns the highest sequence for the tenant and entity type
	MaxSeq(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (int64, error)

	// SeqBefore returns the highest sequence changed strictly before t
	SeqBefore(ctx context.Context, tenantID uuid.UUID, entityType EntityType, t time.Time) (int64, error)
}

// EntityLocker serializes writes to one entity id
type EntityLocker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey builds the lock key for an entity
func LockKey(tenantID uuid.UUID, entityType EntityType, id string) string {
	return tenantID.String() + "/" + string(entityType) + "/" + id
}

// LocalApplier applies delta items to the connector-side mirror
type LocalApplier interface {
	// Upsert writes the payload for id if rowVersion is not older than the
	// stored one
	Upsert(ctx context.Context, entityType EntityType, id string, rowVersion int64, payload json.RawMessage) error

	// Delete removes id. Unknown ids are recorded as tombstones, never an error.
	Delete(ctx context.Context, entityType EntityType, id string, rowVersion int64) error
}

// WatermarkStore persists the connector's resume point per entity type
type WatermarkStore interface {
	LoadState(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (DeltaSyncState, error)
	SaveState(ctx context.Context, tenantID uuid.UUID, entityType EntityType, state DeltaSyncState) error
}
