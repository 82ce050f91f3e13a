package erpsync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Batch size bounds for delta sync
const (
	DefaultBatchSize = 5000
	MaxBatchSize     = 50000
)

// ChangeType classifies a delta item
type ChangeType string

const (
	ChangeCreated ChangeType = "Created"
	ChangeUpdated ChangeType = "Updated"
	ChangeDeleted ChangeType = "Deleted"
)

// IsValid checks if the change type is known
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	}
	return false
}

// DeltaItem is one change. A Deleted item is a tombstone: it has an ID and
// never an Item.
type DeltaItem[T any] struct {
	ChangeType   ChangeType `json:"changeType"`
	Item         *T         `json:"item,omitempty"`
	ID           string     `json:"id"`
	RowVersion   *int64     `json:"rowVersion,omitempty"`
	ChangedAtUTC time.Time  `json:"changedAtUtc"`
}

// NewTombstone creates a deletion marker for id
func NewTombstone[T any](id string, rowVersion int64, at time.Time) DeltaItem[T] {
	rv := rowVersion
	return DeltaItem[T]{ChangeType: ChangeDeleted, ID: id, RowVersion: &rv, ChangedAtUTC: at.UTC()}
}

// IsTombstone reports whether the item is a deletion
func (d DeltaItem[T]) IsTombstone() bool {
	return d.ChangeType == ChangeDeleted
}

// Validate checks the tombstone invariant
func (d DeltaItem[T]) Validate() error {
	if d.ID == "" {
		return InvalidRequest("delta item without id")
	}
	if !d.ChangeType.IsValid() {
		return InvalidRequest("unknown change type " + string(d.ChangeType))
	}
	if d.ChangeType == ChangeDeleted && d.Item != nil {
		return InvalidRequest("deleted item " + d.ID + " must not carry a payload")
	}
	if d.ChangeType != ChangeDeleted && d.Item == nil {
		return InvalidRequest("changed item " + d.ID + " has no payload")
	}
	return nil
}

// DeltaSyncRequest asks for changes after a watermark, a time, or a
// continuation token. A token always wins over the other selectors.
type DeltaSyncRequest struct {
	TenantID          uuid.UUID  `json:"tenantId"`
	EntityType        EntityType `json:"entityType"`
	Watermark         *int64     `json:"watermark,omitempty"`
	SinceUTC          *time.Time `json:"sinceUtc,omitempty"`
	BatchSize         int        `json:"batchSize,omitempty"`
	IncludeDeleted    *bool      `json:"includeDeleted,omitempty"`
	ContinuationToken string     `json:"continuationToken,omitempty"`
}

// WantsDeleted returns IncludeDeleted, defaulting to true
func (r *DeltaSyncRequest) WantsDeleted() bool {
	return r.IncludeDeleted == nil || *r.IncludeDeleted
}

// RequestWatermark returns the watermark sent, or 0
func (r *DeltaSyncRequest) RequestWatermark() int64 {
	if r.Watermark == nil {
		return 0
	}
	return *r.Watermark
}

// Normalize applies defaults and validates bounds
func (r *DeltaSyncRequest) Normalize(defaultSize, maxSize int) error {
	if defaultSize <= 0 {
		defaultSize = DefaultBatchSize
	}
	if maxSize <= 0 || maxSize > MaxBatchSize {
		maxSize = MaxBatchSize
	}
	if r.TenantID == uuid.Nil {
		return InvalidRequest("tenant id is required")
	}
	if !r.EntityType.IsValid() {
		return InvalidRequest("unknown entity type " + string(r.EntityType))
	}
	if r.Watermark != nil && *r.Watermark < 0 {
		return InvalidRequest("watermark must not be negative")
	}
	if r.BatchSize == 0 {
		r.BatchSize = defaultSize
	}
	if r.BatchSize < 1 || r.BatchSize > maxSize {
		return InvalidRequest(fmt.Sprintf("batch size must be between 1 and %d", maxSize))
	}
	return nil
}

// DeltaStats counts the changes in one response
type DeltaStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// Count adds one change to the stats
func (s *DeltaStats) Count(c ChangeType) {
	switch c {
	case ChangeCreated:
		s.Created++
	case ChangeUpdated:
		s.Updated++
	case ChangeDeleted:
		s.Deleted++
	}
	s.Total++
}

// DeltaSyncResponse is one batch of changes in change-sequence order
type DeltaSyncResponse[T any] struct {
	Changes           []DeltaItem[T] `json:"changes"`
	NewWatermark      int64          `json:"newWatermark"`
	ServerTimestamp   time.Time      `json:"serverTimestamp"`
	ContinuationToken string         `json:"continuationToken,omitempty"`
	HasMore           bool           `json:"hasMore"`
	Stats             DeltaStats     `json:"stats"`
}

// DeltaSyncState is the client's resume point. It is only ever advanced
// from server responses.
type DeltaSyncState struct {
	Watermark         int64      `json:"watermark"`
	SinceUTC          *time.Time `json:"sinceUtc,omitempty"`
	ContinuationToken string     `json:"continuationToken,omitempty"`
}

// InCycle reports whether a multi-batch cycle is still open
func (s DeltaSyncState) InCycle() bool {
	return s.ContinuationToken != ""
}

// NextRequest builds the request for the next batch. While a cycle is open
// the token is sent and the watermark is left out.
func (s DeltaSyncState) NextRequest(tenantID uuid.UUID, entityType EntityType, batchSize int) DeltaSyncRequest {
	req := DeltaSyncRequest{TenantID: tenantID, EntityType: entityType, BatchSize: batchSize}
	if s.ContinuationToken != "" {
		req.ContinuationToken = s.ContinuationToken
		return req
	}
	if s.Watermark > 0 || s.SinceUTC == nil {
		wm := s.Watermark
		req.Watermark = &wm
		return req
	}
	req.SinceUTC = s.SinceUTC
	return req
}

// Advance moves the state past a response. The token is kept while the
// server reports more; the watermark is adopted when the cycle closes.
func (s *DeltaSyncState) Advance(newWatermark int64, token string, hasMore bool) error {
	if newWatermark < s.Watermark {
		return fmt.Errorf("%w: %d < %d", ErrWatermarkRegression, newWatermark, s.Watermark)
	}
	if hasMore {
		if token == "" {
			return InvalidRequest("response reports more changes without a continuation token")
		}
		s.ContinuationToken = token
		return nil
	}
	s.ContinuationToken = ""
	s.Watermark = newWatermark
	s.SinceUTC = nil
	return nil
}
