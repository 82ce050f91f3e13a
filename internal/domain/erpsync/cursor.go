package erpsync

import (
	"time"

	"github.com/google/uuid"
)

// Page size bounds for cursor pagination
const (
	DefaultPageSize = 1000
	MaxPageSize     = 10000
)

// Sortable fields. The record id is always the tie-breaker.
const (
	SortByID        = "id"
	SortByUpdatedAt = "updated_at"
	SortBySortKey   = "sort_key"
)

// IsSortable reports whether field can key a cursor listing
func IsSortable(field string) bool {
	switch field {
	case SortByID, SortByUpdatedAt, SortBySortKey:
		return true
	}
	return false
}

// SortSpec selects the single sort key of a cursor listing. One key keeps
// the cursor stable; the record id is always the tie-breaker.
type SortSpec struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// CursorPageRequest asks for one page of a listing
type CursorPageRequest struct {
	TenantID     uuid.UUID         `json:"tenantId"`
	EntityType   EntityType        `json:"entityType"`
	Cursor       string            `json:"cursor,omitempty"`
	PageSize     int               `json:"pageSize,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Sort         *SortSpec         `json:"sort,omitempty"`
	Fields       []string          `json:"fields,omitempty"`
	IncludeTotal bool              `json:"includeTotal,omitempty"`
}

// Normalize applies defaults and validates bounds. defaultSize and maxSize
// fall back to the protocol constants when zero.
func (r *CursorPageRequest) Normalize(defaultSize, maxSize int) error {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 || maxSize > MaxPageSize {
		maxSize = MaxPageSize
	}
	if r.TenantID == uuid.Nil {
		return InvalidRequest("tenant id is required")
	}
	if !r.EntityType.IsValid() {
		return InvalidRequest("unknown entity type " + string(r.EntityType))
	}
	if r.PageSize == 0 {
		r.PageSize = defaultSize
	}
	if r.PageSize < 1 || r.PageSize > maxSize {
		return InvalidRequest("page size must be between 1 and 10000")
	}
	if r.Sort == nil || r.Sort.Field == "" {
		desc := r.Sort != nil && r.Sort.Descending
		r.Sort = &SortSpec{Field: SortByID, Descending: desc}
	}
	if !IsSortable(r.Sort.Field) {
		return InvalidRequest("cannot sort by " + r.Sort.Field)
	}
	return nil
}

// CursorPage is one page of a listing. HasMore=false always comes with a
// nil NextCursor.
type CursorPage[T any] struct {
	Items           []T       `json:"items"`
	NextCursor      *string   `json:"nextCursor,omitempty"`
	HasMore         bool      `json:"hasMore"`
	TotalCount      *int64    `json:"totalCount,omitempty"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
	ETag            string    `json:"etag,omitempty"`
}

// NewCursorPage builds a page, dropping the cursor when nothing follows
func NewCursorPage[T any](items []T, nextCursor string, hasMore bool) CursorPage[T] {
	if items == nil {
		items = make([]T, 0)
	}
	page := CursorPage[T]{
		Items:           items,
		HasMore:         hasMore,
		ServerTimestamp: time.Now().UTC(),
	}
	if hasMore && nextCursor != "" {
		page.NextCursor = &nextCursor
	}
	return page
}

// Validate checks the page invariant
func (p CursorPage[T]) Validate() error {
	if !p.HasMore && p.NextCursor != nil {
		return InvalidRequest("page without more items must not carry a cursor")
	}
	return nil
}
