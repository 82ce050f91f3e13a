package erpsync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorPageRequest_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		req      CursorPageRequest
		wantSize int
		wantErr  bool
	}{
		{"defaults", CursorPageRequest{TenantID: uuid.New(), EntityType: EntityArticles}, DefaultPageSize, false},
		{"max", CursorPageRequest{TenantID: uuid.New(), EntityType: EntityArticles, PageSize: MaxPageSize}, MaxPageSize, false},
		{"too large", CursorPageRequest{TenantID: uuid.New(), EntityType: EntityArticles, PageSize: MaxPageSize + 1}, 0, true},
		{"negative", CursorPageRequest{TenantID: uuid.New(), EntityType: EntityArticles, PageSize: -1}, 0, true},
		{"no tenant", CursorPageRequest{EntityType: EntityArticles}, 0, true},
		{"unsortable field", CursorPageRequest{TenantID: uuid.New(), EntityType: EntityArticles, Sort: &SortSpec{Field: "price"}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Normalize(0, 0)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, tt.req.PageSize)
			assert.Equal(t, "id", tt.req.Sort.Field)
		})
	}
}

func TestRecord_SortValue(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 5, time.FixedZone("CET", 3600))
	rec := Record{ID: "A-1", SortKey: "Bolt M8", UpdatedAt: at}

	assert.Equal(t, "A-1", rec.SortValue(SortByID))
	assert.Equal(t, "Bolt M8", rec.SortValue(SortBySortKey))
	assert.Equal(t, "2025-03-01T11:00:00.000000005Z", rec.SortValue(SortByUpdatedAt))
}

func TestNewCursorPage(t *testing.T) {
	last := NewCursorPage([]int{1, 2}, "abc", false)
	assert.False(t, last.HasMore)
	assert.Nil(t, last.NextCursor)
	assert.NoError(t, last.Validate())

	more := NewCursorPage([]int{1}, "abc", true)
	require.NotNil(t, more.NextCursor)
	assert.Equal(t, "abc", *more.NextCursor)

	empty := NewCursorPage[int](nil, "", false)
	assert.NotNil(t, empty.Items)

	broken := CursorPage[int]{NextCursor: more.NextCursor}
	assert.Error(t, broken.Validate())
}

func TestParseEntityType(t *testing.T) {
	e, err := ParseEntityType(" Articles ")
	require.NoError(t, err)
	assert.Equal(t, EntityArticles, e)

	_, err = ParseEntityType("invoices")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
