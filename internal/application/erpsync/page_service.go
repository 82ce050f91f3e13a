package syncapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Supported page filters
const (
	FilterUpdatedAfter = "updated_after"
	FilterIDPrefix     = "id_prefix"
)

// PageService serves keyset-paginated listings of synchronized records.
//
// Pages are not snapshots: a record inserted or moved behind the cursor
// while a client pages through is missed until the next full pass, and a
// record whose sort value moves ahead of the cursor can be seen twice.
// Sorting by id bounds both to the records actually mutated.
type PageService struct {
	store       erpsync.RecordStore
	codec       *CursorCodec
	defaultSize int
	maxSize     int
	logger      *zap.Logger
}

// PageServiceOption configures a PageService
type PageServiceOption func(*PageService)

// WithPageSizes overrides the default and maximum page sizes
func WithPageSizes(defaultSize, maxSize int) PageServiceOption {
	return func(s *PageService) {
		s.defaultSize = defaultSize
		s.maxSize = maxSize
	}
}

// WithPageLogger sets the logger
func WithPageLogger(logger *zap.Logger) PageServiceOption {
	return func(s *PageService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewPageService creates a PageService
func NewPageService(store erpsync.RecordStore, codec *CursorCodec, opts ...PageServiceOption) *PageService {
	s := &PageService{
		store:       store,
		codec:       codec,
		defaultSize: erpsync.DefaultPageSize,
		maxSize:     erpsync.MaxPageSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPage returns one page of live records. Items are the stored payloads,
// projected to req.Fields when given.
func (s *PageService) ListPage(ctx context.Context, req erpsync.CursorPageRequest) (*erpsync.CursorPage[json.RawMessage], error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_page", "list",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, req.EntityType))
	defer span.End()

	if err := req.Normalize(s.defaultSize, s.maxSize); err != nil {
		return nil, err
	}

	q, err := s.buildQuery(req)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListPage(ctx, q)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list %s: %w", req.EntityType, err)
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	items := make([]json.RawMessage, 0, len(records))
	for i := range records {
		item, err := project(records[i].Payload, req.Fields)
		if err != nil {
			return nil, fmt.Errorf("record %s has an unreadable payload: %w", records[i].ID, err)
		}
		items = append(items, item)
	}

	var next string
	if hasMore {
		last := records[len(records)-1]
		next, err = s.codec.EncodeCursor(CursorPosition{
			Scope:      CursorScope(req.TenantID, req.EntityType),
			SortField:  req.Sort.Field,
			Descending: req.Sort.Descending,
			SortValue:  last.SortValue(req.Sort.Field),
			ID:         last.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	page := erpsync.NewCursorPage(items, next, hasMore)
	page.ETag = pageETag(records)
	if req.IncludeTotal {
		total, err := s.store.Count(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", req.EntityType, err)
		}
		page.TotalCount = &total
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrItemCount, len(items),
		telemetry.SpanAttrHasMore, hasMore,
	)
	return &page, nil
}

// Each walks every live record in id order, one keyset page at a time, and
// stops at the first error returned by fn
func (s *PageService) Each(ctx context.Context, req erpsync.CursorPageRequest, fn func(erpsync.Record) error) error {
	req.Cursor = ""
	req.Sort = &erpsync.SortSpec{Field: erpsync.SortByID}
	if err := req.Normalize(s.defaultSize, s.maxSize); err != nil {
		return err
	}
	q, err := s.buildQuery(req)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := s.store.ListPage(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", req.EntityType, err)
		}
		hasMore := len(records) > req.PageSize
		if hasMore {
			records = records[:req.PageSize]
		}
		for i := range records {
			if err := fn(records[i]); err != nil {
				return err
			}
		}
		if !hasMore {
			return nil
		}
		last := records[len(records)-1]
		q.After = &erpsync.KeysetPosition{SortValue: last.ID, ID: last.ID}
	}
}

func (s *PageService) buildQuery(req erpsync.CursorPageRequest) (erpsync.PageQuery, error) {
	q := erpsync.PageQuery{
		TenantID:   req.TenantID,
		EntityType: req.EntityType,
		Sort:       *req.Sort,
		Limit:      req.PageSize + 1,
	}

	for key, value := range req.Filters {
		switch key {
		case FilterUpdatedAfter:
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return q, erpsync.InvalidRequest("updated_after must be an RFC3339 timestamp")
			}
			q.UpdatedAfter = &t
		case FilterIDPrefix:
			q.IDPrefix = value
		default:
			return q, erpsync.InvalidRequest("unsupported filter " + key)
		}
	}

	if req.Cursor != "" {
		pos, err := s.codec.DecodeCursor(req.Cursor)
		if err != nil {
			return q, err
		}
		if pos.Scope != CursorScope(req.TenantID, req.EntityType) ||
			pos.SortField != req.Sort.Field || pos.Descending != req.Sort.Descending {
			s.logger.Debug("Cursor issued for another listing",
				zap.String("entity_type", string(req.EntityType)),
				zap.String("sort", req.Sort.Field))
			return q, erpsync.ErrInvalidCursor
		}
		q.After = &erpsync.KeysetPosition{SortValue: pos.SortValue, ID: pos.ID}
	}
	return q, nil
}

// project keeps only the requested top-level fields of a JSON object. The
// id is always kept so items stay addressable.
func project(payload json.RawMessage, fields []string) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	if len(fields) == 0 {
		return payload, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(fields)+1)
	if id, ok := obj["id"]; ok {
		out["id"] = id
	}
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	return json.Marshal(out)
}

// pageETag is a weak validator over the ids and row versions of a page
func pageETag(records []erpsync.Record) string {
	h := xxhash.New()
	for i := range records {
		_, _ = h.WriteString(records[i].ID)
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(strconv.FormatInt(records[i].RowVersion, 10))
		_, _ = h.WriteString("\n")
	}
	return `W/"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}
