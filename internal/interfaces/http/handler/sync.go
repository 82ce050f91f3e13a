package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/jsonl"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// PageLister serves cursor pages and full walks of a collection
type PageLister interface {
	ListPage(ctx context.Context, req erpsync.CursorPageRequest) (*erpsync.CursorPage[json.RawMessage], error)
	Each(ctx context.Context, req erpsync.CursorPageRequest, fn func(erpsync.Record) error) error
}

// ChangeReader serves delta batches
type ChangeReader interface {
	GetChanges(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error)
}

// BatchApplier applies batch writes
type BatchApplier interface {
	Write(ctx context.Context, req *erpsync.BatchWriteRequest[json.RawMessage], correlationID string) (*erpsync.BatchWriteResponse, error)
}

// SyncHandler serves the sync protocol endpoints under /sync/:entity
type SyncHandler struct {
	BaseHandler
	pages           PageLister
	changes         ChangeReader
	batches         BatchApplier
	metrics         *telemetry.ExchangeMetrics
	streamChunkSize int
}

// SyncHandlerOption configures a SyncHandler
type SyncHandlerOption func(*SyncHandler)

// WithStreamChunkSize sets the number of items per stream chunk
func WithStreamChunkSize(n int) SyncHandlerOption {
	return func(h *SyncHandler) {
		if n > 0 {
			h.streamChunkSize = n
		}
	}
}

// WithSyncMetrics records streamed item counts
func WithSyncMetrics(m *telemetry.ExchangeMetrics) SyncHandlerOption {
	return func(h *SyncHandler) { h.metrics = m }
}

// WithSyncLogger sets the logger
func WithSyncLogger(l *zap.Logger) SyncHandlerOption {
	return func(h *SyncHandler) { h.BaseHandler = newBaseHandler(l) }
}

// NewSyncHandler creates a SyncHandler
func NewSyncHandler(pages PageLister, changes ChangeReader, batches BatchApplier, opts ...SyncHandlerOption) *SyncHandler {
	h := &SyncHandler{
		BaseHandler:     newBaseHandler(nil),
		pages:           pages,
		changes:         changes,
		batches:         batches,
		streamChunkSize: jsonl.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Page returns one cursor page of a collection
//
//	GET /sync/:entity/page?cursor=&page_size=&sort=&desc=&include_total=&fields=&filter[name]=
func (h *SyncHandler) Page(c *gin.Context) {
	req, ok := h.pageRequest(c)
	if !ok {
		return
	}

	page, err := h.pages.ListPage(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if page.TotalCount != nil {
		c.Header(erpsync.HeaderTotalCount, strconv.FormatInt(*page.TotalCount, 10))
	}
	c.Header(erpsync.HeaderHasMore, strconv.FormatBool(page.HasMore))
	if page.ETag != "" {
		c.Header("ETag", page.ETag)
		if c.GetHeader("If-None-Match") == page.ETag {
			c.Status(http.StatusNotModified)
			return
		}
	}
	h.Success(c, page)
}

// Delta returns the changes after a watermark or continuation token
//
//	GET /sync/:entity/delta?watermark=&since=&batch_size=&include_deleted=&continuation_token=
func (h *SyncHandler) Delta(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	entityType, err := erpsync.ParseEntityType(c.Param("entity"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var q dto.DeltaQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	since, err := q.SinceTime()
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "since must be an RFC 3339 timestamp")
		return
	}

	resp, err := h.changes.GetChanges(c.Request.Context(), erpsync.DeltaSyncRequest{
		TenantID:          tenantID,
		EntityType:        entityType,
		Watermark:         q.Watermark,
		SinceUTC:          since,
		BatchSize:         q.BatchSize,
		IncludeDeleted:    q.IncludeDeleted,
		ContinuationToken: q.ContinuationToken,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Header(erpsync.HeaderWatermark, strconv.FormatInt(resp.NewWatermark, 10))
	if resp.ContinuationToken != "" {
		c.Header(erpsync.HeaderContinuationToken, resp.ContinuationToken)
	}
	c.Header(erpsync.HeaderHasMore, strconv.FormatBool(resp.HasMore))
	h.Success(c, resp)
}

// Batch applies a batch write. The correlation id of the request guards
// against replays; a replayed batch is answered with 409.
//
//	POST /sync/:entity/batch
func (h *SyncHandler) Batch(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	entityType, err := erpsync.ParseEntityType(c.Param("entity"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req erpsync.BatchWriteRequest[json.RawMessage]
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if req.EntityType != "" && req.EntityType != entityType {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "entity type in body does not match the path")
		return
	}
	if req.TenantID != uuid.Nil && req.TenantID != tenantID {
		h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, "batch names another tenant")
		return
	}
	req.TenantID = tenantID
	req.EntityType = entityType

	resp, err := h.batches.Write(c.Request.Context(), &req, middleware.GetCorrelationID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Stream writes the whole collection as a chunked JSON-Lines stream,
// gzip-compressed when the client accepts it. Filters work as on Page;
// items are always complete.
//
//	GET /sync/:entity/stream
func (h *SyncHandler) Stream(c *gin.Context) {
	req, ok := h.pageRequest(c)
	if !ok {
		return
	}
	req.PageSize = h.streamChunkSize
	req.Fields = nil
	ctx := c.Request.Context()

	compress := acceptsGzip(c.GetHeader("Accept-Encoding"))
	opts := []jsonl.WriterOption{jsonl.WithChunkSize(h.streamChunkSize), jsonl.WithChecksum(true)}
	if compress {
		opts = append(opts, jsonl.WithGzip(gzip.BestSpeed))
	}

	c.Header("Content-Type", erpsync.ContentTypeJSONLines)
	c.Header("Vary", "Accept-Encoding")
	if compress {
		c.Header("Content-Encoding", "gzip")
	}
	c.Status(http.StatusOK)

	w, err := jsonl.NewWriter(c.Writer, opts...)
	if err != nil {
		h.streamFailed(c, err)
		return
	}

	err = h.pages.Each(ctx, req, func(rec erpsync.Record) error {
		return w.Write(rec.Payload)
	})
	if err == nil {
		err = w.Close()
	}
	h.metrics.RecordStreamItems(ctx, req.EntityType, int(w.Written()))
	if err != nil {
		h.streamFailed(c, err)
		return
	}

	logger.Enrich(ctx, h.logger).Debug("Stream finished",
		zap.String("entity_type", string(req.EntityType)),
		zap.Int64("items", w.Written()))
}

// streamFailed answers with a JSON error while nothing was sent yet.
// Afterwards the stream is cut short: it lacks its last chunk, which the
// reader reports as incomplete.
func (h *SyncHandler) streamFailed(c *gin.Context, err error) {
	if !c.Writer.Written() {
		header := c.Writer.Header()
		header.Del("Content-Type")
		header.Del("Content-Encoding")
		header.Del("Vary")
		h.HandleError(c, err)
		return
	}
	logger.Enrich(c.Request.Context(), h.logger).Warn("Stream aborted", zap.Error(err))
	c.Abort()
}

// pageRequest builds the listing request shared by Page and Stream
func (h *SyncHandler) pageRequest(c *gin.Context) (erpsync.CursorPageRequest, bool) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return erpsync.CursorPageRequest{}, false
	}
	entityType, err := erpsync.ParseEntityType(c.Param("entity"))
	if err != nil {
		h.HandleError(c, err)
		return erpsync.CursorPageRequest{}, false
	}

	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return erpsync.CursorPageRequest{}, false
	}
	return erpsync.CursorPageRequest{
		TenantID:     tenantID,
		EntityType:   entityType,
		Cursor:       q.Cursor,
		PageSize:     q.PageSize,
		Filters:      dto.FilterParams(c.Request.URL.Query()),
		Sort:         q.SortSpec(),
		Fields:       q.FieldList(),
		IncludeTotal: q.IncludeTotal,
	}, true
}

func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}
