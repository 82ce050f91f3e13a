package syncapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DeltaService serves changes from the change log in sequence order.
//
// A cycle is the sequence of batches needed to catch up to the change-log
// head observed by the first batch. That head is carried in the
// continuation token, so changes committed during the cycle are delivered
// by the next one instead of stretching the current cycle forever.
type DeltaService struct {
	changes     erpsync.ChangeLog
	codec       *CursorCodec
	defaultSize int
	maxSize     int
	metrics     *telemetry.ExchangeMetrics
	logger      *zap.Logger
}

// DeltaServiceOption configures a DeltaService
type DeltaServiceOption func(*DeltaService)

// WithBatchSizes overrides the default and maximum delta batch sizes
func WithBatchSizes(defaultSize, maxSize int) DeltaServiceOption {
	return func(s *DeltaService) {
		s.defaultSize = defaultSize
		s.maxSize = maxSize
	}
}

// WithDeltaMetrics records delta pages
func WithDeltaMetrics(m *telemetry.ExchangeMetrics) DeltaServiceOption {
	return func(s *DeltaService) { s.metrics = m }
}

// WithDeltaLogger sets the logger
func WithDeltaLogger(logger *zap.Logger) DeltaServiceOption {
	return func(s *DeltaService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDeltaService creates a DeltaService
func NewDeltaService(changes erpsync.ChangeLog, codec *CursorCodec, opts ...DeltaServiceOption) *DeltaService {
	s := &DeltaService{
		changes:     changes,
		codec:       codec,
		defaultSize: erpsync.DefaultBatchSize,
		maxSize:     erpsync.MaxBatchSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetChanges returns the next batch of changes. The starting point is the
// continuation token when present, then the watermark, then SinceUTC, and
// otherwise the start of the log.
func (s *DeltaService) GetChanges(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "delta_sync", "get_changes",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, req.EntityType),
		telemetry.WithAttribute(telemetry.SpanAttrWatermark, req.RequestWatermark()))
	defer span.End()

	if err := req.Normalize(s.defaultSize, s.maxSize); err != nil {
		return nil, err
	}

	cycle, err := s.startPoint(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	resp := &erpsync.DeltaSyncResponse[json.RawMessage]{
		Changes:         make([]erpsync.DeltaItem[json.RawMessage], 0),
		ServerTimestamp: time.Now().UTC(),
	}

	var rows []erpsync.Change
	if cycle.AfterSeq < cycle.TargetSeq {
		rows, err = s.changes.ListSince(ctx, req.TenantID, req.EntityType,
			cycle.AfterSeq, cycle.TargetSeq, req.BatchSize+1, cycle.IncludeDeleted)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to read change log: %w", err)
		}
	}

	resp.HasMore = len(rows) > req.BatchSize
	if resp.HasMore {
		rows = rows[:req.BatchSize]
	}
	for i := range rows {
		resp.Changes = append(resp.Changes, toDeltaItem(rows[i]))
		resp.Stats.Count(rows[i].ChangeType)
	}

	if resp.HasMore {
		lastSeq := rows[len(rows)-1].Seq
		resp.NewWatermark = lastSeq
		next := cycle
		next.AfterSeq = lastSeq
		if resp.ContinuationToken, err = s.codec.EncodeToken(next); err != nil {
			return nil, err
		}
	} else {
		resp.NewWatermark = max(cycle.TargetSeq, cycle.AfterSeq)
	}
	// a client can never be moved backwards
	resp.NewWatermark = max(resp.NewWatermark, req.RequestWatermark())

	s.metrics.RecordDeltaPage(ctx, req.EntityType, resp.Stats)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrNewWatermark, resp.NewWatermark,
		telemetry.SpanAttrHasMore, resp.HasMore,
		telemetry.SpanAttrItemCount, resp.Stats.Total,
	)
	s.logger.Debug("Delta batch served",
		zap.String("entity_type", string(req.EntityType)),
		zap.Int64("after_seq", cycle.AfterSeq),
		zap.Int64("target_seq", cycle.TargetSeq),
		zap.Int64("new_watermark", resp.NewWatermark),
		zap.Int("changes", resp.Stats.Total),
		zap.Bool("has_more", resp.HasMore),
	)
	return resp, nil
}

// startPoint resolves where this batch starts and where its cycle ends
func (s *DeltaService) startPoint(ctx context.Context, req erpsync.DeltaSyncRequest) (ContinuationToken, error) {
	if req.ContinuationToken != "" {
		return s.codec.DecodeToken(req.ContinuationToken, req.TenantID, req.EntityType)
	}

	cycle := ContinuationToken{
		TenantID:       req.TenantID,
		EntityType:     req.EntityType,
		IncludeDeleted: req.WantsDeleted(),
	}
	switch {
	case req.Watermark != nil:
		cycle.AfterSeq = *req.Watermark
	case req.SinceUTC != nil:
		seq, err := s.changes.SeqBefore(ctx, req.TenantID, req.EntityType, *req.SinceUTC)
		if err != nil {
			return cycle, fmt.Errorf("failed to resolve since timestamp: %w", err)
		}
		cycle.AfterSeq = seq
	}

	target, err := s.changes.MaxSeq(ctx, req.TenantID, req.EntityType)
	if err != nil {
		return cycle, fmt.Errorf("failed to read change log head: %w", err)
	}
	cycle.TargetSeq = target
	return cycle, nil
}

func toDeltaItem(c erpsync.Change) erpsync.DeltaItem[json.RawMessage] {
	if c.ChangeType == erpsync.ChangeDeleted {
		return erpsync.NewTombstone[json.RawMessage](c.EntityID, c.RowVersion, c.ChangedAt)
	}
	payload := c.Payload
	rv := c.RowVersion
	return erpsync.DeltaItem[json.RawMessage]{
		ChangeType:   c.ChangeType,
		Item:         &payload,
		ID:           c.EntityID,
		RowVersion:   &rv,
		ChangedAtUTC: c.ChangedAt.UTC(),
	}
}
