package syncapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrReplayedBatch is returned for a batch whose correlation id was already
// applied within the replay window
var ErrReplayedBatch = shared.NewDomainError(shared.ErrAlreadyExists.Code, "batch with this correlation id was already applied")

// BatchWriter applies batch write requests item by item. Each item is
// written under its entity lock and together with its change-log entry.
type BatchWriter struct {
	store     erpsync.RecordStore
	locker    erpsync.EntityLocker
	validator *ItemValidator
	replay    shared.IdempotencyStore
	replayTTL time.Duration
	metrics   *telemetry.ExchangeMetrics
	logger    *zap.Logger
}

// BatchWriterOption configures a BatchWriter
type BatchWriterOption func(*BatchWriter)

// WithReplayProtection rejects batches whose correlation id was fully
// applied within ttl. A batch with item failures or an abort releases its
// correlation id.
func WithReplayProtection(store shared.IdempotencyStore, ttl time.Duration) BatchWriterOption {
	return func(w *BatchWriter) {
		w.replay = store
		if ttl > 0 {
			w.replayTTL = ttl
		}
	}
}

// WithBatchMetrics records batch outcomes
func WithBatchMetrics(m *telemetry.ExchangeMetrics) BatchWriterOption {
	return func(w *BatchWriter) { w.metrics = m }
}

// WithBatchLogger sets the logger
func WithBatchLogger(l *zap.Logger) BatchWriterOption {
	return func(w *BatchWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewBatchWriter creates a BatchWriter
func NewBatchWriter(store erpsync.RecordStore, locker erpsync.EntityLocker, validator *ItemValidator, opts ...BatchWriterOption) *BatchWriter {
	w := &BatchWriter{
		store:     store,
		locker:    locker,
		validator: validator,
		replayTTL: shared.DefaultReplayTTL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write applies the batch. Item failures are reported in the response; the
// error is reserved for invalid envelopes, replays and store outages that
// make the whole request meaningless.
func (w *BatchWriter) Write(ctx context.Context, req *erpsync.BatchWriteRequest[json.RawMessage], correlationID string) (*erpsync.BatchWriteResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "batch_writer", "write",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, req.EntityType),
		telemetry.WithAttribute(telemetry.SpanAttrItemCount, len(req.Items)),
		telemetry.WithAttribute(telemetry.SpanAttrCorrelationID, correlationID))
	defer span.End()

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	var replayKey string
	if w.replay != nil && correlationID != "" {
		key := "batch:" + req.TenantID.String() + ":" + correlationID
		fresh, err := w.replay.MarkProcessed(ctx, key, w.replayTTL)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to check batch replay: %w", err)
		}
		if !fresh {
			return nil, ErrReplayedBatch
		}
		replayKey = key
	}

	log := logger.Enrich(ctx, w.logger).With(
		zap.String("entity_type", string(req.EntityType)),
		zap.String("mode", string(req.Mode)),
	)

	resp := erpsync.NewBatchWriteResponse()
	check := req.ShouldValidate()
	for i, raw := range req.Items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(req.Items); j++ {
				resp.Fail(erpsync.BatchItemError{Index: j, Code: erpsync.ItemCancelled, Message: "request was cancelled"})
			}
			resp.Aborted = true
			break
		}

		outcome, itemErr := w.writeItem(ctx, req, i, raw, check)
		if itemErr == nil {
			resp.Record(outcome)
			continue
		}
		resp.Fail(*itemErr)
		if !req.ShouldContinueOnError() {
			resp.Aborted = true
			break
		}
	}

	if replayKey != "" && (resp.Aborted || resp.ErrorCount > 0) {
		// only a fully applied batch is remembered
		if err := w.replay.Release(context.WithoutCancel(ctx), replayKey); err != nil {
			log.Warn("Failed to release batch correlation id", zap.Error(err))
		}
	}

	w.metrics.RecordBatch(ctx, req.EntityType, resp)
	telemetry.AddEvent(span, "batch_applied",
		"success", resp.SuccessCount,
		"errors", resp.ErrorCount,
	)
	log.Info("Batch applied",
		zap.Int("items", len(req.Items)),
		zap.Int("inserted", resp.InsertedCount),
		zap.Int("updated", resp.UpdatedCount),
		zap.Int("skipped", resp.SkippedCount),
		zap.Int("errors", resp.ErrorCount),
		zap.Bool("aborted", resp.Aborted),
	)
	return resp, nil
}

func (w *BatchWriter) writeItem(
	ctx context.Context,
	req *erpsync.BatchWriteRequest[json.RawMessage],
	index int,
	raw json.RawMessage,
	check bool,
) (erpsync.WriteOutcome, *erpsync.BatchItemError) {
	item, err := w.validator.Decode(req.EntityType, raw, check)
	if err != nil {
		itemErr := erpsync.BatchItemError{Index: index, Code: erpsync.ItemValidationFailed, Message: err.Error()}
		var ie *ItemError
		if errors.As(err, &ie) {
			itemErr.Field = ie.Field
		}
		return 0, &itemErr
	}

	fail := func(code, msg string) (erpsync.WriteOutcome, *erpsync.BatchItemError) {
		return 0, &erpsync.BatchItemError{Index: index, ID: item.ID, Code: code, Message: msg}
	}

	unlock, err := w.locker.Lock(ctx, erpsync.LockKey(req.TenantID, req.EntityType, item.ID))
	if err != nil {
		if ctx.Err() != nil {
			return fail(erpsync.ItemCancelled, "request was cancelled while waiting for the entity lock")
		}
		return fail(erpsync.ItemWriteFailed, "entity lock unavailable")
	}
	defer unlock()

	existing, err := w.store.Get(ctx, req.TenantID, req.EntityType, item.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return fail(erpsync.ItemWriteFailed, "failed to read current version")
	}
	live := existing != nil && !existing.IsDeleted()

	switch {
	case req.Mode == erpsync.WriteInsert && live && !item.Deleted:
		return fail(erpsync.ItemDuplicate, "entity "+item.ID+" already exists")
	case req.Mode == erpsync.WriteUpdate && !live && !item.Deleted:
		return fail(erpsync.ItemNotFound, "entity "+item.ID+" does not exist")
	}

	rowVersion, outcome, verr := nextVersion(existing, item.RowVersion)
	if verr != nil {
		return 0, &erpsync.BatchItemError{Index: index, ID: item.ID, Code: erpsync.ItemStaleVersion, Message: verr.Error(), Field: "rowVersion"}
	}
	if outcome == erpsync.OutcomeSkipped {
		return outcome, nil
	}

	if item.Deleted {
		if !live {
			// already gone; deleting again is a replay
			return erpsync.OutcomeSkipped, nil
		}
		if _, err := w.store.Delete(ctx, req.TenantID, req.EntityType, item.ID, rowVersion); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return erpsync.OutcomeSkipped, nil
			}
			return fail(erpsync.ItemWriteFailed, "failed to delete entity")
		}
		return erpsync.OutcomeUpdated, nil
	}

	change := erpsync.ChangeCreated
	if live {
		change = erpsync.ChangeUpdated
		outcome = erpsync.OutcomeUpdated
	} else {
		outcome = erpsync.OutcomeInserted
	}
	rec := &erpsync.Record{
		TenantID:   req.TenantID,
		EntityType: req.EntityType,
		ID:         item.ID,
		RowVersion: rowVersion,
		SortKey:    item.SortKey,
		Payload:    raw,
		UpdatedAt:  time.Now().UTC(),
	}
	if _, err := w.store.Put(ctx, rec, change); err != nil {
		w.logger.Warn("Batch item write failed",
			zap.String("entity_type", string(req.EntityType)),
			zap.String("id", item.ID),
			zap.Error(err))
		return fail(erpsync.ItemWriteFailed, "failed to write entity")
	}
	return outcome, nil
}

// nextVersion applies the row-version rules: an older incoming version is
// stale, an equal one is an idempotent replay, a missing one is stored+1
func nextVersion(existing *erpsync.Record, incoming *int64) (int64, erpsync.WriteOutcome, error) {
	if existing == nil {
		if incoming != nil {
			return *incoming, 0, nil
		}
		return 1, 0, nil
	}
	if incoming == nil {
		return existing.RowVersion + 1, 0, nil
	}
	switch {
	case *incoming < existing.RowVersion:
		return 0, 0, fmt.Errorf("row version %d is older than stored version %d", *incoming, existing.RowVersion)
	case *incoming == existing.RowVersion:
		return existing.RowVersion, erpsync.OutcomeSkipped, nil
	}
	return *incoming, 0, nil
}
