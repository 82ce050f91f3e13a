package syncapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeltaFetcher fetches one delta batch from the sync server
type DeltaFetcher interface {
	FetchDelta(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error)
}

// RunSummary reports one completed run
type RunSummary struct {
	Pages          int   `json:"pages"`
	Applied        int   `json:"applied"`
	Deleted        int   `json:"deleted"`
	FinalWatermark int64 `json:"finalWatermark"`
}

// DeltaSyncRunner pulls changes into the connector's local mirror.
//
// State is persisted only after every change of a page was applied, so a
// crash or cancellation mid-page re-fetches that page on the next run.
// Re-applying it is harmless because upserts and deletes are idempotent.
type DeltaSyncRunner struct {
	fetcher   DeltaFetcher
	applier   erpsync.LocalApplier
	state     erpsync.WatermarkStore
	batchSize int
	logger    *zap.Logger
}

// RunnerOption configures a DeltaSyncRunner
type RunnerOption func(*DeltaSyncRunner)

// WithRunnerBatchSize sets the requested batch size
func WithRunnerBatchSize(n int) RunnerOption {
	return func(r *DeltaSyncRunner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRunnerLogger sets the logger
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *DeltaSyncRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewDeltaSyncRunner creates a runner
func NewDeltaSyncRunner(fetcher DeltaFetcher, applier erpsync.LocalApplier, state erpsync.WatermarkStore, opts ...RunnerOption) *DeltaSyncRunner {
	r := &DeltaSyncRunner{
		fetcher:   fetcher,
		applier:   applier,
		state:     state,
		batchSize: erpsync.DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches and applies pages until the server reports no more changes
func (r *DeltaSyncRunner) Run(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType) (*RunSummary, error) {
	state, err := r.state.LoadState(ctx, tenantID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	log := r.logger.With(zap.String("entity_type", string(entityType)))
	summary := &RunSummary{FinalWatermark: state.Watermark}
	restarted := false
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		resp, err := r.fetcher.FetchDelta(ctx, state.NextRequest(tenantID, entityType, r.batchSize))
		if err != nil {
			if errors.Is(err, erpsync.ErrInvalidContinuationToken) && state.InCycle() && !restarted {
				// the cycle's start watermark is still stored; pages applied
				// since then are fetched again
				log.Warn("Continuation token rejected, restarting cycle from watermark",
					zap.Int64("watermark", state.Watermark), zap.Error(err))
				state.ContinuationToken = ""
				if err := r.state.SaveState(ctx, tenantID, entityType, state); err != nil {
					return summary, fmt.Errorf("failed to save sync state: %w", err)
				}
				restarted = true
				continue
			}
			return summary, fmt.Errorf("failed to fetch %s changes: %w", entityType, err)
		}

		for _, item := range resp.Changes {
			if err := r.apply(ctx, entityType, item); err != nil {
				return summary, err
			}
			if item.IsTombstone() {
				summary.Deleted++
			} else {
				summary.Applied++
			}
		}

		if err := state.Advance(resp.NewWatermark, resp.ContinuationToken, resp.HasMore); err != nil {
			return summary, err
		}
		if err := r.state.SaveState(ctx, tenantID, entityType, state); err != nil {
			return summary, fmt.Errorf("failed to save sync state: %w", err)
		}
		summary.Pages++

		log.Debug("Delta page applied",
			zap.Int("changes", len(resp.Changes)),
			zap.Int64("new_watermark", resp.NewWatermark),
			zap.Bool("has_more", resp.HasMore),
		)
		if !resp.HasMore {
			break
		}
	}

	summary.FinalWatermark = state.Watermark
	log.Info("Delta sync finished",
		zap.Int("pages", summary.Pages),
		zap.Int("applied", summary.Applied),
		zap.Int("deleted", summary.Deleted),
		zap.Int64("watermark", summary.FinalWatermark),
	)
	return summary, nil
}

func (r *DeltaSyncRunner) apply(ctx context.Context, entityType erpsync.EntityType, item erpsync.DeltaItem[json.RawMessage]) error {
	if err := item.Validate(); err != nil {
		return err
	}
	var rv int64
	if item.RowVersion != nil {
		rv = *item.RowVersion
	}
	if item.IsTombstone() {
		if err := r.applier.Delete(ctx, entityType, item.ID, rv); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", entityType, item.ID, err)
		}
		return nil
	}
	if err := r.applier.Upsert(ctx, entityType, item.ID, rv, *item.Item); err != nil {
		return fmt.Errorf("failed to apply %s %s: %w", entityType, item.ID, err)
	}
	return nil
}
