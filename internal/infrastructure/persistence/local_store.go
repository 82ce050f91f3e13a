package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLocalStore is the connector-side mirror. It applies delta items and
// persists the resume point per entity type.
type GormLocalStore struct {
	db *gorm.DB
}

// NewGormLocalStore creates a new GormLocalStore
func NewGormLocalStore(db *gorm.DB) *GormLocalStore {
	return &GormLocalStore{db: db}
}

var recordKey = []clause.Column{{Name: "entity_type"}, {Name: "id"}}

// Upsert writes the payload unless the stored row version is newer.
// Re-applying the same version is a no-op in effect.
func (s *GormLocalStore) Upsert(ctx context.Context, entityType erpsync.EntityType, id string, rowVersion int64, payload json.RawMessage) error {
	row := models.LocalRecordModel{
		EntityType: entityType,
		ID:         id,
		RowVersion: rowVersion,
		Payload:    []byte(payload),
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   recordKey,
		DoUpdates: clause.AssignmentColumns([]string{"row_version", "payload", "deleted", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "local_records.row_version <= excluded.row_version"},
		}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", entityType, id, err)
	}
	return nil
}

// Delete marks id deleted. An id never seen before is recorded as a
// tombstone. A tombstone without a row version always wins.
func (s *GormLocalStore) Delete(ctx context.Context, entityType erpsync.EntityType, id string, rowVersion int64) error {
	row := models.LocalRecordModel{
		EntityType: entityType,
		ID:         id,
		RowVersion: rowVersion,
		Deleted:    true,
		UpdatedAt:  time.Now().UTC(),
	}
	onConflict := clause.OnConflict{
		Columns:   recordKey,
		DoUpdates: clause.AssignmentColumns([]string{"row_version", "payload", "deleted", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "local_records.row_version <= excluded.row_version"},
		}},
	}
	if rowVersion <= 0 {
		onConflict = clause.OnConflict{
			Columns:   recordKey,
			DoUpdates: clause.AssignmentColumns([]string{"payload", "deleted", "updated_at"}),
		}
	}
	if err := s.db.WithContext(ctx).Clauses(onConflict).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", entityType, id, err)
	}
	return nil
}

// Find returns the mirrored row for id, tombstones included
func (s *GormLocalStore) Find(ctx context.Context, entityType erpsync.EntityType, id string) (*models.LocalRecordModel, error) {
	var row models.LocalRecordModel
	if err := s.db.WithContext(ctx).
		Where("entity_type = ? AND id = ?", entityType, id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// CountLive returns the number of non-deleted rows of an entity type
func (s *GormLocalStore) CountLive(ctx context.Context, entityType erpsync.EntityType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LocalRecordModel{}).
		Where("entity_type = ? AND deleted = ?", entityType, false).
		Count(&n).Error
	return n, err
}

// LoadState returns the stored resume point, or the zero state
func (s *GormLocalStore) LoadState(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType) (erpsync.DeltaSyncState, error) {
	var row models.SyncStateModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ?", tenantID.String(), entityType).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return erpsync.DeltaSyncState{}, nil
	}
	if err != nil {
		return erpsync.DeltaSyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	return row.ToDomain(), nil
}

// SaveState upserts the resume point. LastSuccessAt moves only when a
// cycle closes.
func (s *GormLocalStore) SaveState(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType, state erpsync.DeltaSyncState) error {
	now := time.Now().UTC()
	row := models.SyncStateModel{
		TenantID:          tenantID.String(),
		EntityType:        entityType,
		Watermark:         state.Watermark,
		SinceUTC:          state.SinceUTC,
		ContinuationToken: state.ContinuationToken,
		UpdatedAt:         now,
	}
	columns := []string{"watermark", "since_utc", "continuation_token", "updated_at"}
	if !state.InCycle() {
		row.LastSuccessAt = &now
		columns = append(columns, "last_success_at")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// Ensure GormLocalStore implements the connector ports
var (
	_ erpsync.LocalApplier   = (*GormLocalStore)(nil)
	_ erpsync.WatermarkStore = (*GormLocalStore)(nil)
)
