package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GormRecordStore implements erpsync.RecordStore and erpsync.ChangeLog.
// Every record write appends its change in the same transaction.
//
// On PostgreSQL a transaction-scoped advisory lock per tenant and entity
// type makes change sequences commit in the order they were assigned, so
// a reader never sees seq N+1 before seq N.
type GormRecordStore struct {
	db           *gorm.DB
	serializeSeq bool
}

// NewGormRecordStore creates a new GormRecordStore
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db, serializeSeq: db.Dialector.Name() == "postgres"}
}

// Get returns a record by id, including soft-deleted ones
func (s *GormRecordStore) Get(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType, id string) (*erpsync.Record, error) {
	var model models.RecordModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND id = ?", tenantID, entityType, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rec := model.ToDomain()
	return &rec, nil
}

// ListPage returns up to q.Limit live records after q.After, ordered by the
// sort column with the id as tie-breaker
func (s *GormRecordStore) ListPage(ctx context.Context, q erpsync.PageQuery) ([]erpsync.Record, error) {
	col, err := sortColumn(q.Sort.Field)
	if err != nil {
		return nil, err
	}
	op, dir := ">", "ASC"
	if q.Sort.Descending {
		op, dir = "<", "DESC"
	}

	query := s.scoped(ctx, q)
	if q.After != nil {
		if col == "id" {
			query = query.Where("id "+op+" ?", q.After.ID)
		} else {
			v, err := sortArg(q.Sort.Field, q.After.SortValue)
			if err != nil {
				return nil, err
			}
			query = query.Where(
				fmt.Sprintf("((%[1]s %[2]s ?) OR (%[1]s = ? AND id %[2]s ?))", col, op),
				v, v, q.After.ID,
			)
		}
	}
	query = query.Order(col + " " + dir)
	if col != "id" {
		query = query.Order("id " + dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []models.RecordModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]erpsync.Record, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// Count returns the number of live records matching the query filters
func (s *GormRecordStore) Count(ctx context.Context, q erpsync.PageQuery) (int64, error) {
	var n int64
	if err := s.scoped(ctx, q).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Put inserts or replaces a record and appends the change
func (s *GormRecordStore) Put(ctx context.Context, rec *erpsync.Record, change erpsync.ChangeType) (*erpsync.Change, error) {
	if !change.IsValid() || change == erpsync.ChangeDeleted {
		return nil, fmt.Errorf("%w: put with change type %q", shared.ErrInvalidInput, change)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.DeletedAt = nil

	var out erpsync.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockScope(tx, rec.TenantID, rec.EntityType); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(models.RecordModelFromDomain(rec)).Error; err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
		ch := &models.ChangeModel{
			TenantID:   rec.TenantID,
			EntityType: rec.EntityType,
			EntityID:   rec.ID,
			ChangeType: change,
			RowVersion: rec.RowVersion,
			Payload:    []byte(rec.Payload),
			ChangedAt:  rec.UpdatedAt,
		}
		if err := tx.Create(ch).Error; err != nil {
			return fmt.Errorf("failed to append change for %s: %w", rec.ID, err)
		}
		out = ch.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete soft-deletes a record and appends a tombstone. Deleting an unknown
// or already deleted record is ErrNotFound.
func (s *GormRecordStore) Delete(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType, id string, rowVersion int64) (*erpsync.Change, error) {
	now := time.Now().UTC()
	var out erpsync.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockScope(tx, tenantID, entityType); err != nil {
			return err
		}
		res := tx.Model(&models.RecordModel{}).
			Where("tenant_id = ? AND entity_type = ? AND id = ? AND deleted_at IS NULL", tenantID, entityType, id).
			Updates(map[string]any{
				"deleted_at":  now,
				"updated_at":  now,
				"row_version": rowVersion,
				"payload":     nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		ch := &models.ChangeModel{
			TenantID:   tenantID,
			EntityType: entityType,
			EntityID:   id,
			ChangeType: erpsync.ChangeDeleted,
			RowVersion: rowVersion,
			ChangedAt:  now,
		}
		if err := tx.Create(ch).Error; err != nil {
			return fmt.Errorf("failed to append tombstone for %s: %w", id, err)
		}
		out = ch.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSince returns changes with afterSeq < seq <= uptoSeq in ascending order
func (s *GormRecordStore) ListSince(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType, afterSeq, uptoSeq int64, limit int, includeDeleted bool) ([]erpsync.Change, error) {
	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND seq > ? AND seq <= ?", tenantID, entityType, afterSeq, uptoSeq)
	if !includeDeleted {
		query = query.Where("change_type <> ?", erpsync.ChangeDeleted)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.ChangeModel
	if err := query.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	changes := make([]erpsync.Change, len(rows))
	for i := range rows {
		changes[i] = rows[i].ToDomain()
	}
	return changes, nil
}

// MaxSeq returns the highest sequence for the tenant and entity type, or 0
func (s *GormRecordStore) MaxSeq(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).Model(&models.ChangeModel{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("tenant_id = ? AND entity_type = ?", tenantID, entityType).
		Scan(&seq).Error
	return seq, err
}

// SeqBefore returns the highest sequence changed strictly before t, or 0
func (s *GormRecordStore) SeqBefore(ctx context.Context, tenantID uuid.UUID, entityType erpsync.EntityType, t time.Time) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).Model(&models.ChangeModel{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("tenant_id = ? AND entity_type = ? AND changed_at < ?", tenantID, entityType, t.UTC()).
		Scan(&seq).Error
	return seq, err
}

func (s *GormRecordStore) scoped(ctx context.Context, q erpsync.PageQuery) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.RecordModel{}).
		Where("tenant_id = ? AND entity_type = ? AND deleted_at IS NULL", q.TenantID, q.EntityType)
	if q.UpdatedAfter != nil {
		query = query.Where("updated_at > ?", q.UpdatedAfter.UTC())
	}
	if q.IDPrefix != "" {
		query = query.Where(`id LIKE ? ESCAPE '\'`, likeEscaper.Replace(q.IDPrefix)+"%")
	}
	return query
}

func (s *GormRecordStore) lockScope(tx *gorm.DB, tenantID uuid.UUID, entityType erpsync.EntityType) error {
	if !s.serializeSeq {
		return nil
	}
	key := tenantID.String() + "/" + string(entityType)
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("failed to lock change log %s: %w", key, err)
	}
	return nil
}

func sortColumn(field string) (string, error) {
	switch field {
	case "", erpsync.SortByID:
		return "id", nil
	case erpsync.SortByUpdatedAt:
		return "updated_at", nil
	case erpsync.SortBySortKey:
		return "sort_key", nil
	}
	return "", erpsync.InvalidRequest("cannot sort by " + field)
}

func sortArg(field, value string) (any, error) {
	if field != erpsync.SortByUpdatedAt {
		return value, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, erpsync.ErrInvalidCursor
	}
	return t.UTC(), nil
}

// Ensure GormRecordStore implements the sync store ports
var (
	_ erpsync.RecordStore = (*GormRecordStore)(nil)
	_ erpsync.ChangeLog   = (*GormRecordStore)(nil)
)
