package models

import (
	"encoding/json"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/google/uuid"
)

// RecordModel is the current state of one synchronized entity. Deleted
// rows stay as soft-deleted tombstones so their row version survives.
type RecordModel struct {
	TenantID   uuid.UUID          `gorm:"type:uuid;primaryKey"`
	EntityType erpsync.EntityType `gorm:"type:varchar(32);primaryKey"`
	ID         string             `gorm:"type:varchar(255);primaryKey"`
	RowVersion int64              `gorm:"not null;default:1"`
	SortKey    string             `gorm:"type:varchar(512);not null;default:''"`
	Payload    []byte             `gorm:"type:jsonb"`
	UpdatedAt  time.Time          `gorm:"not null"`
	DeletedAt  *time.Time         `gorm:"index"`
}

// TableName returns the table name for GORM
func (RecordModel) TableName() string {
	return "sync_records"
}

// ToDomain converts the model to a domain record
func (m *RecordModel) ToDomain() erpsync.Record {
	return erpsync.Record{
		TenantID:   m.TenantID,
		EntityType: m.EntityType,
		ID:         m.ID,
		RowVersion: m.RowVersion,
		SortKey:    m.SortKey,
		Payload:    json.RawMessage(m.Payload),
		UpdatedAt:  m.UpdatedAt,
		DeletedAt:  m.DeletedAt,
	}
}

// RecordModelFromDomain builds a model from a domain record
func RecordModelFromDomain(r *erpsync.Record) *RecordModel {
	return &RecordModel{
		TenantID:   r.TenantID,
		EntityType: r.EntityType,
		ID:         r.ID,
		RowVersion: r.RowVersion,
		SortKey:    r.SortKey,
		Payload:    []byte(r.Payload),
		UpdatedAt:  r.UpdatedAt,
		DeletedAt:  r.DeletedAt,
	}
}

// ChangeModel is one change-log entry. Seq is the delta watermark.
type ChangeModel struct {
	Seq        int64              `gorm:"primaryKey;autoIncrement"`
	TenantID   uuid.UUID          `gorm:"type:uuid;not null;index:idx_sync_changes_scope,priority:1"`
	EntityType erpsync.EntityType `gorm:"type:varchar(32);not null;index:idx_sync_changes_scope,priority:2"`
	EntityID   string             `gorm:"type:varchar(255);not null"`
	ChangeType erpsync.ChangeType `gorm:"type:varchar(16);not null"`
	RowVersion int64              `gorm:"not null"`
	Payload    []byte             `gorm:"type:jsonb"`
	ChangedAt  time.Time          `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ChangeModel) TableName() string {
	return "sync_changes"
}

// ToDomain converts the model to a domain change
func (m *ChangeModel) ToDomain() erpsync.Change {
	return erpsync.Change{
		Seq:        m.Seq,
		TenantID:   m.TenantID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		ChangeType: m.ChangeType,
		RowVersion: m.RowVersion,
		Payload:    json.RawMessage(m.Payload),
		ChangedAt:  m.ChangedAt,
	}
}
