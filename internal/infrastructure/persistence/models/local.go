package models

import (
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
)

// LocalRecordModel is the connector-side mirror of one entity. A deleted
// entity keeps its row with Deleted set so a late older upsert cannot
// resurrect it.
type LocalRecordModel struct {
	EntityType erpsync.EntityType `gorm:"type:varchar(32);primaryKey"`
	ID         string             `gorm:"type:varchar(255);primaryKey"`
	RowVersion int64              `gorm:"not null;default:0"`
	Payload    []byte
	Deleted    bool      `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LocalRecordModel) TableName() string {
	return "local_records"
}

// SyncStateModel is the persisted resume point per tenant and entity type
type SyncStateModel struct {
	TenantID          string             `gorm:"type:varchar(36);primaryKey"`
	EntityType        erpsync.EntityType `gorm:"type:varchar(32);primaryKey"`
	Watermark         int64              `gorm:"not null;default:0"`
	SinceUTC          *time.Time
	ContinuationToken string `gorm:"type:text"`
	LastSuccessAt     *time.Time
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_states"
}

// ToDomain converts the model to the domain sync state
func (m *SyncStateModel) ToDomain() erpsync.DeltaSyncState {
	return erpsync.DeltaSyncState{
		Watermark:         m.Watermark,
		SinceUTC:          m.SinceUTC,
		ContinuationToken: m.ContinuationToken,
	}
}
