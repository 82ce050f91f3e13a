package syncapp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "0123456789abcdef-test-secret"

func newTestCodec(t *testing.T) *CursorCodec {
	t.Helper()
	codec, err := NewCursorCodec(testSecret)
	require.NoError(t, err)
	return codec
}

// newTestRecordStore opens an in-memory server store
func newTestRecordStore(t *testing.T) *persistence.GormRecordStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.RecordModel{}, &models.ChangeModel{}))
	return persistence.NewGormRecordStore(db)
}

// newTestLocalStore opens an in-memory connector mirror
func newTestLocalStore(t *testing.T) *persistence.GormLocalStore {
	t.Helper()
	db, err := persistence.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewGormLocalStore(db.DB)
}

func articleJSON(id, name string, rowVersion int64) json.RawMessage {
	if rowVersion > 0 {
		return json.RawMessage(fmt.Sprintf(`{"id":%q,"rowVersion":%d,"name":%q,"listPrice":"9.95","currency":"EUR"}`, id, rowVersion, name))
	}
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"name":%q,"listPrice":"9.95","currency":"EUR"}`, id, name))
}

func seedArticle(t *testing.T, store erpsync.RecordStore, tenantID uuid.UUID, id, name string, rowVersion int64) {
	t.Helper()
	change := erpsync.ChangeCreated
	if rowVersion > 1 {
		change = erpsync.ChangeUpdated
	}
	_, err := store.Put(context.Background(), &erpsync.Record{
		TenantID:   tenantID,
		EntityType: erpsync.EntityArticles,
		ID:         id,
		RowVersion: rowVersion,
		SortKey:    name,
		Payload:    articleJSON(id, name, rowVersion),
	}, change)
	require.NoError(t, err)
}

func itemIDs(t *testing.T, items []json.RawMessage) []string {
	t.Helper()
	ids := make([]string, len(items))
	for i, raw := range items {
		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &v))
		ids[i] = v.ID
	}
	return ids
}

func ptr[T any](v T) *T { return &v }
