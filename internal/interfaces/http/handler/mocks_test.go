package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withTenant stands in for the authentication middleware
func withTenant(tenantID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.TenantIDKey, tenantID)
		c.Next()
	}
}

func newTestEngine(tenantID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(middleware.CorrelationID())
	if tenantID != uuid.Nil {
		r.Use(withTenant(tenantID))
	}
	return r
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// decodeData unmarshals the data member of the envelope into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

type MockPageLister struct {
	mock.Mock
}

func (m *MockPageLister) ListPage(ctx context.Context, req erpsync.CursorPageRequest) (*erpsync.CursorPage[json.RawMessage], error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erpsync.CursorPage[json.RawMessage]), args.Error(1)
}

func (m *MockPageLister) Each(ctx context.Context, req erpsync.CursorPageRequest, fn func(erpsync.Record) error) error {
	args := m.Called(ctx, req, fn)
	return args.Error(0)
}

type MockChangeReader struct {
	mock.Mock
}

func (m *MockChangeReader) GetChanges(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erpsync.DeltaSyncResponse[json.RawMessage]), args.Error(1)
}

type MockBatchApplier struct {
	mock.Mock
}

func (m *MockBatchApplier) Write(ctx context.Context, req *erpsync.BatchWriteRequest[json.RawMessage], correlationID string) (*erpsync.BatchWriteResponse, error) {
	args := m.Called(ctx, req, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erpsync.BatchWriteResponse), args.Error(1)
}

type MockCatalogImporter struct {
	mock.Mock
}

func (m *MockCatalogImporter) Import(ctx context.Context, cmd catalogimportapp.ImportCommand) (*catalog.ImportResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.ImportResult), args.Error(1)
}

func (m *MockCatalogImporter) Stage(ctx context.Context, cmd catalogimportapp.ImportCommand) (*catalogimportapp.ImportSession, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalogimportapp.ImportSession), args.Error(1)
}

func (m *MockCatalogImporter) Commit(ctx context.Context, tenantID, sessionID uuid.UUID) (*catalog.ImportResult, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.ImportResult), args.Error(1)
}

func (m *MockCatalogImporter) Discard(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	return m.Called(ctx, tenantID, sessionID).Error(0)
}

func (m *MockCatalogImporter) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (*catalogimportapp.ImportSession, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalogimportapp.ImportSession), args.Error(1)
}

func (m *MockCatalogImporter) ListSessions(ctx context.Context, tenantID uuid.UUID, limit int) ([]*catalogimportapp.ImportSession, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalogimportapp.ImportSession), args.Error(1)
}

func (m *MockCatalogImporter) Get(ctx context.Context, tenantID, id uuid.UUID) (*catalog.CatalogImport, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogImport), args.Error(1)
}

func (m *MockCatalogImporter) List(ctx context.Context, tenantID uuid.UUID, filter catalog.CatalogImportFilter, page, pageSize int) (*catalog.CatalogImportListResult, error) {
	args := m.Called(ctx, tenantID, filter, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogImportListResult), args.Error(1)
}

func (m *MockCatalogImporter) Formats() []catalog.FormatInfo {
	return m.Called().Get(0).([]catalog.FormatInfo)
}

func (m *MockCatalogImporter) Detect(r io.Reader, filename string) (catalog.FormatInfo, error) {
	args := m.Called(r, filename)
	return args.Get(0).(catalog.FormatInfo), args.Error(1)
}

type MockAPIKeyManager struct {
	mock.Mock
}

func (m *MockAPIKeyManager) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name string, erpUser, erpPass []byte) (*syncapp.CreatedAPIKey, error) {
	args := m.Called(ctx, tenantID, name, string(erpUser), string(erpPass))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncapp.CreatedAPIKey), args.Error(1)
}

func (m *MockAPIKeyManager) List(ctx context.Context, tenantID uuid.UUID) ([]*credential.TenantAPIKey, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*credential.TenantAPIKey), args.Error(1)
}

func (m *MockAPIKeyManager) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	return m.Called(ctx, tenantID, id).Error(0)
}
