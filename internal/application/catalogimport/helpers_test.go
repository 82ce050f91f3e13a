package catalogimportapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/format"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockCatalogImportRepository struct {
	mock.Mock
}

func (m *MockCatalogImportRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*catalog.CatalogImport, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogImport), args.Error(1)
}

func (m *MockCatalogImportRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter catalog.CatalogImportFilter, page, pageSize int) (*catalog.CatalogImportListResult, error) {
	args := m.Called(ctx, tenantID, filter, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogImportListResult), args.Error(1)
}

func (m *MockCatalogImportRepository) FindUnfinished(ctx context.Context, tenantID uuid.UUID) ([]*catalog.CatalogImport, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalog.CatalogImport), args.Error(1)
}

func (m *MockCatalogImportRepository) Save(ctx context.Context, imp *catalog.CatalogImport) error {
	args := m.Called(ctx, imp)
	return args.Error(0)
}

// savedImports records every import handed to Save
func savedImports(repo *MockCatalogImportRepository) *[]*catalog.CatalogImport {
	var saved []*catalog.CatalogImport
	repo.On("Save", mock.Anything, mock.AnythingOfType("*catalog.CatalogImport")).
		Run(func(args mock.Arguments) {
			saved = append(saved, args.Get(1).(*catalog.CatalogImport))
		}).
		Return(nil)
	return &saved
}

// recordingWriter captures batch writes and can fail chosen ids
type recordingWriter struct {
	mu       sync.Mutex
	requests []*erpsync.BatchWriteRequest[json.RawMessage]
	failIDs  map[string]bool
	err      error
}

func (w *recordingWriter) Write(_ context.Context, req *erpsync.BatchWriteRequest[json.RawMessage], _ string) (*erpsync.BatchWriteResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.requests = append(w.requests, req)
	resp := erpsync.NewBatchWriteResponse()
	for i, raw := range req.Items {
		var item struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &item)
		if w.failIDs[item.ID] {
			resp.Fail(erpsync.BatchItemError{Index: i, ID: item.ID, Code: erpsync.ItemStaleVersion, Message: "stale"})
			continue
		}
		resp.Record(erpsync.OutcomeInserted)
	}
	return resp, nil
}

func (w *recordingWriter) items() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []map[string]any
	for _, req := range w.requests {
		for _, raw := range req.Items {
			var m map[string]any
			_ = json.Unmarshal(raw, &m)
			out = append(out, m)
		}
	}
	return out
}

// memArchive is an in-memory CatalogArchive
type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemArchive() *memArchive {
	return &memArchive{objects: make(map[string][]byte)}
}

func (a *memArchive) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if a.putErr != nil {
		return a.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = data
	return nil
}

func (a *memArchive) Open(_ context.Context, key string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *memArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	return nil
}

func (a *memArchive) get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	return data, ok
}

func testRegistry() *format.Registry {
	return format.NewDefaultRegistry(format.Options{})
}

func csvCatalog(rows int) string {
	var b strings.Builder
	b.WriteString("sku;name;price;currency\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "A-%d;Artikel %d;%d.50;EUR\n", i, i, i)
	}
	return b.String()
}

func csvCommand(tenantID uuid.UUID, body string) ImportCommand {
	return ImportCommand{
		TenantID:   tenantID,
		SupplierID: "SUP-1",
		FileName:   "katalog.csv",
		Size:       int64(len(body)),
		Body:       strings.NewReader(body),
	}
}
