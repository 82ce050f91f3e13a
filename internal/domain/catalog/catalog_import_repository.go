package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogImportFilter defines the filters for listing catalog imports
type CatalogImportFilter struct {
	Format      string
	Status      *ImportStatus
	SupplierID  string
	StartedFrom *time.Time
	StartedTo   *time.Time
	// SortBy and SortOrder are checked against a column whitelist by the
	// repository; unknown values fall back to created_at DESC
	SortBy    string
	SortOrder string
}

// CatalogImportListResult represents a page of catalog imports
type CatalogImportListResult struct {
	Items      []*CatalogImport
	TotalCount int64
	Page       int
	PageSize   int
}

// CatalogImportRepository persists catalog import records
type CatalogImportRepository interface {
	// FindByID finds an import by ID within a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*CatalogImport, error)

	// FindAll returns a tenant's imports, newest first
	FindAll(ctx context.Context, tenantID uuid.UUID, filter CatalogImportFilter, page, pageSize int) (*CatalogImportListResult, error)

	// FindUnfinished finds pending or processing imports (for recovery after restart)
	FindUnfinished(ctx context.Context, tenantID uuid.UUID) ([]*CatalogImport, error)

	// Save creates or updates an import
	Save(ctx context.Context, imp *CatalogImport) error
}
