package persistence

import (
	"context"
	"errors"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCatalogImportRepository implements catalog.CatalogImportRepository using GORM
type GormCatalogImportRepository struct {
	db *gorm.DB
}

// NewGormCatalogImportRepository creates a new GormCatalogImportRepository
func NewGormCatalogImportRepository(db *gorm.DB) *GormCatalogImportRepository {
	return &GormCatalogImportRepository{db: db}
}

// FindByID finds an import run by ID within a tenant
func (r *GormCatalogImportRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*catalog.CatalogImport, error) {
	var model models.CatalogImportModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll returns a tenant's import runs, newest first unless the filter
// names another order
func (r *GormCatalogImportRepository) FindAll(
	ctx context.Context,
	tenantID uuid.UUID,
	filter catalog.CatalogImportFilter,
	page, pageSize int,
) (*catalog.CatalogImportListResult, error) {
	query := r.db.WithContext(ctx).Model(&models.CatalogImportModel{}).
		Where("tenant_id = ?", tenantID)
	query = r.applyFilters(query, filter)

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, err
	}

	if page > 0 && pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var rows []models.CatalogImportModel
	if err := query.Order(orderClause(filter.SortBy, filter.SortOrder, CatalogImportSortFields, "created_at")).Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]*catalog.CatalogImport, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}
	return &catalog.CatalogImportListResult{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FindUnfinished returns pending and processing runs, used to fail runs
// orphaned by a restart
func (r *GormCatalogImportRepository) FindUnfinished(ctx context.Context, tenantID uuid.UUID) ([]*catalog.CatalogImport, error) {
	var rows []models.CatalogImportModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID,
			[]catalog.ImportStatus{catalog.ImportStatusPending, catalog.ImportStatusProcessing}).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]*catalog.CatalogImport, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}
	return items, nil
}

// Save creates or updates an import run
func (r *GormCatalogImportRepository) Save(ctx context.Context, imp *catalog.CatalogImport) error {
	return r.db.WithContext(ctx).Save(models.CatalogImportModelFromDomain(imp)).Error
}

func (r *GormCatalogImportRepository) applyFilters(query *gorm.DB, filter catalog.CatalogImportFilter) *gorm.DB {
	if filter.Format != "" {
		query = query.Where("format = ?", filter.Format)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.SupplierID != "" {
		query = query.Where("supplier_id = ?", filter.SupplierID)
	}
	if filter.StartedFrom != nil {
		query = query.Where("started_at >= ?", *filter.StartedFrom)
	}
	if filter.StartedTo != nil {
		query = query.Where("started_at <= ?", *filter.StartedTo)
	}
	return query
}

// Ensure GormCatalogImportRepository implements CatalogImportRepository
var _ catalog.CatalogImportRepository = (*GormCatalogImportRepository)(nil)
