package persistence

import (
	"context"
	"errors"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAPIKeyRepository implements credential.APIKeyRepository using GORM
type GormAPIKeyRepository struct {
	db *gorm.DB
}

// NewGormAPIKeyRepository creates a new GormAPIKeyRepository
func NewGormAPIKeyRepository(db *gorm.DB) *GormAPIKeyRepository {
	return &GormAPIKeyRepository{db: db}
}

// FindByID finds a key by ID within a tenant
func (r *GormAPIKeyRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*credential.TenantAPIKey, error) {
	return r.first(ctx, "tenant_id = ? AND id = ?", tenantID, id)
}

// FindByPrefix finds a key by its public prefix across tenants
func (r *GormAPIKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*credential.TenantAPIKey, error) {
	return r.first(ctx, "prefix = ?", prefix)
}

// FindAll lists a tenant's keys, revoked ones included
func (r *GormAPIKeyRepository) FindAll(ctx context.Context, tenantID uuid.UUID) ([]*credential.TenantAPIKey, error) {
	var rows []models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]*credential.TenantAPIKey, len(rows))
	for i := range rows {
		keys[i] = rows[i].ToDomain()
	}
	return keys, nil
}

// Save creates or updates a key
func (r *GormAPIKeyRepository) Save(ctx context.Context, key *credential.TenantAPIKey) error {
	return r.db.WithContext(ctx).Save(models.APIKeyModelFromDomain(key)).Error
}

func (r *GormAPIKeyRepository) first(ctx context.Context, cond string, args ...any) (*credential.TenantAPIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).Where(cond, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Ensure GormAPIKeyRepository implements APIKeyRepository
var _ credential.APIKeyRepository = (*GormAPIKeyRepository)(nil)
