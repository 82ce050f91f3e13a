package credential

import (
	"context"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// TenantAPIKey is a tenant-scoped API key. The ERP username and password
// are stored only as guard ciphertext; the key itself only as a hash.
type TenantAPIKey struct {
	shared.TenantAggregateRoot
	Name              string     `json:"name"`
	Prefix            string     `json:"prefix"`
	KeyHash           []byte     `json:"-"`
	EncryptedUsername []byte     `json:"-"`
	EncryptedPassword []byte     `json:"-"`
	IsActive          bool       `json:"is_active"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}

// NewTenantAPIKey creates an active key
func NewTenantAPIKey(tenantID uuid.UUID, name, prefix string, keyHash, encUser, encPass []byte) (*TenantAPIKey, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "API key name cannot be empty")
	}
	if prefix == "" || len(keyHash) == 0 {
		return nil, shared.NewDomainError("INVALID_KEY", "API key material is missing")
	}
	return &TenantAPIKey{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		Prefix:              prefix,
		KeyHash:             keyHash,
		EncryptedUsername:   encUser,
		EncryptedPassword:   encPass,
		IsActive:            true,
	}, nil
}

// HasErpCredentials reports whether ERP credentials are attached
func (k *TenantAPIKey) HasErpCredentials() bool {
	return len(k.EncryptedUsername) > 0 && len(k.EncryptedPassword) > 0
}

// Revoke deactivates the key. The record is kept for the audit trail.
func (k *TenantAPIKey) Revoke() error {
	if !k.IsActive {
		return ErrAPIKeyRevoked
	}
	now := time.Now()
	k.IsActive = false
	k.RevokedAt = &now
	k.TenantAggregateRoot.Touch(now)
	return nil
}

// MarkUsed records a use of the key. It is not a revision, so Version stays.
func (k *TenantAPIKey) MarkUsed() {
	now := time.Now()
	k.LastUsedAt = &now
}

// APIKeyRepository persists API keys
type APIKeyRepository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*TenantAPIKey, error)
	FindByPrefix(ctx context.Context, prefix string) (*TenantAPIKey, error)
	FindAll(ctx context.Context, tenantID uuid.UUID) ([]*TenantAPIKey, error)
	Save(ctx context.Context, key *TenantAPIKey) error
}
