package dto

import (
	"time"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/google/uuid"
)

// CreateAPIKeyRequest creates a connector API key. ERP credentials are
// optional; when given they are encrypted and bound to the key.
type CreateAPIKeyRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	ErpUsername string `json:"erp_username" binding:"required_with=ErpPassword,max=255"`
	ErpPassword string `json:"erp_password" binding:"required_with=ErpUsername,max=255"`
}

// APIKeyResponse describes a stored key. The secret is never included.
type APIKeyResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Prefix         string     `json:"prefix"`
	IsActive       bool       `json:"is_active"`
	HasCredentials bool       `json:"has_erp_credentials"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreatedAPIKeyResponse carries the plaintext key, shown exactly once
type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// NewAPIKeyResponse converts a stored key
func NewAPIKeyResponse(k *credential.TenantAPIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:             k.ID,
		Name:           k.Name,
		Prefix:         k.Prefix,
		IsActive:       k.IsActive,
		HasCredentials: k.HasErpCredentials(),
		LastUsedAt:     k.LastUsedAt,
		RevokedAt:      k.RevokedAt,
		CreatedAt:      k.CreatedAt,
	}
}
