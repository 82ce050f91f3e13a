package models

import (
	"time"

	"github.com/erp/catalog-exchange/internal/domain/credential"
)

// APIKeyModel stores a tenant API key. Only the key hash and the
// machine-bound ciphertext of the ERP credentials are persisted.
type APIKeyModel struct {
	TenantAggregateModel
	Name              string `gorm:"type:varchar(100);not null"`
	Prefix            string `gorm:"type:varchar(32);not null;uniqueIndex"`
	KeyHash           []byte `gorm:"type:bytea;not null"`
	EncryptedUsername []byte `gorm:"type:bytea"`
	EncryptedPassword []byte `gorm:"type:bytea"`
	IsActive          bool   `gorm:"not null;index"`
	LastUsedAt        *time.Time
	RevokedAt         *time.Time
}

// TableName returns the table name for GORM
func (APIKeyModel) TableName() string {
	return "tenant_api_keys"
}

// ToDomain converts the model to the domain aggregate
func (m *APIKeyModel) ToDomain() *credential.TenantAPIKey {
	return &credential.TenantAPIKey{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		Name:                m.Name,
		Prefix:              m.Prefix,
		KeyHash:             m.KeyHash,
		EncryptedUsername:   m.EncryptedUsername,
		EncryptedPassword:   m.EncryptedPassword,
		IsActive:            m.IsActive,
		LastUsedAt:          m.LastUsedAt,
		RevokedAt:           m.RevokedAt,
	}
}

// APIKeyModelFromDomain builds a model from the domain aggregate
func APIKeyModelFromDomain(k *credential.TenantAPIKey) *APIKeyModel {
	m := &APIKeyModel{
		Name:              k.Name,
		Prefix:            k.Prefix,
		KeyHash:           k.KeyHash,
		EncryptedUsername: k.EncryptedUsername,
		EncryptedPassword: k.EncryptedPassword,
		IsActive:          k.IsActive,
		LastUsedAt:        k.LastUsedAt,
		RevokedAt:         k.RevokedAt,
	}
	m.FromDomainTenantAggregateRoot(k.TenantAggregateRoot)
	return m
}
