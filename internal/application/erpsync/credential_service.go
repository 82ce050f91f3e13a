package syncapp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIKeyPrefix starts every generated key
const APIKeyPrefix = "ck_"

// CreatedAPIKey is returned once at creation. Plaintext is never stored.
type CreatedAPIKey struct {
	Key       *credential.TenantAPIKey
	Plaintext string
}

// CredentialService manages tenant API keys and the ERP credentials
// attached to them
type CredentialService struct {
	repo   credential.APIKeyRepository
	guard  credential.Guard
	logger *zap.Logger
}

// NewCredentialService creates a CredentialService
func NewCredentialService(repo credential.APIKeyRepository, guard credential.Guard, logger *zap.Logger) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialService{repo: repo, guard: guard, logger: logger}
}

// CreateAPIKey generates a key of the form ck_<prefix>_<secret> and stores
// its hash together with the encrypted ERP credentials. erpUser and erpPass
// are wiped before returning.
func (s *CredentialService) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name string, erpUser, erpPass []byte) (*CreatedAPIKey, error) {
	defer wipe(erpUser)
	defer wipe(erpPass)

	if (len(erpUser) == 0) != (len(erpPass) == 0) {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "ERP username and password must be given together")
	}

	prefix, secret, err := generateKey()
	if err != nil {
		return nil, err
	}
	plaintext := APIKeyPrefix + prefix + "_" + secret
	hash := sha256.Sum256([]byte(plaintext))

	var encUser, encPass []byte
	if len(erpUser) > 0 {
		if encUser, err = s.guard.Encrypt(erpUser); err != nil {
			return nil, fmt.Errorf("failed to protect ERP username: %w", err)
		}
		if encPass, err = s.guard.Encrypt(erpPass); err != nil {
			return nil, fmt.Errorf("failed to protect ERP password: %w", err)
		}
	}

	key, err := credential.NewTenantAPIKey(tenantID, strings.TrimSpace(name), prefix, hash[:], encUser, encPass)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to save API key: %w", err)
	}

	s.logger.Info("API key created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("key_id", key.ID.String()),
		zap.String("prefix", prefix),
		zap.Bool("erp_credentials", key.HasErpCredentials()),
	)
	return &CreatedAPIKey{Key: key, Plaintext: plaintext}, nil
}

// List returns a tenant's keys, revoked ones included
func (s *CredentialService) List(ctx context.Context, tenantID uuid.UUID) ([]*credential.TenantAPIKey, error) {
	return s.repo.FindAll(ctx, tenantID)
}

// Revoke deactivates a key and keeps the row for auditing
func (s *CredentialService) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	key, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := key.Revoke(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, key); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	s.logger.Info("API key revoked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("key_id", id.String()),
	)
	return nil
}

// WithErpCredentials decrypts the key's ERP credentials for the duration of
// fn and wipes them afterwards. Nothing is cached between calls.
func (s *CredentialService) WithErpCredentials(ctx context.Context, tenantID, id uuid.UUID, fn func(credential.ErpCredentials) error) error {
	key, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !key.IsActive {
		return credential.ErrAPIKeyRevoked
	}
	if !key.HasErpCredentials() {
		return credential.ErrCredentialUnavailable
	}

	user, err := s.guard.Decrypt(key.EncryptedUsername)
	if err != nil {
		return credential.ErrCredentialUnavailable
	}
	pass, err := s.guard.Decrypt(key.EncryptedPassword)
	if err != nil {
		wipe(user)
		return credential.ErrCredentialUnavailable
	}

	creds := credential.NewErpCredentials(user, pass)
	defer creds.Wipe()
	return fn(creds)
}

// Authenticate resolves an active key from its plaintext form
func (s *CredentialService) Authenticate(ctx context.Context, rawKey string) (*credential.TenantAPIKey, error) {
	prefix, ok := parseKeyPrefix(rawKey)
	if !ok {
		return nil, credential.ErrInvalidAPIKey
	}
	key, err := s.repo.FindByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, credential.ErrInvalidAPIKey
		}
		return nil, err
	}

	hash := sha256.Sum256([]byte(rawKey))
	if subtle.ConstantTimeCompare(hash[:], key.KeyHash) != 1 {
		return nil, credential.ErrInvalidAPIKey
	}
	if !key.IsActive {
		return nil, credential.ErrAPIKeyRevoked
	}

	key.MarkUsed()
	if err := s.repo.Save(ctx, key); err != nil {
		// a failed usage stamp must not lock the connector out
		s.logger.Warn("Failed to record API key use", zap.String("key_id", key.ID.String()), zap.Error(err))
	}
	return key, nil
}

func generateKey() (prefix, secret string, err error) {
	p := make([]byte, 4)
	sec := make([]byte, 32)
	if _, err := rand.Read(p); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	if _, err := rand.Read(sec); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return hex.EncodeToString(p), base64.RawURLEncoding.EncodeToString(sec), nil
}

// parseKeyPrefix extracts <prefix> from ck_<prefix>_<secret>
func parseKeyPrefix(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(raw, APIKeyPrefix)
	if !ok {
		return "", false
	}
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || len(prefix) != 8 || secret == "" {
		return "", false
	}
	return prefix, true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
