package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIKeyAuthenticator resolves a raw API key to its active stored key
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*credential.TenantAPIKey, error)
}

// APIKeyAuth authenticates connector requests. The key is read from
// X-Api-Key or from an "Authorization: Bearer" header. The tenant comes from
// the key; an X-Tenant-Id header naming another tenant is refused.
func APIKeyAuth(auth APIKeyAuthenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		raw := c.GetHeader(erpsync.HeaderAPIKey)
		if raw == "" {
			raw = bearerToken(c)
		}
		if raw == "" {
			respondError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "API key is required")
			return
		}

		key, err := auth.Authenticate(c.Request.Context(), raw)
		if err != nil {
			logger.Enrich(c.Request.Context(), log).Warn("API key rejected",
				zap.String("client_ip", c.ClientIP()), zap.Error(err))
			respondError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid API key")
			return
		}

		if header := c.GetHeader(erpsync.HeaderTenantID); header != "" {
			claimed, err := uuid.Parse(header)
			if err != nil || claimed != key.TenantID {
				respondError(c, http.StatusForbidden, dto.ErrCodeForbidden, "API key does not belong to this tenant")
				return
			}
		}

		c.Set(APIKeyKey, key)
		setTenant(c, key.TenantID)
		c.Next()
	}
}

// AdminAuth guards key management with a static bearer token. The tenant
// to act on is named by X-Tenant-Id. An empty token disables the routes.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			respondError(c, http.StatusForbidden, dto.ErrCodeForbidden, "Key management is disabled")
			return
		}
		got := bearerToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			respondError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid admin token")
			return
		}
		tenantID, err := uuid.Parse(c.GetHeader(erpsync.HeaderTenantID))
		if err != nil || tenantID == uuid.Nil {
			respondError(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "X-Tenant-Id header must be a tenant UUID")
			return
		}
		setTenant(c, tenantID)
		c.Next()
	}
}

// GetTenantID returns the tenant resolved by APIKeyAuth or AdminAuth
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// GetAPIKey returns the key that authenticated the request
func GetAPIKey(c *gin.Context) (*credential.TenantAPIKey, bool) {
	v, ok := c.Get(APIKeyKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*credential.TenantAPIKey)
	return key, ok
}

func setTenant(c *gin.Context, tenantID uuid.UUID) {
	c.Set(TenantIDKey, tenantID)
	c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenantID.String()))
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithCorrelationID(code, message, GetCorrelationID(c)))
}
