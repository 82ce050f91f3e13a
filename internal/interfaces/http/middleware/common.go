// Package middleware provides the gin middleware of the catalog exchange API.
package middleware

import (
	"regexp"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by the middleware
const (
	CorrelationIDKey = "correlation_id"
	TenantIDKey      = "tenant_id"
	APIKeyKey        = "api_key"
)

// MaxCorrelationIDLength bounds client supplied correlation ids
const MaxCorrelationIDLength = 128

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// CorrelationID takes X-Correlation-Id from the request or generates one,
// stores it on the gin and request contexts and echoes it in the response.
// Batch writes use it for replay protection, so client ids are kept as sent
// when they are well formed.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(erpsync.HeaderCorrelationID)
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		c.Set(CorrelationIDKey, id)
		c.Request = c.Request.WithContext(logger.WithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(erpsync.HeaderCorrelationID, id)
		c.Next()
	}
}

func validCorrelationID(id string) bool {
	return id != "" && len(id) <= MaxCorrelationIDLength && correlationIDPattern.MatchString(id)
}

// GetCorrelationID returns the id set by CorrelationID
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}

// APIVersion announces the sync protocol version on every response
func APIVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set(erpsync.HeaderAPIVersion, erpsync.APIVersion)
		c.Next()
	}
}

// Secure adds the response headers every API answer carries
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
