package middleware

import (
	"net/http"

	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit returns a middleware that limits request body size
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithCorrelationID(
				dto.ErrCodeRequestTooLarge,
				"Request body exceeds maximum allowed size",
				GetCorrelationID(c),
			))
			return
		}

		// Streaming uploads without Content-Length are cut off while reading
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
