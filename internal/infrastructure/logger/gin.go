package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Headers read by the middleware
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderTenantID      = "X-Tenant-Id"
	HeaderCorrelationID = "X-Correlation-Id"
)

// GinMiddleware attaches a request-scoped logger to the request context and
// logs every request at a level chosen by its status code
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		requestID := c.GetString("request_id")
		if requestID == "" {
			requestID = c.GetHeader(HeaderRequestID)
		}
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}
		if tenantID := c.GetHeader(HeaderTenantID); tenantID != "" {
			ctx = WithTenantID(ctx, tenantID)
		}
		if correlationID := c.GetHeader(HeaderCorrelationID); correlationID != "" {
			ctx = WithCorrelationID(ctx, correlationID)
		}
		ctx = WithContext(ctx, logger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		reqLogger := Enrich(ctx, logger)
		switch {
		case status >= http.StatusInternalServerError:
			reqLogger.Error("HTTP Request", fields...)
		case status >= http.StatusBadRequest:
			reqLogger.Warn("HTTP Request", fields...)
		default:
			reqLogger.Info("HTTP Request", fields...)
		}
	}
}

// Recovery recovers from panics, logs them and answers 500
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Enrich(c.Request.Context(), logger).Error("Panic recovered",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
