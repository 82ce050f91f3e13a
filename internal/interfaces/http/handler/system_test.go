package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSystemRouter(checks map[string]ReadinessCheck) *gin.Engine {
	h := NewSystemHandler("catalog-exchange", "1.2.3", checks)
	r := newTestEngine(uuid.Nil)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/system/info", h.Info)
	return r
}

func TestSystemHandler_HealthAndInfo(t *testing.T) {
	r := newSystemRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/system/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info SystemInfoResponse
	decodeData(t, w, &info)
	assert.Equal(t, "catalog-exchange", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "1.0", info.APIVersion)
	assert.NotEmpty(t, info.GoVersion)
}

func TestSystemHandler_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("all checks pass", func(t *testing.T) {
		r := newSystemRouter(map[string]ReadinessCheck{"database": ok, "redis": ok})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var got ReadinessResponse
		decodeData(t, w, &got)
		assert.Equal(t, "ready", got.Status)
		assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, got.Checks)
	})

	t.Run("failing check answers 503", func(t *testing.T) {
		r := newSystemRouter(map[string]ReadinessCheck{
			"database": ok,
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "NOT_READY", resp.Error.Code)
		var got ReadinessResponse
		decodeData(t, w, &got)
		assert.Equal(t, "not_ready", got.Status)
		assert.Equal(t, "connection refused", got.Checks["redis"])
	})

	t.Run("checks see a deadline", func(t *testing.T) {
		r := newSystemRouter(map[string]ReadinessCheck{
			"database": func(ctx context.Context) error {
				if _, ok := ctx.Deadline(); !ok {
					return errors.New("no deadline")
				}
				return nil
			},
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
