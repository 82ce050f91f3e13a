package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCredentialRouter(t *testing.T, tenantID uuid.UUID) (*gin.Engine, *MockAPIKeyManager) {
	t.Helper()
	keys := new(MockAPIKeyManager)
	h := NewCredentialHandler(keys, nil)

	r := newTestEngine(tenantID)
	r.POST("/credentials/api-keys", h.Create)
	r.GET("/credentials/api-keys", h.List)
	r.DELETE("/credentials/api-keys/:id", h.Revoke)
	t.Cleanup(func() { keys.AssertExpectations(t) })
	return r, keys
}

func newStoredKey(t *testing.T, tenantID uuid.UUID, withCredentials bool) *credential.TenantAPIKey {
	t.Helper()
	var user, pass []byte
	if withCredentials {
		user, pass = []byte("sealed-user"), []byte("sealed-pass")
	}
	k, err := credential.NewTenantAPIKey(tenantID, "warehouse connector", "ck_0a1b2c3d", []byte("hash"), user, pass)
	require.NoError(t, err)
	return k
}

func TestCredentialHandler_Create(t *testing.T) {
	tenantID := uuid.New()
	r, keys := newCredentialRouter(t, tenantID)

	stored := newStoredKey(t, tenantID, true)
	keys.On("CreateAPIKey", mock.Anything, tenantID, "warehouse connector", "erp", "s3cret").
		Return(&syncapp.CreatedAPIKey{Key: stored, Plaintext: "ck_0a1b2c3d_secret"}, nil)

	body := `{"name":"warehouse connector","erp_username":"erp","erp_password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/credentials/api-keys", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got map[string]any
	decodeData(t, w, &got)
	assert.Equal(t, "ck_0a1b2c3d_secret", got["key"])
	assert.Equal(t, "ck_0a1b2c3d", got["prefix"])
	assert.Equal(t, true, got["has_erp_credentials"])
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestCredentialHandler_CreateValidation(t *testing.T) {
	r, _ := newCredentialRouter(t, uuid.New())

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"erp_username":"erp","erp_password":"x"}`},
		{"username without password", `{"name":"k","erp_username":"erp"}`},
		{"malformed", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/credentials/api-keys", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCredentialHandler_ListAndRevoke(t *testing.T) {
	tenantID := uuid.New()
	r, keys := newCredentialRouter(t, tenantID)

	active := newStoredKey(t, tenantID, false)
	revoked := newStoredKey(t, tenantID, true)
	require.NoError(t, revoked.Revoke())
	keys.On("List", mock.Anything, tenantID).Return([]*credential.TenantAPIKey{active, revoked}, nil)
	keys.On("Revoke", mock.Anything, tenantID, active.ID).Return(nil)
	keys.On("Revoke", mock.Anything, tenantID, revoked.ID).Return(credential.ErrAPIKeyRevoked)
	missing := uuid.New()
	keys.On("Revoke", mock.Anything, tenantID, missing).Return(shared.ErrNotFound)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credentials/api-keys", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	decodeData(t, w, &list)
	require.Len(t, list, 2)
	assert.Equal(t, true, list[0]["is_active"])
	assert.Equal(t, false, list[1]["is_active"])
	assert.NotNil(t, list[1]["revoked_at"])

	for _, tc := range []struct {
		id     string
		status int
	}{
		{active.ID.String(), http.StatusNoContent},
		{revoked.ID.String(), http.StatusUnauthorized},
		{missing.String(), http.StatusNotFound},
		{"nope", http.StatusBadRequest},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/credentials/api-keys/"+tc.id, nil))
		assert.Equal(t, tc.status, w.Code, tc.id)
	}
}

func TestCredentialHandler_RequiresTenant(t *testing.T) {
	r, _ := newCredentialRouter(t, uuid.Nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credentials/api-keys", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
