package handler

import (
	"context"

	syncapp "github.com/erp/catalog-exchange/internal/application/erpsync"
	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIKeyManager creates, lists and revokes connector API keys
type APIKeyManager interface {
	CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name string, erpUser, erpPass []byte) (*syncapp.CreatedAPIKey, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*credential.TenantAPIKey, error)
	Revoke(ctx context.Context, tenantID, id uuid.UUID) error
}

// CredentialHandler manages the API keys of a tenant
type CredentialHandler struct {
	BaseHandler
	keys APIKeyManager
}

// NewCredentialHandler creates a CredentialHandler
func NewCredentialHandler(keys APIKeyManager, l *zap.Logger) *CredentialHandler {
	return &CredentialHandler{BaseHandler: newBaseHandler(l), keys: keys}
}

// Create issues a key. The plaintext key is in this response only.
//
//	POST /credentials/api-keys
func (h *CredentialHandler) Create(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	created, err := h.keys.CreateAPIKey(c.Request.Context(), tenantID, req.Name,
		[]byte(req.ErpUsername), []byte(req.ErpPassword))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.CreatedAPIKeyResponse{
		APIKeyResponse: dto.NewAPIKeyResponse(created.Key),
		Key:            created.Plaintext,
	})
}

// List returns the tenant's keys, revoked ones included
//
//	GET /credentials/api-keys
func (h *CredentialHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	keys, err := h.keys.List(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, dto.NewAPIKeyResponse(k))
	}
	h.Success(c, out)
}

// Revoke deactivates a key
//
//	DELETE /credentials/api-keys/:id
func (h *CredentialHandler) Revoke(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.keys.Revoke(c.Request.Context(), tenantID, id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
