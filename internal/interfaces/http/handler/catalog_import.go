package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/erp/catalog-exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSessionListLimit = 50

// CatalogImporter runs, stages and lists catalog imports
type CatalogImporter interface {
	Import(ctx context.Context, cmd catalogimportapp.ImportCommand) (*catalog.ImportResult, error)
	Stage(ctx context.Context, cmd catalogimportapp.ImportCommand) (*catalogimportapp.ImportSession, error)
	Commit(ctx context.Context, tenantID, sessionID uuid.UUID) (*catalog.ImportResult, error)
	Discard(ctx context.Context, tenantID, sessionID uuid.UUID) error
	GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (*catalogimportapp.ImportSession, error)
	ListSessions(ctx context.Context, tenantID uuid.UUID, limit int) ([]*catalogimportapp.ImportSession, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*catalog.CatalogImport, error)
	List(ctx context.Context, tenantID uuid.UUID, filter catalog.CatalogImportFilter, page, pageSize int) (*catalog.CatalogImportListResult, error)
	Formats() []catalog.FormatInfo
	Detect(r io.Reader, filename string) (catalog.FormatInfo, error)
}

// CatalogImportHandler serves supplier catalog uploads and the import
// history
type CatalogImportHandler struct {
	BaseHandler
	importer CatalogImporter
}

// NewCatalogImportHandler creates a CatalogImportHandler
func NewCatalogImportHandler(importer CatalogImporter, l *zap.Logger) *CatalogImportHandler {
	return &CatalogImportHandler{BaseHandler: newBaseHandler(l), importer: importer}
}

// Import parses an uploaded catalog. Without persist the articles are
// returned in the response; with persist they are written to the article
// collection and left out unless include_entities=true.
//
//	POST /catalog/imports (multipart: file, format, supplier_id, catalog_id,
//	custom_schema_path, version, persist, include_entities, strict_metadata)
//
// 200 when the catalog imported cleanly, 422 when it was read but has
// errors, 400 for undetectable or malformed documents, 413 when too large.
func (h *CatalogImportHandler) Import(c *gin.Context) {
	cmd, file, ok := h.importCommand(c)
	if !ok {
		return
	}
	defer file.Close()

	result, err := h.importer.Import(c.Request.Context(), cmd)
	h.respondResult(c, result, err)
}

// Stage archives and validates an uploaded catalog without writing it.
// The returned session is committed with POST /catalog/imports/:id/commit.
//
//	POST /catalog/imports/stage
func (h *CatalogImportHandler) Stage(c *gin.Context) {
	cmd, file, ok := h.importCommand(c)
	if !ok {
		return
	}
	defer file.Close()

	session, err := h.importer.Stage(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.NewSessionResponse(session))
}

// Commit writes a staged catalog. A session commits at most once.
//
//	POST /catalog/imports/:id/commit
func (h *CatalogImportHandler) Commit(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	sessionID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.importer.Commit(c.Request.Context(), tenantID, sessionID)
	h.respondResult(c, result, err)
}

// GetSession returns one staged import
//
//	GET /catalog/imports/sessions/:id
func (h *CatalogImportHandler) GetSession(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	sessionID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	session, err := h.importer.GetSession(c.Request.Context(), tenantID, sessionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSessionResponse(session))
}

// ListSessions returns the tenant's pending staged imports, newest first
//
//	GET /catalog/imports/sessions?limit=
func (h *CatalogImportHandler) ListSessions(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	limit := defaultSessionListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			h.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	sessions, err := h.importer.ListSessions(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, dto.NewSessionResponse(s))
	}
	h.Success(c, out)
}

// DiscardSession drops a staged import and its archived catalog
//
//	DELETE /catalog/imports/sessions/:id
func (h *CatalogImportHandler) DiscardSession(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	sessionID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.importer.Discard(c.Request.Context(), tenantID, sessionID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Get returns one import run with its issues
//
//	GET /catalog/imports/:id
func (h *CatalogImportHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	imp, err := h.importer.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewCatalogImportResponse(imp, true))
}

// List returns the import history, newest first
//
//	GET /catalog/imports?page=&page_size=&format=&status=&supplier_id=
func (h *CatalogImportHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	q := dto.CatalogImportListQuery{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	res, err := h.importer.List(c.Request.Context(), tenantID, q.Filter(), q.Page, q.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	items := make([]dto.CatalogImportResponse, 0, len(res.Items))
	for _, imp := range res.Items {
		items = append(items, dto.NewCatalogImportResponse(imp, false))
	}
	h.SuccessWithMeta(c, items, res.TotalCount, res.Page, res.PageSize)
}

// Formats lists the supported catalog formats
//
//	GET /catalog/formats
func (h *CatalogImportHandler) Formats(c *gin.Context) {
	formats := h.importer.Formats()
	out := make([]dto.FormatResponse, 0, len(formats))
	for _, f := range formats {
		out = append(out, dto.NewFormatResponse(f))
	}
	h.Success(c, out)
}

// Detect reports the format of an uploaded catalog without parsing it
//
//	POST /catalog/detect (multipart: file)
func (h *CatalogImportHandler) Detect(c *gin.Context) {
	file, header, ok := h.formFile(c)
	if !ok {
		return
	}
	defer file.Close()

	info, err := h.importer.Detect(file, header.Filename)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewFormatResponse(info))
}

// importCommand reads the multipart form of Import and Stage. The caller
// closes the returned file.
func (h *CatalogImportHandler) importCommand(c *gin.Context) (catalogimportapp.ImportCommand, multipart.File, bool) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return catalogimportapp.ImportCommand{}, nil, false
	}
	file, header, ok := h.formFile(c)
	if !ok {
		return catalogimportapp.ImportCommand{}, nil, false
	}

	var form dto.CatalogImportForm
	if err := c.ShouldBind(&form); err != nil {
		_ = file.Close()
		middleware.HandleValidationError(c, err)
		return catalogimportapp.ImportCommand{}, nil, false
	}

	collect := !form.Persist
	if form.IncludeEntities != nil {
		collect = *form.IncludeEntities
	}
	return catalogimportapp.ImportCommand{
		TenantID:            tenantID,
		SupplierID:          form.SupplierID,
		CatalogID:           form.CatalogID,
		Format:              form.Format,
		FileName:            header.Filename,
		Size:                header.Size,
		Body:                file,
		CustomSchemaPath:    form.CustomSchemaPath,
		DeclaredVersion:     form.DeclaredVersion,
		StrictMetadataMatch: form.StrictMetadata,
		Persist:             form.Persist,
		CollectEntities:     collect,
	}, file, true
}

func (h *CatalogImportHandler) formFile(c *gin.Context) (multipart.File, *multipart.FileHeader, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return nil, nil, false
		}
		h.BadRequest(c, "file is required")
		return nil, nil, false
	}
	return file, header, true
}

// respondResult answers an import or commit. A result that came back with
// an error is attached to the error response so the issues reach the
// client.
func (h *CatalogImportHandler) respondResult(c *gin.Context, result *catalog.ImportResult, err error) {
	if err != nil {
		var domainErr *shared.DomainError
		if result == nil || !errors.As(err, &domainErr) {
			h.HandleError(c, err)
			return
		}
		resp := dto.NewErrorResponseWithCorrelationID(domainErr.Code, err.Error(), middleware.GetCorrelationID(c))
		resp.Data = dto.NewImportResponse(result)
		c.JSON(dto.GetHTTPStatus(domainErr.Code), resp)
		return
	}

	body := dto.NewImportResponse(result)
	if !result.Success {
		resp := dto.NewErrorResponseWithCorrelationID(dto.ErrCodeValidationFailed,
			"catalog has errors", middleware.GetCorrelationID(c))
		resp.Data = body
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	h.Success(c, body)
}
