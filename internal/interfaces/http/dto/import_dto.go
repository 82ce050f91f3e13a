package dto

import (
	"time"

	catalogimportapp "github.com/erp/catalog-exchange/internal/application/catalogimport"
	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/google/uuid"
)

// CatalogImportForm is the multipart form of an import or stage request.
// The catalog itself is the "file" part.
type CatalogImportForm struct {
	Format           string `form:"format" binding:"omitempty,max=32"`
	SupplierID       string `form:"supplier_id" binding:"omitempty,max=100"`
	CatalogID        string `form:"catalog_id" binding:"omitempty,max=100"`
	CustomSchemaPath string `form:"custom_schema_path" binding:"omitempty,max=255"`
	DeclaredVersion  string `form:"version" binding:"omitempty,max=16"`
	Persist          bool   `form:"persist"`
	IncludeEntities  *bool  `form:"include_entities"`
	StrictMetadata   *bool  `form:"strict_metadata"`
}

// ImportStatistics summarizes an import
type ImportStatistics struct {
	TotalItems   int       `json:"totalItems"`
	ValidItems   int       `json:"validItems"`
	SkippedItems int       `json:"skippedItems"`
	ImportedAt   time.Time `json:"importedAt"`
	DurationMs   int64     `json:"durationMs"`
}

// ImportResponse is the body of POST /catalog/imports
type ImportResponse struct {
	Success       bool                      `json:"success"`
	ImportID      uuid.UUID                 `json:"importId"`
	Format        string                    `json:"format"`
	FormatName    string                    `json:"formatName"`
	Version       string                    `json:"version,omitempty"`
	Statistics    ImportStatistics          `json:"statistics"`
	Entities      []catalog.CatalogEntity   `json:"entities"`
	Warnings      []catalog.ValidationIssue `json:"warnings"`
	Errors        []catalog.ValidationIssue `json:"errors"`
	DroppedIssues int                       `json:"droppedIssues,omitempty"`
}

// NewImportResponse shapes an import result for the wire
func NewImportResponse(r *catalog.ImportResult) ImportResponse {
	entities := r.Entities
	if entities == nil {
		entities = make([]catalog.CatalogEntity, 0)
	}
	return ImportResponse{
		Success:    r.Success,
		ImportID:   r.ImportID,
		Format:     r.Format,
		FormatName: r.FormatName,
		Version:    r.Version,
		Statistics: ImportStatistics{
			TotalItems:   r.TotalCount,
			ValidItems:   r.ValidCount,
			SkippedItems: r.SkippedCount,
			ImportedAt:   r.FinishedAt,
			DurationMs:   r.Duration().Milliseconds(),
		},
		Entities:      entities,
		Warnings:      r.Warnings(),
		Errors:        r.Errors(),
		DroppedIssues: r.DroppedIssues,
	}
}

// CatalogImportResponse is one entry of the import history
type CatalogImportResponse struct {
	ID            uuid.UUID                 `json:"id"`
	Format        string                    `json:"format"`
	FormatVersion string                    `json:"formatVersion,omitempty"`
	SupplierID    string                    `json:"supplierId,omitempty"`
	CatalogID     string                    `json:"catalogId,omitempty"`
	FileName      string                    `json:"fileName"`
	FileSize      int64                     `json:"fileSize"`
	Status        catalog.ImportStatus      `json:"status"`
	Succeeded     bool                      `json:"succeeded"`
	Archived      bool                      `json:"archived"`
	TotalItems    int                       `json:"totalItems"`
	ValidItems    int                       `json:"validItems"`
	SkippedItems  int                       `json:"skippedItems"`
	WrittenItems  int                       `json:"writtenItems"`
	WriteErrors   int                       `json:"writeErrors"`
	Issues        []catalog.ValidationIssue `json:"issues,omitempty"`
	StartedAt     *time.Time                `json:"startedAt,omitempty"`
	CompletedAt   *time.Time                `json:"completedAt,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

// NewCatalogImportResponse converts an import run
func NewCatalogImportResponse(imp *catalog.CatalogImport, withIssues bool) CatalogImportResponse {
	resp := CatalogImportResponse{
		ID:            imp.ID,
		Format:        imp.Format,
		FormatVersion: imp.FormatVersion,
		SupplierID:    imp.SupplierID,
		CatalogID:     imp.CatalogID,
		FileName:      imp.FileName,
		FileSize:      imp.FileSize,
		Status:        imp.Status,
		Succeeded:     imp.Succeeded,
		Archived:      imp.ArchiveKey != "",
		TotalItems:    imp.TotalItems,
		ValidItems:    imp.ValidItems,
		SkippedItems:  imp.SkippedItems,
		WrittenItems:  imp.WrittenItems,
		WriteErrors:   imp.WriteErrors,
		StartedAt:     imp.StartedAt,
		CompletedAt:   imp.CompletedAt,
		CreatedAt:     imp.CreatedAt,
	}
	if withIssues {
		resp.Issues = imp.Issues
	}
	return resp
}

// CatalogImportListQuery filters the import history
type CatalogImportListQuery struct {
	ListRequest
	Format     string `form:"format"`
	Status     string `form:"status" binding:"omitempty,oneof=pending processing completed failed cancelled"`
	SupplierID string `form:"supplier_id"`
	SortBy     string `form:"sort_by" binding:"omitempty,oneof=created_at started_at completed_at file_name file_size format supplier_id status total_items written_items"`
	SortOrder  string `form:"sort_order" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// Filter converts the query into a repository filter
func (q CatalogImportListQuery) Filter() catalog.CatalogImportFilter {
	f := catalog.CatalogImportFilter{
		Format:     q.Format,
		SupplierID: q.SupplierID,
		SortBy:     q.SortBy,
		SortOrder:  q.SortOrder,
	}
	if q.Status != "" {
		s := catalog.ImportStatus(q.Status)
		f.Status = &s
	}
	return f
}

// SessionResponse describes a staged import
type SessionResponse struct {
	*catalogimportapp.ImportSession
	Committable bool `json:"committable"`
}

// NewSessionResponse wraps a session
func NewSessionResponse(s *catalogimportapp.ImportSession) SessionResponse {
	return SessionResponse{ImportSession: s, Committable: s.CanCommit()}
}

// FormatResponse lists one supported catalog format
type FormatResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Extensions  []string `json:"extensions"`
	Description string   `json:"description"`
}

// NewFormatResponse converts format info
func NewFormatResponse(f catalog.FormatInfo) FormatResponse {
	return FormatResponse{
		ID:          f.ID,
		Name:        f.Name,
		Extensions:  f.Extensions,
		Description: f.Description,
	}
}
