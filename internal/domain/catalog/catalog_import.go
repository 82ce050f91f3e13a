package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// ImportStatus represents the status of a catalog import
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusCancelled  ImportStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s ImportStatus) IsValid() bool {
	switch s {
	case ImportStatusPending, ImportStatusProcessing, ImportStatusCompleted,
		ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed || s == ImportStatusCancelled
}

// CatalogImport tracks one catalog import run and its outcome
type CatalogImport struct {
	shared.TenantAggregateRoot
	Format        string            `json:"format"`
	FormatVersion string            `json:"format_version,omitempty"`
	SupplierID    string            `json:"supplier_id,omitempty"`
	CatalogID     string            `json:"catalog_id,omitempty"`
	FileName      string            `json:"file_name"`
	FileSize      int64             `json:"file_size"`
	ArchiveKey    string            `json:"archive_key,omitempty"`
	Status        ImportStatus      `json:"status"`
	Succeeded     bool              `json:"succeeded"`
	TotalItems    int               `json:"total_items"`
	ValidItems    int               `json:"valid_items"`
	SkippedItems  int               `json:"skipped_items"`
	WrittenItems  int               `json:"written_items"`
	WriteErrors   int               `json:"write_errors"`
	Issues        []ValidationIssue `json:"issues,omitempty"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// NewCatalogImport creates a pending import record
func NewCatalogImport(meta CatalogMetadata, fileName string, fileSize int64) (*CatalogImport, error) {
	if meta.TenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if fileName == "" {
		return nil, shared.NewDomainError("INVALID_FILE_NAME", "File name cannot be empty")
	}
	if fileSize < 0 {
		return nil, shared.NewDomainError("INVALID_FILE_SIZE", "File size cannot be negative")
	}

	return &CatalogImport{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(meta.TenantID),
		SupplierID:          meta.SupplierID,
		CatalogID:           meta.CatalogID,
		FileName:            fileName,
		FileSize:            fileSize,
		Status:              ImportStatusPending,
		Issues:              make([]ValidationIssue, 0),
	}, nil
}

// StartProcessing marks the import as started with the resolved format
func (c *CatalogImport) StartProcessing(format string) error {
	if c.Status != ImportStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot start processing from state: %s", c.Status))
	}
	if format == "" {
		return shared.NewDomainError("INVALID_FORMAT", "Format cannot be empty")
	}

	c.Status = ImportStatusProcessing
	c.Format = format
	now := time.Now()
	c.StartedAt = &now
	c.Touch(now)
	return nil
}

// RecordWrites adds batch write outcomes for persisted imports
func (c *CatalogImport) RecordWrites(written, failed int) {
	c.WrittenItems += written
	c.WriteErrors += failed
}

// Complete finishes the import from an adapter result. An import whose
// result has errors and no valid entity is marked failed.
func (c *CatalogImport) Complete(result *ImportResult) error {
	if c.Status != ImportStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete from state: %s", c.Status))
	}
	if result == nil {
		return shared.NewDomainError("INVALID_RESULT", "Import result cannot be nil")
	}

	c.applyResult(result)
	status := ImportStatusCompleted
	if !result.Success && result.ValidCount == 0 {
		status = ImportStatusFailed
	}
	c.Succeeded = result.Success && c.WriteErrors == 0
	c.finish(status)
	return nil
}

// Fail marks the import as failed, keeping whatever partial result exists
func (c *CatalogImport) Fail(result *ImportResult, cause ValidationIssue) error {
	if c.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail from terminal state: %s", c.Status))
	}
	if result != nil {
		c.applyResult(result)
	}
	c.Issues = append(c.Issues, cause)
	c.Succeeded = false
	c.finish(ImportStatusFailed)
	return nil
}

// Cancel marks the import as cancelled. A cancelled import never succeeds.
func (c *CatalogImport) Cancel() error {
	if c.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot cancel from terminal state: %s", c.Status))
	}
	c.Issues = append(c.Issues, Critical(CodeImportCancelled, "import was cancelled before it finished"))
	c.Succeeded = false
	c.finish(ImportStatusCancelled)
	return nil
}

func (c *CatalogImport) applyResult(result *ImportResult) {
	if result.Version != "" {
		c.FormatVersion = result.Version
	}
	c.TotalItems = result.TotalCount
	c.ValidItems = result.ValidCount
	c.SkippedItems = result.SkippedCount
	c.Issues = append(make([]ValidationIssue, 0, len(result.Issues)), result.Issues...)
}

func (c *CatalogImport) finish(status ImportStatus) {
	c.Status = status
	now := time.Now()
	c.CompletedAt = &now
	c.Touch(now)
}

// IssuesJSON returns the issues as a JSON string
func (c *CatalogImport) IssuesJSON() (string, error) {
	if len(c.Issues) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(c.Issues)
	if err != nil {
		return "", fmt.Errorf("failed to marshal issues: %w", err)
	}
	return string(data), nil
}

// SetIssuesFromJSON parses issues from a JSON string
func (c *CatalogImport) SetIssuesFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" {
		c.Issues = make([]ValidationIssue, 0)
		return nil
	}
	var issues []ValidationIssue
	if err := json.Unmarshal([]byte(jsonStr), &issues); err != nil {
		return fmt.Errorf("failed to unmarshal issues: %w", err)
	}
	c.Issues = issues
	return nil
}

// Duration returns the duration of the import
func (c *CatalogImport) Duration() time.Duration {
	if c.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	return end.Sub(*c.StartedAt)
}
