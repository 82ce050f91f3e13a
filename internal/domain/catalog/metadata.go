package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CatalogMetadata describes the caller's expectations for one import run.
// It is passed by value so adapters cannot mutate it while parsing.
type CatalogMetadata struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	SupplierID       string    `json:"supplier_id,omitempty"`
	CatalogID        string    `json:"catalog_id,omitempty"`
	ImportedAt       time.Time `json:"imported_at"`
	DeclaredVersion  string    `json:"declared_version,omitempty"`
	CustomSchemaPath string    `json:"custom_schema_path,omitempty"`
	// StrictMetadataMatch makes supplier/catalog id mismatches block Success.
	StrictMetadataMatch bool `json:"strict_metadata_match"`
}

// NewCatalogMetadata creates metadata stamped with the current time
func NewCatalogMetadata(tenantID uuid.UUID, supplierID, catalogID string) CatalogMetadata {
	return CatalogMetadata{
		TenantID:            tenantID,
		SupplierID:          strings.TrimSpace(supplierID),
		CatalogID:           strings.TrimSpace(catalogID),
		ImportedAt:          time.Now().UTC(),
		StrictMetadataMatch: true,
	}
}

// MismatchSeverity returns the severity used for supplier/catalog id mismatches
func (m CatalogMetadata) MismatchSeverity() Severity {
	if m.StrictMetadataMatch {
		return SeverityError
	}
	return SeverityWarning
}
