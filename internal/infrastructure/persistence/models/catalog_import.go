package models

import (
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
)

// CatalogImportModel is the persistence model for one catalog import run
type CatalogImportModel struct {
	TenantAggregateModel
	Format        string               `gorm:"type:varchar(32);not null;index"`
	FormatVersion string               `gorm:"type:varchar(16)"`
	SupplierID    string               `gorm:"type:varchar(100);index"`
	CatalogID     string               `gorm:"type:varchar(100)"`
	FileName      string               `gorm:"type:varchar(255);not null"`
	FileSize      int64                `gorm:"not null;default:0"`
	ArchiveKey    string               `gorm:"type:varchar(512)"`
	Status        catalog.ImportStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Succeeded     bool                 `gorm:"not null;default:false"`
	TotalItems    int                  `gorm:"not null;default:0"`
	ValidItems    int                  `gorm:"not null;default:0"`
	SkippedItems  int                  `gorm:"not null;default:0"`
	WrittenItems  int                  `gorm:"not null;default:0"`
	WriteErrors   int                  `gorm:"not null;default:0"`
	Issues        string               `gorm:"type:jsonb;default:'[]'"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// TableName returns the table name for GORM
func (CatalogImportModel) TableName() string {
	return "catalog_imports"
}

// ToDomain converts the model to the domain aggregate
func (m *CatalogImportModel) ToDomain() *catalog.CatalogImport {
	imp := &catalog.CatalogImport{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		Format:              m.Format,
		FormatVersion:       m.FormatVersion,
		SupplierID:          m.SupplierID,
		CatalogID:           m.CatalogID,
		FileName:            m.FileName,
		FileSize:            m.FileSize,
		ArchiveKey:          m.ArchiveKey,
		Status:              m.Status,
		Succeeded:           m.Succeeded,
		TotalItems:          m.TotalItems,
		ValidItems:          m.ValidItems,
		SkippedItems:        m.SkippedItems,
		WrittenItems:        m.WrittenItems,
		WriteErrors:         m.WriteErrors,
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
	}
	_ = imp.SetIssuesFromJSON(m.Issues)
	return imp
}

// CatalogImportModelFromDomain builds a model from the domain aggregate
func CatalogImportModelFromDomain(imp *catalog.CatalogImport) *CatalogImportModel {
	m := &CatalogImportModel{
		Format:        imp.Format,
		FormatVersion: imp.FormatVersion,
		SupplierID:    imp.SupplierID,
		CatalogID:     imp.CatalogID,
		FileName:      imp.FileName,
		FileSize:      imp.FileSize,
		ArchiveKey:    imp.ArchiveKey,
		Status:        imp.Status,
		Succeeded:     imp.Succeeded,
		TotalItems:    imp.TotalItems,
		ValidItems:    imp.ValidItems,
		SkippedItems:  imp.SkippedItems,
		WrittenItems:  imp.WrittenItems,
		WriteErrors:   imp.WriteErrors,
		StartedAt:     imp.StartedAt,
		CompletedAt:   imp.CompletedAt,
	}
	m.FromDomainTenantAggregateRoot(imp.TenantAggregateRoot)
	if issues, err := imp.IssuesJSON(); err == nil {
		m.Issues = issues
	} else {
		m.Issues = "[]"
	}
	return m
}
