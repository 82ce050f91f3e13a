package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes a sort direction to ASC or DESC, defaulting
// to DESC
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField if the whitelist allows it and
// defaultField otherwise
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// CatalogImportSortFields are the columns the import history can be
// ordered by
var CatalogImportSortFields = map[string]bool{
	"created_at":    true,
	"started_at":    true,
	"completed_at":  true,
	"file_name":     true,
	"file_size":     true,
	"format":        true,
	"supplier_id":   true,
	"status":        true,
	"total_items":   true,
	"written_items": true,
}

// orderClause builds a whitelisted ORDER BY with id as the tiebreaker
func orderClause(sortBy, sortOrder string, allowed map[string]bool, defaultField string) string {
	field := ValidateSortField(sortBy, allowed, defaultField)
	dir := ValidateSortOrder(sortOrder)
	return field + " " + dir + ", id " + dir
}
