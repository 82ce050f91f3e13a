package csvimport

import (
	"errors"
	"fmt"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
)

// Row-level error codes. They are reported to callers as the stable
// catalog issue codes.
const (
	ErrCodeImportMalformedRow  = catalog.CodeMalformedRow
	ErrCodeImportRequiredField = catalog.CodeMissingID
	ErrCodeImportInvalidType   = "INVALID_VALUE"
	ErrCodeImportInvalidLength = "INVALID_LENGTH"
	ErrCodeImportInvalidRange  = catalog.CodeInvalidPrice
	ErrCodeImportPattern       = "PATTERN_MISMATCH"
)

// Common import errors
var (
	// ErrEmptyFile is returned when the CSV file is empty
	ErrEmptyFile = errors.New("CSV file is empty")

	// ErrInvalidEncoding is returned when the file is not UTF-8 and no
	// fallback charset is configured
	ErrInvalidEncoding = errors.New("invalid file encoding")
)

// RowError represents an error in a specific row
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Issue converts the row error into a validation issue. Row problems never
// fail the whole import, so they are warnings.
func (e *RowError) Issue() catalog.ValidationIssue {
	return catalog.Warning(e.Code, e.Error()).AtLine(e.Row).OnField(e.Column)
}

// NewRowError creates a new RowError
func NewRowError(row int, column, code, message string) *RowError {
	return &RowError{
		Row:     row,
		Column:  column,
		Code:    code,
		Message: message,
	}
}

// NewRowErrorWithValue creates a new RowError with the invalid value
func NewRowErrorWithValue(row int, column, code, message, value string) *RowError {
	return &RowError{
		Row:     row,
		Column:  column,
		Code:    code,
		Message: message,
		Value:   value,
	}
}
