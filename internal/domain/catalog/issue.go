package catalog

import "fmt"

// Stable issue codes consumed by downstream reporting
const (
	CodeMissingID         = "MISSING_ID"
	CodeDuplicateID       = "DUPLICATE_ID"
	CodeInvalidPrice      = "INVALID_PRICE"
	CodeInvalidEAN        = "INVALID_EAN"
	CodeMissingName       = "MISSING_NAME"
	CodeSupplierMismatch  = "SUPPLIER_MISMATCH"
	CodeCatalogMismatch   = "CATALOG_MISMATCH"
	CodeUnknownVersion    = "UNKNOWN_VERSION"
	CodeMalformedXML      = "MALFORMED_XML"
	CodeDTDProhibited     = "DTD_PROHIBITED"
	CodeSchemaViolation   = "SCHEMA_VIOLATION"
	CodeMalformedRow      = "MALFORMED_ROW"
	CodeMissingHeader     = "MISSING_HEADER"
	CodeUnmappedColumn    = "UNMAPPED_COLUMN"
	CodeUnsupportedRecord = "UNSUPPORTED_RECORD"
	CodeDeletionRecord    = "DELETION_RECORD"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeImportCancelled   = "IMPORT_CANCELLED"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeFormatNotDetected = "FORMAT_NOT_DETECTED"
)

// ValidationIssue is a recoverable problem found while importing.
// Issues are returned as data, never raised.
type ValidationIssue struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Field      string   `json:"field,omitempty"`
	LineNumber *int     `json:"lineNumber,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// NewIssue creates an issue without position information
func NewIssue(code string, severity Severity, message string) ValidationIssue {
	return ValidationIssue{Code: code, Severity: severity, Message: message}
}

// Warning creates a warning issue
func Warning(code, message string) ValidationIssue {
	return NewIssue(code, SeverityWarning, message)
}

// Error creates an error issue
func Error(code, message string) ValidationIssue {
	return NewIssue(code, SeverityError, message)
}

// Critical creates a critical issue
func Critical(code, message string) ValidationIssue {
	return NewIssue(code, SeverityCritical, message)
}

// AtLine returns a copy of the issue bound to a 1-based line number
func (i ValidationIssue) AtLine(line int) ValidationIssue {
	if line > 0 {
		l := line
		i.LineNumber = &l
	}
	return i
}

// OnField returns a copy of the issue bound to a field path
func (i ValidationIssue) OnField(field string) ValidationIssue {
	i.Field = field
	return i
}

// WithSuggestion returns a copy of the issue with a remediation hint
func (i ValidationIssue) WithSuggestion(s string) ValidationIssue {
	i.Suggestion = s
	return i
}

// String renders the issue for logs and CLI output
func (i ValidationIssue) String() string {
	if i.LineNumber != nil {
		return fmt.Sprintf("[%s] %s (line %d): %s", i.Severity, i.Code, *i.LineNumber, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Code, i.Message)
}

// SupplierMismatch builds the supplier id cross-check issue
func SupplierMismatch(expected, found string, severity Severity) ValidationIssue {
	return NewIssue(CodeSupplierMismatch, severity,
		fmt.Sprintf("Supplier ID mismatch: expected %s, found %s", expected, found)).
		OnField("HEADER/SUPPLIER/SUPPLIER_ID").
		WithSuggestion("check that the catalog was uploaded for the right supplier")
}

// CatalogMismatch builds the catalog id cross-check issue
func CatalogMismatch(expected, found string, severity Severity) ValidationIssue {
	return NewIssue(CodeCatalogMismatch, severity,
		fmt.Sprintf("Catalog ID mismatch: expected %s, found %s", expected, found)).
		OnField("HEADER/CATALOG/CATALOG_ID")
}
