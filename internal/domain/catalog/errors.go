package catalog

import "github.com/erp/catalog-exchange/internal/domain/shared"

// MaxFileSize is the upload ceiling for one catalog (100MB). A file of
// exactly this size is accepted.
const MaxFileSize int64 = 100 * 1024 * 1024

// Catalog import errors
var (
	ErrFormatNotDetected  = shared.NewDomainError(CodeFormatNotDetected, "unable to detect catalog format, specify the format explicitly")
	ErrUnknownFormat      = shared.NewDomainError("UNKNOWN_FORMAT", "unknown catalog format")
	ErrFileTooLarge       = shared.NewDomainError(CodeFileTooLarge, "catalog file exceeds the 100MB limit")
	ErrMalformedDocument  = shared.NewDomainError("MALFORMED_DOCUMENT", "catalog document is malformed")
	ErrUnsupportedVersion = shared.NewDomainError("UNSUPPORTED_VERSION", "catalog version could not be resolved or is not supported")
)
