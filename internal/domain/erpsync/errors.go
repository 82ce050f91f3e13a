package erpsync

import "github.com/erp/catalog-exchange/internal/domain/shared"

// Sync protocol errors
var (
	ErrInvalidRequest           = shared.NewDomainError("INVALID_INPUT", "invalid sync request")
	ErrInvalidCursor            = shared.NewDomainError("INVALID_CURSOR", "cursor is invalid or was issued for another query")
	ErrInvalidContinuationToken = shared.NewDomainError("INVALID_CONTINUATION_TOKEN", "continuation token is invalid or was issued for another sync")
	ErrWatermarkRegression      = shared.NewDomainError("WATERMARK_REGRESSION", "new watermark is lower than the request watermark")
	ErrIncompleteStream         = shared.NewDomainError("INCOMPLETE_STREAM", "stream ended before the last chunk was received")
	ErrChunkOutOfOrder          = shared.NewDomainError("CHUNK_OUT_OF_ORDER", "stream chunk arrived out of sequence")
	ErrChecksumMismatch         = shared.NewDomainError("CHECKSUM_MISMATCH", "stream chunk checksum does not match its items")
)

// InvalidRequest returns an ErrInvalidRequest carrying detail
func InvalidRequest(detail string) error {
	return shared.NewDomainError(ErrInvalidRequest.Code, "invalid sync request: "+detail)
}
