package dto

import "net/http"

// Error codes carried in the response envelope. Domain errors keep their own
// code so clients can match on it; the codes below cover failures raised by
// the HTTP layer itself.
const (
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// Domain error codes with a dedicated status
const (
	ErrCodeInvalidInput             = "INVALID_INPUT"
	ErrCodeInvalidCursor            = "INVALID_CURSOR"
	ErrCodeInvalidContinuationToken = "INVALID_CONTINUATION_TOKEN"
	ErrCodeFormatNotDetected        = "FORMAT_NOT_DETECTED"
	ErrCodeUnknownFormat            = "UNKNOWN_FORMAT"
	ErrCodeFileTooLarge             = "FILE_TOO_LARGE"
	ErrCodeMalformedDocument        = "MALFORMED_DOCUMENT"
	ErrCodeValidationFailed         = "VALIDATION_FAILED"
	ErrCodeUnsupportedVersion       = "UNSUPPORTED_VERSION"
	ErrCodeSessionInvalid           = "SESSION_INVALID"
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeAlreadyExists            = "ALREADY_EXISTS"
	ErrCodeConcurrencyConflict      = "CONCURRENCY_CONFLICT"
	ErrCodeInvalidState             = "INVALID_STATE"
	ErrCodeCredentialUnavailable    = "CREDENTIAL_UNAVAILABLE"
	ErrCodeAPIKeyRevoked            = "API_KEY_REVOKED"
	ErrCodeStagingDisabled          = "STAGING_DISABLED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	// Malformed requests -> 400
	ErrCodeBadRequest:               http.StatusBadRequest,
	ErrCodeValidation:               http.StatusBadRequest,
	ErrCodeInvalidInput:             http.StatusBadRequest,
	ErrCodeInvalidCursor:            http.StatusBadRequest,
	ErrCodeInvalidContinuationToken: http.StatusBadRequest,
	ErrCodeFormatNotDetected:        http.StatusBadRequest,
	ErrCodeUnknownFormat:            http.StatusBadRequest,
	ErrCodeMalformedDocument:        http.StatusBadRequest,

	// Size limits -> 413
	ErrCodeFileTooLarge:    http.StatusRequestEntityTooLarge,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Well-formed but unacceptable content -> 422
	ErrCodeValidationFailed:   http.StatusUnprocessableEntity,
	ErrCodeUnsupportedVersion: http.StatusUnprocessableEntity,
	ErrCodeSessionInvalid:     http.StatusUnprocessableEntity,
	ErrCodeInvalidState:       http.StatusUnprocessableEntity,

	// Auth errors
	ErrCodeUnauthorized:          http.StatusUnauthorized,
	ErrCodeCredentialUnavailable: http.StatusUnauthorized,
	ErrCodeAPIKeyRevoked:         http.StatusUnauthorized,
	ErrCodeForbidden:             http.StatusForbidden,

	// Resource errors
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	ErrCodeStagingDisabled: http.StatusNotImplemented,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
