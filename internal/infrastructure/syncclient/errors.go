package syncclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common HTTP error classes
var (
	ErrUnauthorized = errors.New("syncclient: unauthorized")
	ErrForbidden    = errors.New("syncclient: forbidden")
	ErrNotFound     = errors.New("syncclient: not found")
)

// APIError is the error body returned by the sync server
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportError reports a failed exchange with the server.
//
// Retryable is set for network failures, 408, 429 and 5xx. StateSafe reports
// whether the last persisted watermark and continuation token may be reused
// for the retry; reads never advance state before a page is applied, so it
// is true for every read.
type TransportError struct {
	Op         string
	StatusCode int
	Retryable  bool
	StateSafe  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("syncclient: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("syncclient: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a TransportError marked retryable
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}
