package erpsync

import (
	"github.com/google/uuid"
)

// MaxBatchWriteItems bounds one batch write request
const MaxBatchWriteItems = 10000

// WriteMode selects how a batch item is applied
type WriteMode string

const (
	WriteInsert WriteMode = "insert"
	WriteUpdate WriteMode = "update"
	WriteUpsert WriteMode = "upsert"
)

// IsValid checks if the write mode is known
func (m WriteMode) IsValid() bool {
	switch m {
	case WriteInsert, WriteUpdate, WriteUpsert:
		return true
	}
	return false
}

// Per-item batch error codes
const (
	ItemValidationFailed = "VALIDATION_FAILED"
	ItemDuplicate        = "DUPLICATE"
	ItemNotFound         = "NOT_FOUND"
	ItemStaleVersion     = "STALE_VERSION"
	ItemWriteFailed      = "WRITE_FAILED"
	ItemCancelled        = "CANCELLED"
)

// BatchWriteRequest applies Items independently of each other.
//
// Semantics are at-least-once, not transactional: with ContinueOnError=false
// the first failure stops the remaining items, but items already applied stay
// applied. Consumers must write idempotently.
type BatchWriteRequest[T any] struct {
	TenantID            uuid.UUID  `json:"tenantId"`
	EntityType          EntityType `json:"entityType"`
	Items               []T        `json:"items"`
	Mode                WriteMode  `json:"mode"`
	ContinueOnError     *bool      `json:"continueOnError,omitempty"`
	ValidateBeforeWrite *bool      `json:"validateBeforeWrite,omitempty"`
}

// ShouldContinueOnError returns ContinueOnError, defaulting to true
func (r *BatchWriteRequest[T]) ShouldContinueOnError() bool {
	return r.ContinueOnError == nil || *r.ContinueOnError
}

// ShouldValidate returns ValidateBeforeWrite, defaulting to true
func (r *BatchWriteRequest[T]) ShouldValidate() bool {
	return r.ValidateBeforeWrite == nil || *r.ValidateBeforeWrite
}

// Normalize applies defaults and validates the envelope
func (r *BatchWriteRequest[T]) Normalize() error {
	if r.TenantID == uuid.Nil {
		return InvalidRequest("tenant id is required")
	}
	if !r.EntityType.IsValid() {
		return InvalidRequest("unknown entity type " + string(r.EntityType))
	}
	if r.Mode == "" {
		r.Mode = WriteUpsert
	}
	if !r.Mode.IsValid() {
		return InvalidRequest("unknown write mode " + string(r.Mode))
	}
	if len(r.Items) > MaxBatchWriteItems {
		return InvalidRequest("too many items in one batch")
	}
	return nil
}

// BatchItemError describes why one item failed. Index is the item's
// position in the request.
type BatchItemError struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// BatchWriteResponse reports per-item outcomes. SuccessCount is
// Inserted+Updated+Skipped.
type BatchWriteResponse struct {
	SuccessCount  int              `json:"successCount"`
	ErrorCount    int              `json:"errorCount"`
	InsertedCount int              `json:"insertedCount"`
	UpdatedCount  int              `json:"updatedCount"`
	SkippedCount  int              `json:"skippedCount"`
	Errors        []BatchItemError `json:"errors"`
	// Aborted is set when ContinueOnError=false or cancellation stopped the
	// batch early
	Aborted bool `json:"aborted,omitempty"`
}

// NewBatchWriteResponse returns an empty response
func NewBatchWriteResponse() *BatchWriteResponse {
	return &BatchWriteResponse{Errors: make([]BatchItemError, 0)}
}

// WriteOutcome is the result of applying one item
type WriteOutcome int

const (
	OutcomeInserted WriteOutcome = iota + 1
	OutcomeUpdated
	OutcomeSkipped
)

// Record applies one successful outcome to the counters
func (r *BatchWriteResponse) Record(o WriteOutcome) {
	switch o {
	case OutcomeInserted:
		r.InsertedCount++
	case OutcomeUpdated:
		r.UpdatedCount++
	case OutcomeSkipped:
		r.SkippedCount++
	}
	r.SuccessCount++
}

// Fail records a failed item
func (r *BatchWriteResponse) Fail(e BatchItemError) {
	r.ErrorCount++
	r.Errors = append(r.Errors, e)
}

// Merge adds another response's counts and errors, shifting error indexes
// by offset
func (r *BatchWriteResponse) Merge(other *BatchWriteResponse, offset int) {
	r.SuccessCount += other.SuccessCount
	r.ErrorCount += other.ErrorCount
	r.InsertedCount += other.InsertedCount
	r.UpdatedCount += other.UpdatedCount
	r.SkippedCount += other.SkippedCount
	for _, e := range other.Errors {
		e.Index += offset
		r.Errors = append(r.Errors, e)
	}
	r.Aborted = r.Aborted || other.Aborted
}
