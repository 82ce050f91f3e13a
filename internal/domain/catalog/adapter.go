package catalog

import (
	"context"
	"io"
	"strings"
)

// Confidence is an adapter's certainty (0..100) that content is its format
type Confidence int

const (
	ConfidenceNone    Confidence = 0
	ConfidenceLow     Confidence = 10
	ConfidenceMedium  Confidence = 60
	ConfidenceHigh    Confidence = 90
	ConfidenceCertain Confidence = 100
)

// FormatInfo describes an adapter for format discovery
type FormatInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Extensions  []string `json:"extensions"`
	Description string   `json:"description"`
}

// HasExtension reports whether filename ends with one of the format's extensions
func (f FormatInfo) HasExtension(filename string) bool {
	name := strings.ToLower(filename)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Adapter converts one catalog format into a stream of CatalogEntity records.
type Adapter interface {
	// Info returns the adapter's format description
	Info() FormatInfo

	// Detect scores the first bytes of a document. It never fails.
	Detect(head []byte, filename string) Confidence

	// Parse streams entities to handle in document order. Recoverable
	// problems are returned as issues in the result; the error is reserved
	// for malformed documents, cancellation and size limits. A non-nil
	// result is returned even alongside an error.
	Parse(ctx context.Context, r io.Reader, meta CatalogMetadata, handle EntityHandler) (*ImportResult, error)
}

// Collect runs the adapter and keeps every accepted entity in the result.
func Collect(ctx context.Context, adapter Adapter, r io.Reader, meta CatalogMetadata) (*ImportResult, error) {
	var entities []CatalogEntity
	result, err := adapter.Parse(ctx, r, meta, func(_ context.Context, e CatalogEntity) error {
		entities = append(entities, e)
		return nil
	})
	if result != nil {
		result.Entities = entities
	}
	return result, err
}
