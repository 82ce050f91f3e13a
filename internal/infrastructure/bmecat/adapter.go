package bmecat

import (
	"bytes"
	"context"
	"io"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"go.uber.org/zap"
)

// FormatID is the registry id of the BMEcat adapter
const FormatID = "bmecat"

// confidenceRoot is reported when the BMECAT root element is visible
const confidenceRoot catalog.Confidence = 95

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Adapter imports BMEcat 1.2 and 2005.x catalogs in one streaming pass
type Adapter struct {
	maxIssues int
	maxSize   int64
	schemaDir string
	onIssue   func(catalog.ValidationIssue)
	logger    *zap.Logger
}

// Option configures the BMEcat adapter
type Option func(*Adapter)

// WithMaxIssues caps the issues retained per import
func WithMaxIssues(n int) Option {
	return func(a *Adapter) {
		a.maxIssues = n
	}
}

// WithMaxDocumentSize overrides the document size ceiling
func WithMaxDocumentSize(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxSize = n
		}
	}
}

// WithSchemaDir confines custom schema rule files to dir
func WithSchemaDir(dir string) Option {
	return func(a *Adapter) {
		a.schemaDir = dir
	}
}

// WithIssueCallback receives every structural schema violation as it is found
func WithIssueCallback(fn func(catalog.ValidationIssue)) Option {
	return func(a *Adapter) {
		a.onIssue = fn
	}
}

// WithLogger sets the adapter logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter creates a BMEcat adapter
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		maxSize: MaxDocumentSize,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Info returns the format description
func (a *Adapter) Info() catalog.FormatInfo {
	return catalog.FormatInfo{
		ID:          FormatID,
		Name:        "BMEcat",
		Extensions:  []string{".xml", ".bmecat"},
		Description: "BMEcat XML product catalog, versions 1.2, 2005, 2005.1 and 2005.2",
	}
}

// Detect looks for the BMECAT root element or a BMEcat namespace
func (a *Adapter) Detect(head []byte, _ string) catalog.Confidence {
	head = bytes.TrimPrefix(head, utf8BOM)
	root, ns := hasMarker(head)
	switch {
	case root:
		return confidenceRoot
	case ns:
		return catalog.ConfidenceHigh
	case bytes.HasPrefix(bytes.TrimSpace(head), []byte("<?xml")):
		return catalog.ConfidenceLow
	}
	return catalog.ConfidenceNone
}

// Parse streams the document once. Articles are handed to handle as their
// closing tags are read. Malformed XML, a DOCTYPE, an unknown version and
// oversize documents abort the parse.
func (a *Adapter) Parse(ctx context.Context, r io.Reader, meta catalog.CatalogMetadata, handle catalog.EntityHandler) (*catalog.ImportResult, error) {
	p := newParser(a, meta, handle)
	return p.run(ctx, r)
}
