package csvimport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// FormatID is the registry id of the CSV adapter
const FormatID = "csv"

// Adapter imports delimited text catalogs
type Adapter struct {
	mapper    *HeaderMapper
	validator *FieldValidator
	fallback  encoding.Encoding
	maxIssues int
	logger    *zap.Logger
}

// Option configures the CSV adapter
type Option func(*Adapter)

// WithHeaderAliases adds header spellings per canonical field
func WithHeaderAliases(extra map[string][]string) Option {
	return func(a *Adapter) {
		a.mapper = NewHeaderMapper(extra)
	}
}

// WithRules replaces the default row rules
func WithRules(rules []FieldRule) Option {
	return func(a *Adapter) {
		a.validator = NewFieldValidator(rules)
	}
}

// WithCharset sets the legacy charset used when input is not UTF-8
func WithCharset(enc encoding.Encoding) Option {
	return func(a *Adapter) {
		a.fallback = enc
	}
}

// WithMaxIssues caps the issues retained per import
func WithMaxIssues(n int) Option {
	return func(a *Adapter) {
		a.maxIssues = n
	}
}

// WithLogger sets the adapter logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter creates a CSV adapter
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		mapper:    NewHeaderMapper(nil),
		validator: NewFieldValidator(DefaultRules()),
		logger:    zap.NewNop(),
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
		Name:        "CSV",
		Extensions:  []string{".csv", ".txt", ".tsv"},
		Description: "Delimited text (comma, semicolon or tab) with a header row mapped by name",
	}
}

// Detect scores delimiter consistency and known header names
func (a *Adapter) Detect(head []byte, _ string) catalog.Confidence {
	head = bytes.TrimPrefix(head, utf8BOM)
	trimmed := bytes.TrimSpace(head)
	if len(trimmed) == 0 || trimmed[0] == '<' || bytes.IndexByte(head, 0) >= 0 {
		return catalog.ConfidenceNone
	}

	d := DetectDelimiter(head)
	lines := bytes.Split(trimmed, []byte("\n"))
	first := countUnquoted(lines[0], d)
	if first == 0 {
		return catalog.ConfidenceNone
	}

	parser, err := NewCSVParser(bytes.NewReader(head), WithDelimiter(d))
	if err == nil {
		if rec, err := parser.ReadRecord(); err == nil {
			matches := 0
			for _, cell := range rec.Fields {
				if _, ok := a.mapper.Match(cell); ok {
					matches++
				}
			}
			if matches >= 2 {
				return catalog.Confidence(min(60+10*matches, 80))
			}
		}
	}

	if len(lines) >= 2 && countUnquoted(lines[1], d) == first {
		return catalog.ConfidenceMedium
	}
	return catalog.ConfidenceLow
}

// Parse streams rows into entities. Malformed rows are reported with their
// line number and parsing continues.
func (a *Adapter) Parse(ctx context.Context, r io.Reader, meta catalog.CatalogMetadata, handle catalog.EntityHandler) (*catalog.ImportResult, error) {
	b := catalog.NewResultBuilder(a.Info(), handle)
	b.SetMaxIssues(a.maxIssues)

	opts := []ParserOption{}
	if a.fallback != nil {
		opts = append(opts, WithFallbackCharset(a.fallback))
	}
	parser, err := NewCSVParser(r, opts...)
	switch {
	case errors.Is(err, ErrEmptyFile):
		b.Issue(catalog.Warning(catalog.CodeMissingHeader, "catalog file is empty"))
		return b.Result(), nil
	case errors.Is(err, ErrInvalidEncoding):
		b.Issue(catalog.Critical(catalog.CodeMalformedRow, "file is not valid UTF-8").
			WithSuggestion("save the file as UTF-8"))
		return b.Result(), fmt.Errorf("%w: %v", catalog.ErrMalformedDocument, err)
	case err != nil:
		return b.Result(), err
	}

	first, err := parser.ReadRecord()
	if err == io.EOF {
		b.Issue(catalog.Warning(catalog.CodeMissingHeader, "catalog file has no rows"))
		return b.Result(), nil
	}
	if err != nil {
		return b.Result(), fmt.Errorf("%w: %v", catalog.ErrMalformedDocument, err)
	}

	var mapping ColumnMapping
	width := len(first.Fields)
	pending := first
	if a.mapper.LooksLikeHeader(first.Fields) {
		mapping = a.mapper.Map(first.Fields)
		pending = nil
	} else {
		mapping = positionalMapping(width)
		b.Issue(catalog.Warning(catalog.CodeMissingHeader, "no header row found, columns are read in default order").
			AtLine(first.LineNumber).
			WithSuggestion("add a header row such as: sku;name;description;ean;mpn;price;currency"))
	}

	for _, idx := range mapping.unmappedColumns() {
		h := mapping.Unmapped[idx]
		b.Issue(catalog.Warning(catalog.CodeUnmappedColumn, fmt.Sprintf("column %q is not a catalog field and is kept as an extension", h)).
			OnField(h).AtLine(first.LineNumber))
	}
	if !mapping.hasField(FieldExternalID) {
		b.Issue(catalog.Error(catalog.CodeMissingHeader, "no column maps to the article id").
			AtLine(first.LineNumber).
			WithSuggestion("name the id column sku, artnr or supplier_aid"))
		return b.Result(), nil
	}

	a.logger.Debug("csv catalog mapped",
		zap.String("delimiter", string(parser.Delimiter())),
		zap.Int("columns", width),
		zap.Int("mapped", len(mapping.Fields)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return b.Result(), err
		}

		rec := pending
		pending = nil
		if rec == nil {
			rec, err = parser.ReadRecord()
			if err == io.EOF {
				break
			}
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				b.Skip(rowErr.Issue())
				continue
			}
			if err != nil {
				return b.Result(), err
			}
		}

		if rec.IsEmpty() {
			continue
		}
		if len(rec.Fields) > width {
			b.Skip(NewRowError(rec.LineNumber, "", ErrCodeImportMalformedRow,
				fmt.Sprintf("row has %d fields, header has %d", len(rec.Fields), width)).Issue())
			continue
		}

		if err := a.processRecord(ctx, b, meta, mapping, rec); err != nil {
			return b.Result(), err
		}
	}

	return b.Result(), nil
}

func (a *Adapter) processRecord(ctx context.Context, b *catalog.ResultBuilder, meta catalog.CatalogMetadata, mapping ColumnMapping, rec *Record) error {
	values := make(map[string]string, len(mapping.Fields))
	for idx, field := range mapping.Fields {
		values[field] = rec.Get(idx)
	}

	rowErrs, blocking := a.validator.ValidateRow(rec.LineNumber, values)
	if blocking {
		b.Skip(rowErrs[0].Issue())
		for _, e := range rowErrs[1:] {
			b.Issue(e.Issue())
		}
		return nil
	}
	for _, e := range rowErrs {
		b.Issue(e.Issue())
	}

	entity := catalog.CatalogEntity{
		ExternalID:             values[FieldExternalID],
		SupplierID:             meta.SupplierID,
		Name:                   values[FieldName],
		Description:            values[FieldDescription],
		EAN:                    values[FieldEAN],
		ManufacturerPartNumber: values[FieldManufacturerPart],
		ManufacturerName:       values[FieldManufacturerName],
		Currency:               values[FieldCurrency],
		Unit:                   values[FieldUnit],
	}
	if p := values[FieldListPrice]; p != "" {
		price, err := ParsePrice(p)
		if err == nil {
			entity.ListPrice = price
		}
	}
	for idx, h := range mapping.Unmapped {
		entity.SetExtension(h, rec.Get(idx))
	}
	return b.Emit(ctx, entity, rec.LineNumber)
}

func positionalMapping(width int) ColumnMapping {
	m := ColumnMapping{Fields: make(map[int]string), Unmapped: make(map[int]string)}
	for i := 0; i < width; i++ {
		if i < len(PositionalFields) {
			m.Fields[i] = PositionalFields[i]
		} else {
			m.Unmapped[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	return m
}

func (m ColumnMapping) unmappedColumns() []int {
	idx := make([]int, 0, len(m.Unmapped))
	for i := range m.Unmapped {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (m ColumnMapping) hasField(field string) bool {
	for _, f := range m.Fields {
		if f == field {
			return true
		}
	}
	return false
}
