package datanorm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// FormatID is the registry id of the Datanorm adapter
const FormatID = "datanorm"

const (
	sniffSize               = 4096
	maxLineLength           = 64 * 1024
	ctxCheckInterval        = 100
	defaultVersionFixed     = "3"
	defaultVersionDelimited = "4"
)

var (
	utf8BOM         = []byte{0xEF, 0xBB, 0xBF}
	delimitedHeader = regexp.MustCompile(`^V;0?[345]0?;`)
	articleLine     = regexp.MustCompile(`(?m)^A;[NAL]?;`)
)

// Adapter imports Datanorm 3 (fixed width) and Datanorm 4/5 (semicolon) files
type Adapter struct {
	charset   encoding.Encoding
	maxIssues int
	maxSize   int64
	logger    *zap.Logger
}

// Option configures the Datanorm adapter
type Option func(*Adapter)

// WithCharset sets the legacy charset. The default is code page 850.
func WithCharset(enc encoding.Encoding) Option {
	return func(a *Adapter) {
		if enc != nil {
			a.charset = enc
		}
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

// NewAdapter creates a Datanorm adapter
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		charset: charmap.CodePage850,
		maxSize: catalog.MaxFileSize,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CharsetByName resolves the charset names accepted in configuration
func CharsetByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cp850", "ibm850", "850":
		return charmap.CodePage850, nil
	case "cp437", "ibm437", "437":
		return charmap.CodePage437, nil
	case "iso-8859-1", "iso8859-1", "latin1":
		return charmap.ISO8859_1, nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	return nil, fmt.Errorf("unknown datanorm charset %q", name)
}

// Info returns the format description
func (a *Adapter) Info() catalog.FormatInfo {
	return catalog.FormatInfo{
		ID:          FormatID,
		Name:        "Datanorm",
		Extensions:  []string{".dat", ".001", ".dn4", ".dn5"},
		Description: "Datanorm 3 fixed-width and Datanorm 4/5 semicolon wholesale catalogs",
	}
}

// Detect looks for a V header record, then for A article records
func (a *Adapter) Detect(head []byte, _ string) catalog.Confidence {
	head = bytes.TrimPrefix(head, utf8BOM)
	first := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		first = head[:i]
	}
	first = bytes.TrimRight(first, "\r")

	switch {
	case delimitedHeader.Match(first):
		return catalog.ConfidenceHigh
	case len(first) >= 125 && first[0] == 'V' && first[1] == ' ':
		if v := versionFromCode(string(first[123:min(126, len(first))])); v == "3" || v == "4" || v == "5" {
			return catalog.ConfidenceHigh
		}
	}
	if articleLine.Match(head) {
		return catalog.ConfidenceMedium
	}
	return catalog.ConfidenceNone
}

// Parse reads the file line by line. An article is held until the next A
// record or EOF so that its B record can enrich it.
func (a *Adapter) Parse(ctx context.Context, r io.Reader, meta catalog.CatalogMetadata, handle catalog.EntityHandler) (*catalog.ImportResult, error) {
	b := catalog.NewResultBuilder(a.Info(), handle)
	b.SetMaxIssues(a.maxIssues)

	in, err := a.decode(catalog.NewSizeLimitedReader(r, a.maxSize))
	if err != nil {
		return b.Result(), a.readFailure(b, err, 0)
	}

	s := &session{adapter: a, b: b, meta: meta, unsupported: make(map[byte]bool)}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		s.line++
		if s.line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return b.Result(), err
			}
		}
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := s.record(ctx, text); err != nil {
			return b.Result(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return b.Result(), a.readFailure(b, err, s.line+1)
	}
	if err := ctx.Err(); err != nil {
		return b.Result(), err
	}
	if err := s.flush(ctx); err != nil {
		return b.Result(), err
	}
	if s.line == 0 {
		b.Issue(catalog.Warning(catalog.CodeMissingHeader, "catalog file is empty"))
	}

	b.SetVersion(s.version())
	result := b.Result()
	a.logger.Debug("datanorm catalog parsed",
		zap.String("version", result.Version),
		zap.Int("lines", s.line),
		zap.Int("valid", result.ValidCount),
		zap.Int("skipped", result.SkippedCount),
	)
	return result, nil
}

// decode picks UTF-8 when the sniffed bytes contain valid multi-byte text,
// otherwise the legacy charset. Pure ASCII is decoded with the legacy
// charset, which leaves it unchanged.
func (a *Adapter) decode(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	if bytes.HasPrefix(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		return br, nil
	}
	if len(head) == sniffSize {
		head = trimPartialRune(head)
	}
	if !isASCII(head) && utf8.Valid(head) {
		return br, nil
	}
	return transform.NewReader(br, a.charset.NewDecoder()), nil
}

func (a *Adapter) readFailure(b *catalog.ResultBuilder, err error, line int) error {
	switch {
	case errors.Is(err, catalog.ErrFileTooLarge):
		b.Issue(catalog.Critical(catalog.CodeFileTooLarge, fmt.Sprintf("catalog exceeds %d bytes", a.maxSize)))
		return err
	case errors.Is(err, bufio.ErrTooLong):
		b.Issue(catalog.Critical(catalog.CodeMalformedRow,
			fmt.Sprintf("line is longer than %d bytes", maxLineLength)).AtLine(line))
		return fmt.Errorf("%w: %v", catalog.ErrMalformedDocument, err)
	}
	return fmt.Errorf("read datanorm: %w", err)
}

// session is the state of one Parse call
type session struct {
	adapter *Adapter
	b       *catalog.ResultBuilder
	meta    catalog.CatalogMetadata

	line        int
	layout      Layout
	hdr         *header
	warnedHdr   bool
	unsupported map[byte]bool

	pending     *articleRecord
	pendingLine int
	extra       *extraRecord
}

func (s *session) version() string {
	switch {
	case s.hdr != nil && s.hdr.version != "":
		return s.hdr.version
	case s.layout == LayoutFixed:
		return defaultVersionFixed
	case s.layout == LayoutDelimited:
		return defaultVersionDelimited
	}
	return ""
}

func (s *session) record(ctx context.Context, text string) error {
	kind := text[0]
	if kind >= 'a' && kind <= 'z' {
		kind -= 'a' - 'A'
	}
	if s.layout == 0 {
		s.layout = LayoutFixed
		if len(text) > 1 && text[1] == ';' {
			s.layout = LayoutDelimited
		}
	}

	var fields []string
	var runes []rune
	if s.layout == LayoutDelimited {
		fields = strings.Split(text, ";")
	} else {
		runes = []rune(text)
	}

	switch kind {
	case 'V':
		if s.hdr == nil {
			h := parseHeaderFixed(runes)
			if fields != nil {
				h = parseHeaderDelimited(fields)
			}
			s.hdr = &h
		}
		return nil
	case 'A':
		s.requireHeader()
		if err := s.flush(ctx); err != nil {
			return err
		}
		var rec articleRecord
		var err error
		if fields != nil {
			rec, err = parseArticleDelimited(fields)
		} else {
			rec, err = parseArticleFixed(runes)
		}
		if err != nil {
			s.b.Skip(catalog.Warning(catalog.CodeMalformedRow, err.Error()).AtLine(s.line))
			return nil
		}
		if rec.flag == 'L' {
			s.b.Skip(catalog.Warning(catalog.CodeDeletionRecord,
				fmt.Sprintf("article %s is marked for deletion and was not imported", rec.artNo)).AtLine(s.line))
			return nil
		}
		s.pending = &rec
		s.pendingLine = s.line
		return nil
	case 'B':
		if fields == nil {
			s.unsupportedRecord(kind)
			return nil
		}
		extra := parseExtraDelimited(fields)
		if s.pending == nil || s.pending.artNo != extra.artNo {
			s.b.Issue(catalog.Warning(catalog.CodeUnsupportedRecord,
				fmt.Sprintf("B record for article %s does not follow its A record", extra.artNo)).AtLine(s.line))
			return nil
		}
		s.extra = &extra
		return nil
	}
	s.unsupportedRecord(kind)
	return nil
}

func (s *session) requireHeader() {
	if s.hdr != nil || s.warnedHdr {
		return
	}
	s.warnedHdr = true
	s.b.Issue(catalog.Warning(catalog.CodeMissingHeader, "no V header record before the first article, currency defaults to EUR").
		AtLine(s.line).
		WithSuggestion("start the file with the supplier's V record"))
}

func (s *session) unsupportedRecord(kind byte) {
	if s.unsupported[kind] {
		return
	}
	s.unsupported[kind] = true
	s.b.Issue(catalog.Warning(catalog.CodeUnsupportedRecord,
		fmt.Sprintf("record type %c is not imported", kind)).AtLine(s.line))
}

// flush emits the pending article
func (s *session) flush(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}
	rec, extra := s.pending, s.extra
	s.pending, s.extra = nil, nil

	e := catalog.CatalogEntity{
		ExternalID: rec.artNo,
		SupplierID: s.meta.SupplierID,
		Name:       rec.name(),
		Unit:       rec.unit,
		ListPrice:  rec.price,
	}
	if s.hdr != nil {
		e.Currency = s.hdr.currency
	}
	e.SetExtension("datanorm_version", s.version())
	e.SetExtension("price_type", rec.priceType())
	if rec.hasPrice {
		e.SetExtension("price_unit", strconv.Itoa(rec.priceUnit))
	}
	e.SetExtension("discount_group", rec.discountGroup)
	e.SetExtension("product_group", rec.productGroup)
	e.SetExtension("text_key", rec.textKey)
	e.SetExtension("long_text_key", rec.longTextKey)
	if extra != nil {
		e.EAN = extra.ean
		e.ManufacturerPartNumber = extra.manufacturerRef
		e.SetExtension("matchcode", extra.matchcode)
		e.SetExtension("alt_article_no", extra.altArtNo)
		e.SetExtension("pack_quantity", extra.packQty)
		if extra.productGroup != "" {
			e.SetExtension("product_group", extra.productGroup)
		}
	}
	return s.b.Emit(ctx, e, s.pendingLine)
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
