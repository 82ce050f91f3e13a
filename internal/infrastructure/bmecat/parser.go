package bmecat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"
)

// ctxCheckInterval is the number of tokens read between cancellation checks
// outside article boundaries
const ctxCheckInterval = 1000

type ruleSet struct {
	SchemaRules
	header  *ruleChecker
	article *ruleChecker
}

func newRuleSet(r SchemaRules) *ruleSet {
	return &ruleSet{
		SchemaRules: r,
		header:      newRuleChecker(r.RequiredHeader),
		article:     newRuleChecker(r.RequiredArticle),
	}
}

// parser holds the state of one streaming pass
type parser struct {
	adapter *Adapter
	meta    catalog.CatalogMetadata
	b       *catalog.ResultBuilder
	dec     *xml.Decoder
	logger  *zap.Logger

	version string
	rules   []*ruleSet
	path    []string
	tokens  int

	inHeader      bool
	headerDone    bool
	headerFlagged bool
	headerTarget  *string
	supplierID    string
	catalogID     string
	currency      string

	transaction    string
	sawTransaction bool

	article      articleBuffer
	inArticle    bool
	articleDepth int
	capture      field
	captureDepth int

	measuring     string
	measuredDepth int
	measured      int
}

func newParser(a *Adapter, meta catalog.CatalogMetadata, handle catalog.EntityHandler) *parser {
	b := catalog.NewResultBuilder(a.Info(), handle)
	b.SetMaxIssues(a.maxIssues)
	return &parser{
		adapter: a,
		meta:    meta,
		b:       b,
		logger:  a.logger,
		path:    make([]string, 0, 16),
	}
}

func (p *parser) run(ctx context.Context, r io.Reader) (*catalog.ImportResult, error) {
	if p.meta.CustomSchemaPath != "" {
		if err := p.loadCustomRules(); err != nil {
			return p.b.Result(), err
		}
	}

	br := bufio.NewReader(catalog.NewSizeLimitedReader(r, p.adapter.maxSize))
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	p.dec = xml.NewDecoder(newEntityGuard(br, MaxEntityChars))
	p.dec.Strict = true
	p.dec.CharsetReader = charsetReader

	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return p.b.Result(), p.fatal(err)
		}

		p.tokens++
		if p.tokens%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return p.b.Result(), err
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			err = p.start(ctx, t)
		case xml.EndElement:
			err = p.end(ctx, t)
		case xml.CharData:
			p.chars(t)
		case xml.Directive:
			if isDoctype(t) {
				p.b.Issue(catalog.Critical(catalog.CodeDTDProhibited, "DOCTYPE declarations are not allowed").
					AtLine(p.line()).
					WithSuggestion("remove the DOCTYPE declaration from the catalog"))
				return p.b.Result(), fmt.Errorf("%w: DOCTYPE is prohibited", catalog.ErrMalformedDocument)
			}
		}
		if err != nil {
			return p.b.Result(), err
		}
	}

	if err := p.finish(); err != nil {
		return p.b.Result(), err
	}

	result := p.b.Result()
	p.logger.Debug("bmecat catalog parsed",
		zap.String("version", p.version),
		zap.Int("total", result.TotalCount),
		zap.Int("valid", result.ValidCount),
		zap.Int("skipped", result.SkippedCount),
	)
	return result, nil
}

func (p *parser) loadCustomRules() error {
	path, err := resolveSchemaPath(p.adapter.schemaDir, p.meta.CustomSchemaPath)
	if err == nil {
		var rules SchemaRules
		if rules, err = LoadSchemaRules(path); err == nil {
			p.rules = append(p.rules, newRuleSet(rules))
			return nil
		}
	}
	p.b.Issue(catalog.Critical(catalog.CodeSchemaViolation, "custom schema rules could not be loaded").
		OnField("customSchemaPath").
		WithSuggestion("check the schema path and file syntax"))
	return fmt.Errorf("%w: custom schema: %v", shared.ErrInvalidInput, err)
}

// fatal records an unrecoverable read or syntax error and returns the error
// to hand back to the caller
func (p *parser) fatal(err error) error {
	switch {
	case errors.Is(err, catalog.ErrFileTooLarge):
		p.b.Issue(catalog.Critical(catalog.CodeFileTooLarge,
			fmt.Sprintf("document exceeds %d bytes", p.adapter.maxSize)))
		return err
	case errors.Is(err, errEntityLimit):
		p.b.Issue(catalog.Critical(catalog.CodeMalformedXML,
			fmt.Sprintf("more than %d characters drawn from entity references", MaxEntityChars)).AtLine(p.line()))
		return fmt.Errorf("%w: %v", catalog.ErrMalformedDocument, err)
	}

	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		p.b.Issue(catalog.Critical(catalog.CodeMalformedXML, syntaxErr.Msg).
			AtLine(syntaxErr.Line).
			WithSuggestion("the document is not well-formed XML; fix it and upload again"))
		return fmt.Errorf("%w: line %d: %s", catalog.ErrMalformedDocument, syntaxErr.Line, syntaxErr.Msg)
	}

	p.b.Issue(catalog.Critical(catalog.CodeMalformedXML, err.Error()).AtLine(p.line()))
	return fmt.Errorf("%w: %v", catalog.ErrMalformedDocument, err)
}

func (p *parser) start(ctx context.Context, t xml.StartElement) error {
	name := t.Name.Local
	p.path = append(p.path, name)
	depth := len(p.path)
	if depth == 1 {
		return p.root(t)
	}

	p.measureStart(name, depth)

	switch {
	case depth == 2 && name == "HEADER":
		p.inHeader = true
	case p.inHeader:
		p.headerElement(name, depth)
	case depth == 2 && transactionElements[name]:
		p.transaction = name
		p.sawTransaction = true
		if !p.headerDone {
			p.flagMissingHeader()
		}
	case depth == 3 && p.transaction != "" && (name == "ARTICLE" || name == "PRODUCT"):
		return p.startArticle(ctx, t, depth)
	case p.inArticle:
		p.articleElement(t, depth)
	}
	return nil
}

func (p *parser) root(t xml.StartElement) error {
	if t.Name.Local != "BMECAT" {
		p.b.Issue(catalog.Critical(catalog.CodeSchemaViolation,
			fmt.Sprintf("root element is %s, expected BMECAT", t.Name.Local)).AtLine(p.line()))
		return fmt.Errorf("%w: root element %s", catalog.ErrMalformedDocument, t.Name.Local)
	}

	v := versionFromRoot(attr(t, "version"), t.Name.Space)
	if !IsSupported(v) {
		msg := "BMEcat version could not be determined"
		if v != "" {
			msg = fmt.Sprintf("BMEcat version %s is not supported", v)
		}
		p.b.Issue(catalog.Critical(catalog.CodeUnknownVersion, msg).
			AtLine(p.line()).
			WithSuggestion(`declare version="1.2", "2005", "2005.1" or "2005.2" on the BMECAT element`))
		return fmt.Errorf("%w: %q", catalog.ErrUnsupportedVersion, v)
	}

	p.version = v
	p.b.SetVersion(v)
	if declared := normalizeVersion(p.meta.DeclaredVersion); declared != "" && declared != v {
		p.schemaIssue(catalog.Warning(catalog.CodeSchemaViolation,
			fmt.Sprintf("declared version %s does not match document version %s, using %s", declared, v, v)))
	}
	p.rules = append([]*ruleSet{newRuleSet(BuiltinRules(v))}, p.rules...)
	return nil
}

func (p *parser) headerElement(name string, depth int) {
	observed := name
	if name == "SUPPLIER_IDREF" && is2005(p.version) {
		observed = "SUPPLIER_ID"
	}
	for _, rs := range p.rules {
		rs.header.observe(observed)
	}

	parent := p.path[depth-2]
	switch {
	case name == "SUPPLIER_ID" && parent == "SUPPLIER",
		name == "SUPPLIER_IDREF" && (parent == "HEADER" || parent == "SUPPLIER"):
		p.captureHeader(&p.supplierID, depth)
	case name == "CATALOG_ID" && parent == "CATALOG":
		p.captureHeader(&p.catalogID, depth)
	case name == "CURRENCY" && parent == "CATALOG":
		p.captureHeader(&p.currency, depth)
	}
}

func (p *parser) captureHeader(target *string, depth int) {
	if *target != "" {
		return
	}
	p.headerTarget = target
	p.captureDepth = depth
	p.article.text.Reset()
}

func (p *parser) closeHeader() {
	p.inHeader = false
	p.headerDone = true

	for _, rs := range p.rules {
		for _, m := range rs.header.missing() {
			p.schemaIssue(catalog.NewIssue(catalog.CodeSchemaViolation, rs.Severity,
				fmt.Sprintf("HEADER is missing required element %s", m)).OnField("HEADER/" + m))
		}
	}

	sev := p.meta.MismatchSeverity()
	if p.meta.SupplierID != "" && p.supplierID != "" && p.meta.SupplierID != p.supplierID {
		p.b.Issue(catalog.SupplierMismatch(p.meta.SupplierID, p.supplierID, sev))
	}
	if p.meta.CatalogID != "" && p.catalogID != "" && p.meta.CatalogID != p.catalogID {
		p.b.Issue(catalog.CatalogMismatch(p.meta.CatalogID, p.catalogID, sev))
	}
}

func (p *parser) flagMissingHeader() {
	if p.headerFlagged {
		return
	}
	p.headerFlagged = true
	p.schemaIssue(catalog.Error(catalog.CodeSchemaViolation, "HEADER is required before the catalog transaction").
		AtLine(p.line()).OnField("HEADER"))
}

func (p *parser) startArticle(ctx context.Context, t xml.StartElement, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.inArticle = true
	p.articleDepth = depth
	p.article.reset(p.line(), attr(t, "mode"))
	for _, rs := range p.rules {
		rs.article.reset()
	}
	return nil
}

func (p *parser) articleElement(t xml.StartElement, depth int) {
	name := t.Name.Local
	for _, rs := range p.rules {
		rs.article.observe(name)
	}

	switch name {
	case "ARTICLE_PRICE", "PRODUCT_PRICE":
		p.article.startPrice(attr(t, "price_type"))
	case "INTERNATIONAL_PID":
		switch strings.ToLower(attr(t, "type")) {
		case "gtin", "ean":
			p.beginCapture(fieldEAN, depth)
		}
	default:
		f, ok := articleFields[name]
		if !ok || (f == fieldID && depth != p.articleDepth+1) {
			return
		}
		p.beginCapture(f, depth)
	}
}

func (p *parser) beginCapture(f field, depth int) {
	p.capture = f
	p.captureDepth = depth
	p.article.text.Reset()
}

func (p *parser) chars(data xml.CharData) {
	if p.capture != fieldNone || p.headerTarget != nil {
		p.article.appendText(data)
	}
	if p.measuring != "" {
		p.measured += utf8.RuneCount(data)
	}
}

func (p *parser) end(ctx context.Context, t xml.EndElement) error {
	name := t.Name.Local
	depth := len(p.path)
	defer func() { p.path = p.path[:depth-1] }()

	p.measureEnd(name, depth)

	if depth == p.captureDepth {
		switch {
		case p.headerTarget != nil:
			if *p.headerTarget == "" {
				*p.headerTarget = strings.TrimSpace(p.article.text.String())
			}
			p.article.text.Reset()
			p.headerTarget = nil
		case p.capture != fieldNone:
			p.article.commit(p.capture)
			p.capture = fieldNone
		}
	}

	switch {
	case p.inArticle && depth == p.articleDepth:
		return p.flushArticle(ctx)
	case p.inArticle && (name == "ARTICLE_PRICE" || name == "PRODUCT_PRICE"):
		p.article.endPrice()
	case depth == 2 && name == "HEADER":
		p.closeHeader()
	case depth == 2 && transactionElements[name]:
		p.transaction = ""
	}
	return nil
}

func (p *parser) flushArticle(ctx context.Context) error {
	p.inArticle = false
	a := &p.article

	if p.transaction != "T_UPDATE_PRICES" {
		for _, rs := range p.rules {
			for _, m := range rs.article.missing() {
				p.schemaIssue(catalog.NewIssue(catalog.CodeSchemaViolation, rs.ArticleSeverity,
					fmt.Sprintf("article %s is missing required element %s", a.values[fieldID], m)).
					AtLine(a.line).OnField(p.path[p.articleDepth-1] + "/" + m))
			}
		}
	}
	if a.truncated {
		p.b.Issue(catalog.Warning(catalog.CodeSchemaViolation,
			fmt.Sprintf("article %s has text longer than %d bytes, truncated", a.values[fieldID], maxFieldBytes)).AtLine(a.line))
	}

	if strings.EqualFold(a.mode, "delete") {
		p.b.Skip(catalog.Warning(catalog.CodeDeletionRecord,
			fmt.Sprintf("article %s is marked for deletion and was not imported", a.values[fieldID])).AtLine(a.line))
		return nil
	}

	supplier := p.meta.SupplierID
	if supplier == "" {
		supplier = p.supplierID
	}
	entity, issue := a.entity(supplier, p.currency, p.version)
	if issue != nil {
		p.b.Skip(*issue)
		return nil
	}
	return p.b.Emit(ctx, entity, a.line)
}

func (p *parser) measureStart(name string, depth int) {
	for _, rs := range p.rules {
		if rs.MaxLength[name] > 0 {
			p.measuring = name
			p.measuredDepth = depth
			p.measured = 0
			return
		}
	}
}

func (p *parser) measureEnd(name string, depth int) {
	if p.measuring != name || p.measuredDepth != depth {
		return
	}
	p.measuring = ""
	for _, rs := range p.rules {
		if limit := rs.MaxLength[name]; limit > 0 && p.measured > limit {
			p.schemaIssue(catalog.NewIssue(catalog.CodeSchemaViolation, rs.ArticleSeverity,
				fmt.Sprintf("%s has %d characters, at most %d allowed", name, p.measured, limit)).
				AtLine(p.line()).OnField(name))
		}
	}
}

func (p *parser) finish() error {
	if p.version == "" {
		p.b.Issue(catalog.Critical(catalog.CodeMalformedXML, "document has no root element"))
		return fmt.Errorf("%w: empty document", catalog.ErrMalformedDocument)
	}
	if !p.headerDone {
		p.flagMissingHeader()
	}
	if !p.sawTransaction {
		p.schemaIssue(catalog.Error(catalog.CodeSchemaViolation,
			"document has no T_NEW_CATALOG, T_UPDATE_PRODUCTS or T_UPDATE_PRICES element"))
	}
	return nil
}

func (p *parser) schemaIssue(issue catalog.ValidationIssue) {
	p.b.Issue(issue)
	if p.adapter.onIssue != nil {
		p.adapter.onIssue(issue)
	}
}

func (p *parser) line() int {
	if p.dec == nil {
		return 0
	}
	line, _ := p.dec.InputPos()
	return line
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func isDoctype(d xml.Directive) bool {
	return bytes.HasPrefix(bytes.ToUpper(bytes.TrimSpace(d)), []byte("DOCTYPE"))
}

// charsetReader decodes legacy encodings declared in the XML prolog
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
