package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// sniffSize is how much of the input is inspected for BOM, encoding and
// delimiter detection
const sniffSize = 4096

// CSVParser reads delimited records from a stream one at a time
type CSVParser struct {
	delimiter     rune
	autoDelimiter bool
	lazyQuotes    bool
	trimSpace     bool
	fallback      encoding.Encoding
	currentLine   int
	totalRows     int
	reader        *csv.Reader
	bufReader     *bufio.Reader
}

// ParserOption is a functional option for CSVParser configuration
type ParserOption func(*CSVParser)

// WithDelimiter sets the field delimiter and disables detection
func WithDelimiter(d rune) ParserOption {
	return func(p *CSVParser) {
		p.delimiter = d
		p.autoDelimiter = false
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *CSVParser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ParserOption {
	return func(p *CSVParser) {
		p.trimSpace = trim
	}
}

// WithFallbackCharset decodes non-UTF-8 input with the given legacy charset
// instead of rejecting it
func WithFallbackCharset(enc encoding.Encoding) ParserOption {
	return func(p *CSVParser) {
		p.fallback = enc
	}
}

// NewCSVParser creates a parser. Without WithDelimiter the delimiter is
// detected from the first lines.
func NewCSVParser(r io.Reader, opts ...ParserOption) (*CSVParser, error) {
	parser := &CSVParser{
		delimiter:     ',',
		autoDelimiter: true,
		lazyQuotes:    true,
		trimSpace:     true,
		fallback:      charmap.Windows1252,
	}

	for _, opt := range opts {
		opt(parser)
	}

	parser.bufReader = bufio.NewReaderSize(r, sniffSize)

	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	content, err := parser.bufReader.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if bytes.HasPrefix(content, utf8BOM) {
		_, _ = parser.bufReader.Discard(3)
	}

	head, err := parser.bufReader.Peek(sniffSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read file for encoding validation: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyFile
	}

	var src io.Reader = parser.bufReader
	if !validUTF8Prefix(head) {
		if parser.fallback == nil {
			return nil, ErrInvalidEncoding
		}
		src = transform.NewReader(parser.bufReader, parser.fallback.NewDecoder())
	}

	if parser.autoDelimiter {
		parser.delimiter = DetectDelimiter(head)
	}

	parser.reader = csv.NewReader(src)
	parser.reader.Comma = parser.delimiter
	parser.reader.LazyQuotes = parser.lazyQuotes
	parser.reader.TrimLeadingSpace = parser.trimSpace
	parser.reader.FieldsPerRecord = -1 // Allow variable number of fields
	parser.reader.ReuseRecord = false

	return parser, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// validUTF8Prefix checks UTF-8 validity, tolerating a rune cut at the end
// of the peeked window
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for cut := 1; cut < utf8.UTFMax && cut < len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) {
			return !utf8.FullRune(b[len(b)-cut:])
		}
	}
	return false
}

// Record is one parsed line with its 1-based line number
type Record struct {
	LineNumber int
	Fields     []string
}

// IsEmpty returns true if the record has no non-empty values
func (r *Record) IsEmpty() bool {
	for _, v := range r.Fields {
		if v != "" {
			return false
		}
	}
	return true
}

// Get returns field i or "" when the record is shorter
func (r *Record) Get(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// ReadRecord reads the next record. Parse errors are returned as *csv.ParseError
// wrapped with the line number; the parser stays usable afterwards.
func (p *CSVParser) ReadRecord() (*Record, error) {
	fields, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		line := p.currentLine + 1
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.StartLine
		}
		p.currentLine = line
		return nil, &RowError{Row: line, Code: ErrCodeImportMalformedRow, Message: err.Error()}
	}

	line, _ := p.reader.FieldPos(0)
	p.currentLine = line
	p.totalRows++
	if p.trimSpace {
		for i := range fields {
			fields[i] = trimSpaces(fields[i])
		}
	}
	return &Record{LineNumber: line, Fields: fields}, nil
}

// Delimiter returns the delimiter in use
func (p *CSVParser) Delimiter() rune {
	return p.delimiter
}

// CurrentLine returns the line number of the last record read
func (p *CSVParser) CurrentLine() int {
	return p.currentLine
}

// TotalRows returns the total number of records read
func (p *CSVParser) TotalRows() int {
	return p.totalRows
}

// ParseFromBytes creates a parser from a byte slice
func ParseFromBytes(data []byte, opts ...ParserOption) (*CSVParser, error) {
	return NewCSVParser(bytes.NewReader(data), opts...)
}

// candidateDelimiters are tried in order of preference on ties
var candidateDelimiters = []rune{',', ';', '\t'}

// DetectDelimiter picks the delimiter whose per-line count is non-zero and
// most consistent across the first complete lines. Quoted sections are
// ignored. Defaults to comma.
func DetectDelimiter(head []byte) rune {
	lines := bytes.Split(head, []byte("\n"))
	if len(lines) > 1 && !bytes.HasSuffix(head, []byte("\n")) {
		lines = lines[:len(lines)-1] // last line may be cut
	}
	if len(lines) > 20 {
		lines = lines[:20]
	}

	best := ','
	bestScore := 0
	for _, d := range candidateDelimiters {
		counts := make([]int, 0, len(lines))
		for _, l := range lines {
			if len(bytes.TrimSpace(l)) == 0 {
				continue
			}
			counts = append(counts, countUnquoted(l, d))
		}
		if len(counts) == 0 || counts[0] == 0 {
			continue
		}
		consistent := 0
		for _, c := range counts {
			if c == counts[0] {
				consistent++
			}
		}
		// consistency dominates, field count breaks ties
		score := consistent*1000 + counts[0]
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countUnquoted(line []byte, d rune) int {
	n := 0
	inQuotes := false
	for _, r := range string(line) {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			n++
		}
	}
	return n
}

// trimSpaces trims whitespace from a string
func trimSpaces(s string) string {
	start := 0
	end := len(s)

	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !isWhitespace(r) {
			break
		}
		start += size
	}

	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[:end])
		if !isWhitespace(r) {
			break
		}
		end -= size
	}

	return s[start:end]
}

// isWhitespace checks if a rune is whitespace
func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', '\u00a0':
		return true
	}
	return false
}
