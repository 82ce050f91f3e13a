package datanorm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Layout is the physical record layout of a Datanorm file
type Layout int

const (
	// LayoutFixed is the 128-column Datanorm 3 layout
	LayoutFixed Layout = iota + 3
	// LayoutDelimited is the semicolon-separated Datanorm 4/5 layout
	LayoutDelimited
)

// header is the content of a V record
type header struct {
	version  string
	date     string
	info     []string
	currency string
}

// articleRecord is the content of an A record
type articleRecord struct {
	flag          byte
	artNo         string
	textKey       string
	short1        string
	short2        string
	priceFlag     string
	priceUnit     int
	unit          string
	price         decimal.Decimal
	hasPrice      bool
	discountGroup string
	productGroup  string
	longTextKey   string
}

// name joins both short text lines
func (a articleRecord) name() string {
	return strings.TrimSpace(strings.TrimSpace(a.short1) + " " + strings.TrimSpace(a.short2))
}

// priceType maps the price flag to gross or net
func (a articleRecord) priceType() string {
	switch a.priceFlag {
	case "1":
		return "gross"
	case "2":
		return "net"
	}
	return ""
}

// extraRecord is the content of a Datanorm 4/5 B record
type extraRecord struct {
	artNo           string
	matchcode       string
	altArtNo        string
	ean             string
	productGroup    string
	packQty         string
	manufacturerRef string
}

// fixed slices a rune line by 0-based half-open column range
func fixed(line []rune, from, to int) string {
	if from >= len(line) {
		return ""
	}
	to = min(to, len(line))
	return strings.TrimSpace(string(line[from:to]))
}

// field returns the trimmed i-th field or ""
func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

// versionFromCode turns "040", "04" or "4" into "4"
func versionFromCode(code string) string {
	code = strings.TrimLeft(strings.TrimSpace(code), "0")
	if len(code) > 1 && strings.HasSuffix(code, "0") {
		code = code[:len(code)-1]
	}
	return code
}

func parseHeaderDelimited(fields []string) header {
	return header{
		version:  versionFromCode(field(fields, 1)),
		date:     field(fields, 2),
		info:     []string{field(fields, 3), field(fields, 4), field(fields, 5)},
		currency: strings.ToUpper(field(fields, 6)),
	}
}

func parseHeaderFixed(line []rune) header {
	return header{
		version: versionFromCode(fixed(line, 123, 126)),
		date:    fixed(line, 2, 8),
		info:    []string{fixed(line, 8, 48), fixed(line, 48, 88), fixed(line, 88, 123)},
	}
}

// parsePrice converts a price in cents with a price unit exponent into the
// price of one unit
func parsePrice(raw, unit string) (decimal.Decimal, int, bool, error) {
	pu := 0
	if unit = strings.TrimSpace(unit); unit != "" {
		n, err := strconv.Atoi(unit)
		if err != nil || n < 0 || n > 3 {
			return decimal.Zero, 0, false, fmt.Errorf("price unit %q must be 0 to 3", unit)
		}
		pu = n
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, pu, false, nil
	}
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Zero, pu, false, fmt.Errorf("price %q is not a whole number of cents", raw)
	}
	return decimal.NewFromInt(cents).Shift(int32(-2 - pu)), pu, true, nil
}

func parseArticleDelimited(fields []string) (articleRecord, error) {
	if len(fields) < 10 {
		return articleRecord{}, fmt.Errorf("A record has %d fields, at least 10 expected", len(fields))
	}
	a := articleRecord{
		artNo:         field(fields, 2),
		textKey:       field(fields, 3),
		short1:        field(fields, 4),
		short2:        field(fields, 5),
		priceFlag:     field(fields, 6),
		unit:          field(fields, 8),
		discountGroup: field(fields, 10),
		productGroup:  field(fields, 11),
		longTextKey:   field(fields, 12),
	}
	if f := field(fields, 1); f != "" {
		a.flag = strings.ToUpper(f)[0]
	}
	price, pu, ok, err := parsePrice(field(fields, 9), field(fields, 7))
	if err != nil {
		return articleRecord{}, err
	}
	a.price, a.priceUnit, a.hasPrice = price, pu, ok
	return a, nil
}

func parseArticleFixed(line []rune) (articleRecord, error) {
	if len(line) < 112 {
		return articleRecord{}, fmt.Errorf("A record has %d columns, at least 112 expected", len(line))
	}
	a := articleRecord{
		artNo:         fixed(line, 2, 17),
		textKey:       fixed(line, 17, 18),
		short1:        fixed(line, 18, 58),
		short2:        fixed(line, 58, 98),
		priceFlag:     fixed(line, 98, 99),
		unit:          fixed(line, 100, 104),
		discountGroup: fixed(line, 112, 116),
		productGroup:  fixed(line, 116, 119),
		longTextKey:   fixed(line, 119, 127),
	}
	if f := fixed(line, 1, 2); f != "" {
		a.flag = strings.ToUpper(f)[0]
	}
	price, pu, ok, err := parsePrice(fixed(line, 104, 112), fixed(line, 99, 100))
	if err != nil {
		return articleRecord{}, err
	}
	a.price, a.priceUnit, a.hasPrice = price, pu, ok
	return a, nil
}

func parseExtraDelimited(fields []string) extraRecord {
	return extraRecord{
		artNo:           field(fields, 2),
		matchcode:       field(fields, 3),
		altArtNo:        field(fields, 4),
		ean:             field(fields, 8),
		productGroup:    field(fields, 10),
		packQty:         field(fields, 12),
		manufacturerRef: field(fields, 13),
	}
}
