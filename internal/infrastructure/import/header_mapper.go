package csvimport

import (
	"strings"
	"unicode"
)

// Canonical catalog fields a CSV column can map to
const (
	FieldExternalID       = "external_id"
	FieldName             = "name"
	FieldDescription      = "description"
	FieldEAN              = "ean"
	FieldManufacturerPart = "manufacturer_part_number"
	FieldManufacturerName = "manufacturer_name"
	FieldListPrice        = "list_price"
	FieldCurrency         = "currency"
	FieldUnit             = "unit"
)

// PositionalFields is the column order assumed for files without a header
var PositionalFields = []string{
	FieldExternalID, FieldName, FieldDescription, FieldEAN,
	FieldManufacturerPart, FieldListPrice, FieldCurrency,
}

// defaultAliases are normalized header spellings per field, English and German
var defaultAliases = map[string][]string{
	FieldExternalID:       {"sku", "artnr", "artikelnr", "artikelnummer", "supplieraid", "supplierpid", "articleno", "articlenumber", "productid", "itemno", "itemnumber", "id"},
	FieldName:             {"name", "title", "bezeichnung", "kurztext", "descriptionshort", "productname", "artikelname"},
	FieldDescription:      {"description", "beschreibung", "langtext", "descriptionlong", "longdescription"},
	FieldEAN:              {"ean", "gtin", "barcode", "eancode", "ean13"},
	FieldManufacturerPart: {"mpn", "manufacturerpartnumber", "herstellernummer", "herstellernr", "herstellerartikelnummer", "mfrpartno", "manufactureraid", "manufacturerpid"},
	FieldManufacturerName: {"manufacturer", "manufacturername", "hersteller", "brand", "marke"},
	FieldListPrice:        {"price", "listprice", "preis", "listenpreis", "netprice", "nettopreis", "vkpreis"},
	FieldCurrency:         {"currency", "waehrung", "curr"},
	FieldUnit:             {"unit", "einheit", "orderunit", "bestelleinheit", "me"},
}

// HeaderMapper maps arbitrary header cells to canonical fields
type HeaderMapper struct {
	aliases map[string][]string
}

// NewHeaderMapper creates a mapper with the built-in aliases plus extra ones
func NewHeaderMapper(extra map[string][]string) *HeaderMapper {
	aliases := make(map[string][]string, len(defaultAliases))
	for f, a := range defaultAliases {
		aliases[f] = append([]string(nil), a...)
	}
	for f, a := range extra {
		for _, alias := range a {
			aliases[f] = append(aliases[f], NormalizeHeader(alias))
		}
	}
	return &HeaderMapper{aliases: aliases}
}

// ColumnMapping is the result of mapping one header row
type ColumnMapping struct {
	// Fields maps column index to canonical field
	Fields map[int]string
	// Unmapped maps column index to the original header text
	Unmapped map[int]string
}

// Map resolves each header cell. A field is bound to the first column that
// matches it; later matches become unmapped extension columns.
func (m *HeaderMapper) Map(headers []string) ColumnMapping {
	mapping := ColumnMapping{Fields: make(map[int]string), Unmapped: make(map[int]string)}
	taken := make(map[string]bool)
	for i, h := range headers {
		field, ok := m.Match(h)
		if ok && !taken[field] {
			mapping.Fields[i] = field
			taken[field] = true
			continue
		}
		if strings.TrimSpace(h) != "" {
			mapping.Unmapped[i] = strings.TrimSpace(h)
		}
	}
	return mapping
}

// Match finds the canonical field for one header cell: exact alias first,
// then alias prefix, then a small Levenshtein distance.
func (m *HeaderMapper) Match(header string) (string, bool) {
	n := NormalizeHeader(header)
	if n == "" {
		return "", false
	}

	for _, field := range fieldOrder {
		for _, a := range m.aliases[field] {
			if n == a {
				return field, true
			}
		}
	}
	for _, field := range fieldOrder {
		for _, a := range m.aliases[field] {
			if len(a) >= 4 && strings.HasPrefix(n, a) {
				return field, true
			}
		}
	}

	// short aliases tolerate one edit, long ones two
	bestField, bestDist := "", 3
	for _, field := range fieldOrder {
		for _, a := range m.aliases[field] {
			if len(a) < 5 {
				continue
			}
			limit := 2
			if len(a) >= 8 {
				limit = 3
			}
			if d := levenshtein(n, a, limit); d < limit && d < bestDist {
				bestField, bestDist = field, d
			}
		}
	}
	return bestField, bestField != ""
}

// fieldOrder fixes match precedence so results are deterministic
var fieldOrder = []string{
	FieldExternalID, FieldEAN, FieldManufacturerPart, FieldManufacturerName,
	FieldListPrice, FieldCurrency, FieldUnit, FieldName, FieldDescription,
}

// NormalizeHeader lowercases, transliterates German umlauts and drops every
// character that is not a letter or digit
func NormalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		switch r {
		case 'ä':
			b.WriteString("ae")
		case 'ö':
			b.WriteString("oe")
		case 'ü':
			b.WriteString("ue")
		case 'ß':
			b.WriteString("ss")
		default:
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// LooksLikeHeader reports whether a first row is a header. A row with a
// numeric cell needs two cells that map to known fields; a row without one
// is taken as a header.
func (m *HeaderMapper) LooksLikeHeader(cells []string) bool {
	matches := 0
	numeric := false
	for _, c := range cells {
		if _, ok := m.Match(c); ok {
			matches++
		}
		if strings.TrimSpace(c) != "" && isNumberish(c) {
			numeric = true
		}
	}
	if numeric {
		return matches >= 2
	}
	return true
}

func isNumberish(s string) bool {
	for _, r := range strings.TrimSpace(s) {
		if !(unicode.IsDigit(r) || r == '.' || r == ',' || r == '-') {
			return false
		}
	}
	return true
}

// levenshtein computes edit distance, giving up once it reaches limit
func levenshtein(a, b string, limit int) int {
	if d := len(a) - len(b); d >= limit || -d >= limit {
		return limit
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin >= limit {
			return limit
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
