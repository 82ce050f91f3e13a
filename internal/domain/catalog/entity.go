package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a catalog does not declare one
const DefaultCurrency = "EUR"

// CatalogEntity is the normalized product record every adapter produces.
type CatalogEntity struct {
	ExternalID             string            `json:"externalId"`
	SupplierID             string            `json:"supplierId"`
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	EAN                    string            `json:"ean,omitempty"`
	ManufacturerPartNumber string            `json:"manufacturerPartNumber,omitempty"`
	ManufacturerName       string            `json:"manufacturerName,omitempty"`
	ListPrice              decimal.Decimal   `json:"listPrice"`
	Currency               string            `json:"currency"`
	Unit                   string            `json:"unit,omitempty"`
	Extensions             map[string]string `json:"extensions,omitempty"`
}

// Key returns the supplier-scoped identity of the entity
func (e *CatalogEntity) Key() string {
	return e.SupplierID + "/" + e.ExternalID
}

// SetExtension stores an extension field, allocating the map on first use
func (e *CatalogEntity) SetExtension(key, value string) {
	if value == "" {
		return
	}
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[key] = value
}

// Normalize trims whitespace and fills defaults in place
func (e *CatalogEntity) Normalize() {
	e.ExternalID = strings.TrimSpace(e.ExternalID)
	e.SupplierID = strings.TrimSpace(e.SupplierID)
	e.Name = strings.TrimSpace(e.Name)
	e.Description = strings.TrimSpace(e.Description)
	e.EAN = strings.TrimSpace(e.EAN)
	e.ManufacturerPartNumber = strings.TrimSpace(e.ManufacturerPartNumber)
	e.ManufacturerName = strings.TrimSpace(e.ManufacturerName)
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	if e.Currency == "" {
		e.Currency = DefaultCurrency
	}
	if e.Name == "" && e.Description != "" {
		e.Name = firstLine(e.Description, 80)
	}
}

// Validate checks the entity and returns the issues found. skip is true when
// the record cannot be imported at all.
func (e *CatalogEntity) Validate() (issues []ValidationIssue, skip bool) {
	if e.ExternalID == "" {
		return []ValidationIssue{
			Warning(CodeMissingID, "article has no supplier article id and was skipped").
				WithSuggestion("every article needs a SUPPLIER_AID or an id column"),
		}, true
	}
	if e.ListPrice.IsNegative() {
		issues = append(issues, Warning(CodeInvalidPrice, "article "+e.ExternalID+" has a negative list price and was skipped").
			OnField("listPrice"))
		return issues, true
	}
	if e.Name == "" {
		issues = append(issues, Warning(CodeMissingName, "article "+e.ExternalID+" has no name").OnField("name"))
	}
	if e.EAN != "" && !ValidGTIN(e.EAN) {
		issues = append(issues, Warning(CodeInvalidEAN, "article "+e.ExternalID+" has an invalid EAN/GTIN "+e.EAN).
			OnField("ean").
			WithSuggestion("EAN/GTIN must have 8, 12, 13 or 14 digits and a valid check digit"))
	}
	return issues, false
}

// ValidGTIN checks length and GS1 check digit of an EAN/UPC/GTIN code
func ValidGTIN(code string) bool {
	switch len(code) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	sum := 0
	weight := 3
	for i := len(code) - 2; i >= 0; i-- {
		c := code[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * weight
		weight = 4 - weight
	}
	last := code[len(code)-1]
	if last < '0' || last > '9' {
		return false
	}
	return (10-sum%10)%10 == int(last-'0')
}

func firstLine(s string, max int) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		r = r[:max]
	}
	return strings.TrimSpace(string(r))
}
