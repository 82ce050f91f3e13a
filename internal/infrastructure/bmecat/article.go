package bmecat

import (
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// maxFieldBytes bounds the text kept for a single article field
const maxFieldBytes = 64 * 1024

// field identifies an article value captured from a leaf element
type field int

const (
	fieldNone field = iota
	fieldID
	fieldShort
	fieldLong
	fieldEAN
	fieldMfrPart
	fieldMfrName
	fieldUnit
	fieldBuyerID
	fieldDelivery
	fieldPriceAmount
	fieldPriceCurrency
	fieldCount
)

// articleFields maps leaf element names to article values. 1.2 and 2005
// spellings share a slot.
var articleFields = map[string]field{
	"SUPPLIER_AID":      fieldID,
	"SUPPLIER_PID":      fieldID,
	"DESCRIPTION_SHORT": fieldShort,
	"DESCRIPTION_LONG":  fieldLong,
	"EAN":               fieldEAN,
	"MANUFACTURER_AID":  fieldMfrPart,
	"MANUFACTURER_PID":  fieldMfrPart,
	"MANUFACTURER_NAME": fieldMfrName,
	"ORDER_UNIT":        fieldUnit,
	"BUYER_AID":         fieldBuyerID,
	"BUYER_PID":         fieldBuyerID,
	"DELIVERY_TIME":     fieldDelivery,
	"PRICE_AMOUNT":      fieldPriceAmount,
	"PRICE_CURRENCY":    fieldPriceCurrency,
}

// price preference: lower rank wins
func priceRank(priceType string) int {
	switch strings.ToLower(priceType) {
	case "net_list":
		return 0
	case "net_customer":
		return 1
	}
	return 2
}

type priceCandidate struct {
	priceType string
	amount    string
	currency  string
	rank      int
	set       bool
}

// articleBuffer accumulates one article. It is reused for every article in
// the document, so per-record cost does not grow with document size.
type articleBuffer struct {
	values [fieldCount]string
	line   int
	mode   string

	current priceCandidate
	best    priceCandidate

	truncated bool
	text      strings.Builder
}

func (a *articleBuffer) reset(line int, mode string) {
	a.values = [fieldCount]string{}
	a.line = line
	a.mode = mode
	a.current = priceCandidate{}
	a.best = priceCandidate{}
	a.truncated = false
	a.text.Reset()
}

// appendText adds character data for the field being captured
func (a *articleBuffer) appendText(data []byte) {
	if room := maxFieldBytes - a.text.Len(); len(data) > room {
		data = data[:max(room, 0)]
		a.truncated = true
	}
	a.text.Write(data)
}

// commit stores the captured text. The first occurrence of a field wins,
// except price values which belong to the current price candidate.
func (a *articleBuffer) commit(f field) {
	v := strings.TrimSpace(a.text.String())
	a.text.Reset()
	switch f {
	case fieldPriceAmount:
		if a.current.amount == "" {
			a.current.amount = v
		}
	case fieldPriceCurrency:
		if a.current.currency == "" {
			a.current.currency = v
		}
	default:
		if a.values[f] == "" {
			a.values[f] = v
		}
	}
}

func (a *articleBuffer) startPrice(priceType string) {
	a.current = priceCandidate{priceType: priceType, rank: priceRank(priceType), set: true}
}

func (a *articleBuffer) endPrice() {
	if !a.current.set || a.current.amount == "" {
		return
	}
	if !a.best.set || a.current.rank < a.best.rank {
		a.best = a.current
	}
	a.current = priceCandidate{}
}

// entity builds the catalog entity. A non-nil issue means the price could
// not be parsed and the article must be skipped.
func (a *articleBuffer) entity(supplierID, defaultCurrency, version string) (catalog.CatalogEntity, *catalog.ValidationIssue) {
	e := catalog.CatalogEntity{
		ExternalID:             a.values[fieldID],
		SupplierID:             supplierID,
		Name:                   a.values[fieldShort],
		Description:            a.values[fieldLong],
		EAN:                    a.values[fieldEAN],
		ManufacturerPartNumber: a.values[fieldMfrPart],
		ManufacturerName:       a.values[fieldMfrName],
		Unit:                   a.values[fieldUnit],
		Currency:               defaultCurrency,
	}
	e.SetExtension("bmecat_version", version)
	e.SetExtension("buyer_id", a.values[fieldBuyerID])
	e.SetExtension("delivery_time", a.values[fieldDelivery])

	if a.best.set {
		price, err := decimal.NewFromString(a.best.amount)
		if err != nil {
			issue := catalog.Warning(catalog.CodeInvalidPrice, "price amount "+a.best.amount+" is not a number").
				AtLine(a.line).OnField("PRICE_AMOUNT")
			return e, &issue
		}
		e.ListPrice = price
		e.SetExtension("price_type", a.best.priceType)
		if a.best.currency != "" {
			e.Currency = a.best.currency
		}
	}
	return e, nil
}
