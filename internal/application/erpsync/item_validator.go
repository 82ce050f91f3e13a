package syncapp

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ArticlePayload is the wire shape of a synchronized article
type ArticlePayload struct {
	ID          string          `json:"id" validate:"required,max=255"`
	RowVersion  *int64          `json:"rowVersion,omitempty" validate:"omitempty,min=1"`
	Deleted     bool            `json:"deleted,omitempty"`
	SupplierID  string          `json:"supplierId,omitempty" validate:"max=100"`
	Name        string          `json:"name" validate:"required_unless=Deleted true,max=500"`
	Description string          `json:"description,omitempty"`
	EAN         string          `json:"ean,omitempty" validate:"omitempty,numeric,min=8,max=14"`
	ListPrice   decimal.Decimal `json:"listPrice" validate:"gte=0"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Unit        string          `json:"unit,omitempty" validate:"max=20"`
}

// CustomerPayload is the wire shape of a synchronized customer
type CustomerPayload struct {
	ID          string `json:"id" validate:"required,max=255"`
	RowVersion  *int64 `json:"rowVersion,omitempty" validate:"omitempty,min=1"`
	Deleted     bool   `json:"deleted,omitempty"`
	Name        string `json:"name" validate:"required_unless=Deleted true,max=200"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty" validate:"max=50"`
	CountryCode string `json:"countryCode,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	VATID       string `json:"vatId,omitempty" validate:"max=50"`
}

// OrderLinePayload is one line of an order
type OrderLinePayload struct {
	ArticleID string          `json:"articleId" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

// OrderPayload is the wire shape of a synchronized order
type OrderPayload struct {
	ID         string             `json:"id" validate:"required,max=255"`
	RowVersion *int64             `json:"rowVersion,omitempty" validate:"omitempty,min=1"`
	Deleted    bool               `json:"deleted,omitempty"`
	CustomerID string             `json:"customerId" validate:"required_unless=Deleted true"`
	OrderDate  *time.Time         `json:"orderDate,omitempty"`
	Currency   string             `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Lines      []OrderLinePayload `json:"lines,omitempty" validate:"dive"`
}

// ItemHeader identifies a batch item after decoding
type ItemHeader struct {
	ID         string
	RowVersion *int64
	Deleted    bool
	// SortKey is the secondary listing key, the article name for articles
	SortKey string
}

// ItemError describes why a batch item was rejected
type ItemError struct {
	Field   string
	Message string
}

func (e *ItemError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ItemValidator decodes and validates batch items per entity type
type ItemValidator struct {
	validate *validator.Validate
}

// NewItemValidator creates a validator reporting JSON field names
func NewItemValidator() *ItemValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &ItemValidator{validate: v}
}

// Decode parses one item. With check set, the entity's field rules are
// enforced; otherwise only the identity fields are required.
func (v *ItemValidator) Decode(entityType erpsync.EntityType, raw json.RawMessage, check bool) (ItemHeader, error) {
	switch entityType {
	case erpsync.EntityArticles:
		var p ArticlePayload
		if err := v.decode(raw, &p, check); err != nil {
			return ItemHeader{}, err
		}
		return ItemHeader{ID: p.ID, RowVersion: p.RowVersion, Deleted: p.Deleted, SortKey: p.Name}, nil
	case erpsync.EntityCustomers:
		var p CustomerPayload
		if err := v.decode(raw, &p, check); err != nil {
			return ItemHeader{}, err
		}
		return ItemHeader{ID: p.ID, RowVersion: p.RowVersion, Deleted: p.Deleted, SortKey: p.Name}, nil
	case erpsync.EntityOrders:
		var p OrderPayload
		if err := v.decode(raw, &p, check); err != nil {
			return ItemHeader{}, err
		}
		h := ItemHeader{ID: p.ID, RowVersion: p.RowVersion, Deleted: p.Deleted}
		if p.OrderDate != nil {
			h.SortKey = p.OrderDate.UTC().Format(time.RFC3339)
		}
		return h, nil
	}
	return ItemHeader{}, &ItemError{Message: "unknown entity type " + string(entityType)}
}

func (v *ItemValidator) decode(raw json.RawMessage, dst any, check bool) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ItemError{Field: typeErr.Field, Message: "has the wrong type"}
		}
		return &ItemError{Message: "item is not a JSON object"}
	}
	if !check {
		if strings.TrimSpace(reflect.ValueOf(dst).Elem().FieldByName("ID").String()) == "" {
			return &ItemError{Field: "id", Message: "This field is required"}
		}
		return nil
	}
	if err := v.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ItemError{Field: fieldPath(fe), Message: validationMessage(fe)}
		}
		return &ItemError{Message: err.Error()}
	}
	return nil
}

// fieldPath drops the struct name from the namespace: lines[0].quantity
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "numeric":
		return "Must be numeric"
	case "iso3166_1_alpha2":
		return "Must be an ISO 3166-1 alpha-2 country code"
	case "uppercase":
		return "Must be upper case"
	case "len":
		return "Must be exactly " + fe.Param() + " characters"
	case "min":
		return "Must be at least " + fe.Param()
	case "max":
		return "Must be at most " + fe.Param()
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	case "gt":
		return "Must be greater than " + fe.Param()
	default:
		return "Invalid value"
	}
}
