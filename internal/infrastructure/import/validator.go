package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a field
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeBool    FieldType = "bool"
)

// FieldRule defines validation rules for a mapped catalog field
type FieldRule struct {
	Field       string
	Type        FieldType
	Required    bool
	MinLength   int
	MaxLength   int
	MinValue    *decimal.Decimal
	MaxValue    *decimal.Decimal
	Pattern     *regexp.Regexp
	PatternDesc string
	DateFormat  string
	CustomFunc  func(value string) error
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field creates a new field rule builder
func Field(name string) *FieldRuleBuilder {
	return &FieldRuleBuilder{
		rule: FieldRule{
			Field:      name,
			Type:       TypeString,
			DateFormat: "2006-01-02",
		},
	}
}

// Required marks the field as required
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// Int sets the field type to integer
func (b *FieldRuleBuilder) Int() *FieldRuleBuilder {
	b.rule.Type = TypeInt
	return b
}

// Decimal sets the field type to a locale-tolerant decimal
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder {
	b.rule.Type = TypeDecimal
	return b
}

// Date sets the field type to date
func (b *FieldRuleBuilder) Date(format string) *FieldRuleBuilder {
	b.rule.Type = TypeDate
	if format != "" {
		b.rule.DateFormat = format
	}
	return b
}

// Bool sets the field type to boolean
func (b *FieldRuleBuilder) Bool() *FieldRuleBuilder {
	b.rule.Type = TypeBool
	return b
}

// MaxLength sets the maximum length in runes
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// MinLength sets the minimum length in runes
func (b *FieldRuleBuilder) MinLength(n int) *FieldRuleBuilder {
	b.rule.MinLength = n
	return b
}

// MinValue sets the minimum numeric value
func (b *FieldRuleBuilder) MinValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

// MaxValue sets the maximum numeric value
func (b *FieldRuleBuilder) MaxValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MaxValue = &v
	return b
}

// Pattern sets a regex pattern for validation
func (b *FieldRuleBuilder) Pattern(pattern, description string) *FieldRuleBuilder {
	b.rule.Pattern = regexp.MustCompile(pattern)
	b.rule.PatternDesc = description
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// DefaultRules are applied to every CSV catalog row
func DefaultRules() []FieldRule {
	return []FieldRule{
		Field(FieldExternalID).Required().MaxLength(64).Build(),
		Field(FieldName).MaxLength(512).Build(),
		Field(FieldListPrice).Decimal().MinValue(decimal.Zero).Build(),
		Field(FieldEAN).Pattern(`^[0-9]{8,14}$`, "8 to 14 digits").Build(),
		Field(FieldCurrency).Pattern(`^[A-Za-z]{3}$`, "ISO 4217 code").Build(),
	}
}

// FieldValidator validates mapped rows according to rules
type FieldValidator struct {
	rules []FieldRule
}

// NewFieldValidator creates a new field validator. Rules are checked in
// the order given.
func NewFieldValidator(rules []FieldRule) *FieldValidator {
	return &FieldValidator{rules: rules}
}

// ValidateRow checks all rules against the row's mapped values. The row is
// importable when no returned error is blocking.
func (v *FieldValidator) ValidateRow(line int, values map[string]string) (errs []*RowError, blocking bool) {
	for _, rule := range v.rules {
		value := values[rule.Field]

		if rule.Required && value == "" {
			errs = append(errs, NewRowError(line, rule.Field, ErrCodeImportRequiredField,
				fmt.Sprintf("field '%s' is required", rule.Field)))
			blocking = true
			continue
		}
		if value == "" {
			continue
		}

		if err := validateType(value, rule.Type, rule.DateFormat); err != nil {
			errs = append(errs, NewRowErrorWithValue(line, rule.Field, ErrCodeImportInvalidType,
				fmt.Sprintf("expected %s", rule.Type), value))
			blocking = blocking || rule.Required || rule.Type == TypeDecimal
			continue
		}

		n := len([]rune(value))
		if (rule.MaxLength > 0 && n > rule.MaxLength) || (rule.MinLength > 0 && n < rule.MinLength) {
			errs = append(errs, NewRowError(line, rule.Field, ErrCodeImportInvalidLength, lengthMessage(rule.MinLength, rule.MaxLength)))
			blocking = blocking || rule.Required
		}

		if rule.Type == TypeInt || rule.Type == TypeDecimal {
			if err := validateRange(value, rule.MinValue, rule.MaxValue); err != nil {
				errs = append(errs, NewRowErrorWithValue(line, rule.Field, ErrCodeImportInvalidRange, err.Error(), value))
				blocking = true
			}
		}

		if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
			errs = append(errs, NewRowErrorWithValue(line, rule.Field, ErrCodeImportPattern,
				fmt.Sprintf("value does not match %s", rule.PatternDesc), value))
		}

		if rule.CustomFunc != nil {
			if err := rule.CustomFunc(value); err != nil {
				errs = append(errs, NewRowErrorWithValue(line, rule.Field, ErrCodeImportInvalidType, err.Error(), value))
			}
		}
	}
	return errs, blocking
}

func lengthMessage(minLen, maxLen int) string {
	switch {
	case minLen == 0:
		return fmt.Sprintf("length must be at most %d", maxLen)
	case maxLen == 0:
		return fmt.Sprintf("length must be at least %d", minLen)
	}
	return fmt.Sprintf("length must be between %d and %d", minLen, maxLen)
}

// validateType validates a value against expected type
func validateType(value string, fieldType FieldType, dateFormat string) error {
	switch fieldType {
	case TypeInt:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case TypeDecimal:
		_, err := ParsePrice(value)
		return err
	case TypeDate:
		_, err := time.Parse(dateFormat, value)
		return err
	case TypeBool:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0", "yes", "no", "y", "n", "ja", "nein":
			return nil
		}
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

// validateRange validates numeric value against min/max
func validateRange(value string, min, max *decimal.Decimal) error {
	d, err := ParsePrice(value)
	if err != nil {
		return err
	}
	if min != nil && d.LessThan(*min) {
		return fmt.Errorf("value %s is less than minimum %s", value, min.String())
	}
	if max != nil && d.GreaterThan(*max) {
		return fmt.Errorf("value %s is greater than maximum %s", value, max.String())
	}
	return nil
}

// ParsePrice parses decimal numbers written in either German ("1.234,56")
// or English ("1,234.56") notation, ignoring currency symbols.
func ParsePrice(s string) (decimal.Decimal, error) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, s)
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}

	lastDot := strings.LastIndexByte(clean, '.')
	lastComma := strings.LastIndexByte(clean, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case lastDot >= 0 && strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}
