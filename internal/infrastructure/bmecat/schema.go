package bmecat

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/spf13/viper"
)

// Transaction elements, one of which must wrap the articles
var transactionElements = map[string]bool{
	"T_NEW_CATALOG":     true,
	"T_UPDATE_PRODUCTS": true,
	"T_UPDATE_PRICES":   true,
}

// SchemaRules is a structural rule set checked during the streaming pass.
// Element names are local names without namespace. Severity applies to
// header rules, ArticleSeverity to per-article and length rules.
type SchemaRules struct {
	RequiredHeader  []string         `mapstructure:"required_header"`
	RequiredArticle []string         `mapstructure:"required_article"`
	MaxLength       map[string]int   `mapstructure:"max_length"`
	Severity        catalog.Severity `mapstructure:"-"`
	ArticleSeverity catalog.Severity `mapstructure:"-"`
}

// BuiltinRules returns the structural rules for a BMEcat version
func BuiltinRules(version string) SchemaRules {
	idElem, shortLen := "SUPPLIER_AID", 80
	if is2005(version) {
		idElem, shortLen = "SUPPLIER_PID", 150
	}
	return SchemaRules{
		RequiredHeader:  []string{"CATALOG_ID", "SUPPLIER_ID"},
		RequiredArticle: []string{"DESCRIPTION_SHORT"},
		MaxLength: map[string]int{
			idElem:              32,
			"DESCRIPTION_SHORT": shortLen,
		},
		Severity:        catalog.SeverityError,
		ArticleSeverity: catalog.SeverityWarning,
	}
}

// LoadSchemaRules reads a custom rule file (toml, yaml or json). Keys:
// required_header, required_article, max_length and severity.
func LoadSchemaRules(path string) (SchemaRules, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("severity", "warning")
	if err := v.ReadInConfig(); err != nil {
		return SchemaRules{}, fmt.Errorf("read schema rules: %w", err)
	}

	var rules SchemaRules
	if err := v.Unmarshal(&rules); err != nil {
		return SchemaRules{}, fmt.Errorf("decode schema rules: %w", err)
	}
	sev, err := catalog.ParseSeverity(v.GetString("severity"))
	if err != nil {
		return SchemaRules{}, fmt.Errorf("schema rules severity: %w", err)
	}
	rules.Severity = sev
	rules.ArticleSeverity = sev

	upper := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	rules.RequiredHeader = upper(rules.RequiredHeader)
	rules.RequiredArticle = upper(rules.RequiredArticle)
	limits := make(map[string]int, len(rules.MaxLength))
	for k, n := range rules.MaxLength {
		limits[strings.ToUpper(k)] = n
	}
	rules.MaxLength = limits
	return rules, nil
}

// resolveSchemaPath confines relative and absolute paths to dir when dir is set
func resolveSchemaPath(dir, path string) (string, error) {
	if dir == "" {
		return path, nil
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(base, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("schema path %q is outside %s", path, dir)
	}
	return full, nil
}

// ruleChecker tracks which required elements were seen in the current scope
type ruleChecker struct {
	required []string
	seen     map[string]bool
}

func newRuleChecker(required []string) *ruleChecker {
	return &ruleChecker{required: required, seen: make(map[string]bool, len(required))}
}

func (c *ruleChecker) observe(name string) {
	for _, r := range c.required {
		if r == name {
			c.seen[name] = true
			return
		}
	}
}

// missing returns required elements not seen since the last reset
func (c *ruleChecker) missing() []string {
	var out []string
	for _, r := range c.required {
		if !c.seen[r] {
			out = append(out, r)
		}
	}
	return out
}

func (c *ruleChecker) reset() {
	clear(c.seen)
}
