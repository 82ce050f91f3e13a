package dto

import (
	"strings"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
)

// PageQuery is the query string of GET /sync/:entity/page. Filters arrive
// as filter[name]=value and are collected separately.
type PageQuery struct {
	Cursor       string `form:"cursor"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1"`
	Sort         string `form:"sort"`
	Desc         bool   `form:"desc"`
	IncludeTotal bool   `form:"include_total"`
	Fields       string `form:"fields"`
}

// FieldList splits the comma separated projection
func (q PageQuery) FieldList() []string {
	if strings.TrimSpace(q.Fields) == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(q.Fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// SortSpec returns the requested ordering, nil for the default
func (q PageQuery) SortSpec() *erpsync.SortSpec {
	if q.Sort == "" && !q.Desc {
		return nil
	}
	return &erpsync.SortSpec{Field: q.Sort, Descending: q.Desc}
}

// DeltaQuery is the query string of GET /sync/:entity/delta
type DeltaQuery struct {
	Watermark         *int64 `form:"watermark" binding:"omitempty,min=0"`
	Since             string `form:"since"`
	BatchSize         int    `form:"batch_size" binding:"omitempty,min=1"`
	IncludeDeleted    *bool  `form:"include_deleted"`
	ContinuationToken string `form:"continuation_token"`
}

// SinceTime parses the RFC 3339 since parameter
func (q DeltaQuery) SinceTime() (*time.Time, error) {
	if q.Since == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, q.Since)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// FilterParams collects filter[name]=value query parameters
func FilterParams(query map[string][]string) map[string]string {
	var filters map[string]string
	for key, values := range query {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") || len(values) == 0 {
			continue
		}
		name := key[len("filter[") : len(key)-1]
		if name == "" {
			continue
		}
		if filters == nil {
			filters = make(map[string]string)
		}
		filters[name] = values[0]
	}
	return filters
}
