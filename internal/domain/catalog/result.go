package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxIssues caps the number of issues retained per import
const DefaultMaxIssues = 1000

// ImportResult is the outcome of one adapter run
type ImportResult struct {
	ImportID     uuid.UUID         `json:"importId"`
	Format       string            `json:"format"`
	FormatName   string            `json:"formatName"`
	Version      string            `json:"version,omitempty"`
	Success      bool              `json:"success"`
	TotalCount   int               `json:"totalCount"`
	ValidCount   int               `json:"validCount"`
	SkippedCount int               `json:"skippedCount"`
	Entities     []CatalogEntity   `json:"entities,omitempty"`
	Issues       []ValidationIssue `json:"issues"`
	// DroppedIssues counts issues beyond the retention cap
	DroppedIssues int       `json:"droppedIssues,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Warnings returns the warning-level issues
func (r *ImportResult) Warnings() []ValidationIssue {
	return r.filter(func(s Severity) bool { return s == SeverityWarning })
}

// Errors returns issues at error level or above
func (r *ImportResult) Errors() []ValidationIssue {
	return r.filter(func(s Severity) bool { return s >= SeverityError })
}

// MaxSeverity returns the highest severity seen, or 0 when there are no issues
func (r *ImportResult) MaxSeverity() Severity {
	var max Severity
	for _, i := range r.Issues {
		if i.Severity > max {
			max = i.Severity
		}
	}
	return max
}

// Duration returns the wall time of the run
func (r *ImportResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// AppendIssue adds issue while fewer than max issues are retained and
// counts it in DroppedIssues otherwise. An error-level issue clears Success
// either way.
func (r *ImportResult) AppendIssue(issue ValidationIssue, max int) {
	if issue.Severity >= SeverityError {
		r.Success = false
	}
	if len(r.Issues) >= max {
		r.DroppedIssues++
		return
	}
	r.Issues = append(r.Issues, issue)
}

func (r *ImportResult) filter(keep func(Severity) bool) []ValidationIssue {
	out := make([]ValidationIssue, 0)
	for _, i := range r.Issues {
		if keep(i.Severity) {
			out = append(out, i)
		}
	}
	return out
}

// EntityHandler receives each accepted entity in document order.
// Returning an error aborts the parse.
type EntityHandler func(ctx context.Context, entity CatalogEntity) error

// ResultBuilder accumulates counts, issues and duplicate tracking for a run.
// Adapters feed it records; it decides what reaches the handler.
type ResultBuilder struct {
	result    *ImportResult
	handle    EntityHandler
	seen      map[string]struct{}
	maxIssues int
	failed    bool
}

// NewResultBuilder starts a run for the given format
func NewResultBuilder(info FormatInfo, handle EntityHandler) *ResultBuilder {
	return &ResultBuilder{
		result: &ImportResult{
			ImportID:   uuid.New(),
			Format:     info.ID,
			FormatName: info.Name,
			Issues:     make([]ValidationIssue, 0),
			StartedAt:  time.Now().UTC(),
		},
		handle:    handle,
		seen:      make(map[string]struct{}),
		maxIssues: DefaultMaxIssues,
	}
}

// SetMaxIssues overrides the retention cap; non-positive values are ignored
func (b *ResultBuilder) SetMaxIssues(n int) {
	if n > 0 {
		b.maxIssues = n
	}
}

// SetVersion records the detected format version
func (b *ResultBuilder) SetVersion(v string) {
	b.result.Version = v
}

// Issue records an issue. Errors are tracked even when the issue itself is
// dropped by the cap, so Success stays correct.
func (b *ResultBuilder) Issue(issue ValidationIssue) {
	if issue.Severity >= SeverityError {
		b.failed = true
	}
	b.result.AppendIssue(issue, b.maxIssues)
}

// Skip counts a record that could not be imported
func (b *ResultBuilder) Skip(issue ValidationIssue) {
	b.result.TotalCount++
	b.result.SkippedCount++
	b.Issue(issue)
}

// Emit normalizes, validates and de-duplicates an entity, then hands it to
// the handler. line is the 1-based source line, or 0 when unknown.
func (b *ResultBuilder) Emit(ctx context.Context, entity CatalogEntity, line int) error {
	entity.Normalize()
	issues, skip := entity.Validate()
	for _, is := range issues {
		b.Issue(is.AtLine(line))
	}
	b.result.TotalCount++
	if skip {
		b.result.SkippedCount++
		return nil
	}

	key := entity.Key()
	if _, dup := b.seen[key]; dup {
		b.result.SkippedCount++
		b.Issue(Warning(CodeDuplicateID, "duplicate article id "+entity.ExternalID+" skipped").AtLine(line))
		return nil
	}
	b.seen[key] = struct{}{}

	if b.handle != nil {
		if err := b.handle(ctx, entity); err != nil {
			return err
		}
	}
	b.result.ValidCount++
	return nil
}

// HasErrors reports whether an error-level issue was recorded
func (b *ResultBuilder) HasErrors() bool {
	return b.failed
}

// Result finalizes and returns the result. Success is true only when no
// issue at error level or above was recorded.
func (b *ResultBuilder) Result() *ImportResult {
	b.result.Success = !b.failed
	b.result.FinishedAt = time.Now().UTC()
	return b.result
}
