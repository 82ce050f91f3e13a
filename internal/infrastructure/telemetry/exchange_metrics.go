package telemetry

import (
	"context"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"go.opentelemetry.io/otel/metric"
)

// ExchangeMetrics records catalog import and sync counters. All methods are
// safe on a nil receiver, so services run unchanged without telemetry.
type ExchangeMetrics struct {
	importsTotal   *Counter
	importEntities *Counter
	importIssues   *Counter
	importDuration *Histogram

	deltaPages   *Counter
	deltaChanges *Counter
	batchItems   *Counter
	streamItems  *Counter
}

// MetricsError reports a failure to set up instruments
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// Is matches any MetricsError with the same message, whatever the Op
func (e *MetricsError) Is(target error) bool {
	t, ok := target.(*MetricsError)
	return ok && t.Err == e.Err
}

// ErrMeterNil is returned when no meter is supplied
var ErrMeterNil = &MetricsError{Op: "NewExchangeMetrics", Err: "meter cannot be nil"}

// NewExchangeMetrics registers all instruments on meter
func NewExchangeMetrics(meter metric.Meter) (*ExchangeMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ExchangeMetrics{}
	var err error

	counters := []struct {
		dst               **Counter
		name, description string
		unit              string
	}{
		{&m.importsTotal, "catalog_imports_total", "Catalog imports by format and final status", "{import}"},
		{&m.importEntities, "catalog_import_entities_total", "Entities accepted from catalog imports", "{entity}"},
		{&m.importIssues, "catalog_import_issues_total", "Validation issues reported by catalog imports", "{issue}"},
		{&m.deltaPages, "sync_delta_pages_total", "Delta pages served", "{page}"},
		{&m.deltaChanges, "sync_delta_changes_total", "Changes delivered through delta sync", "{change}"},
		{&m.batchItems, "sync_batch_items_total", "Batch write items by outcome", "{item}"},
		{&m.streamItems, "sync_stream_items_total", "Items written to JSON-Lines streams", "{item}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.description, c.unit); err != nil {
			return nil, err
		}
	}

	m.importDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "catalog_import_duration_seconds",
		Description: "Wall time of catalog imports",
		Unit:        "s",
		Boundaries:  ImportDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordImport counts one finished import. status is the final import status.
func (m *ExchangeMetrics) RecordImport(ctx context.Context, result *catalog.ImportResult, status string, d time.Duration) {
	if m == nil || result == nil {
		return
	}
	format := AttrFormat.String(result.Format)
	m.importsTotal.Inc(ctx, format, AttrStatus.String(status))
	if result.ValidCount > 0 {
		m.importEntities.Add(ctx, int64(result.ValidCount), format)
	}

	bySeverity := make(map[catalog.Severity]int64, 3)
	for _, issue := range result.Issues {
		bySeverity[issue.Severity]++
	}
	for sev, n := range bySeverity {
		m.importIssues.Add(ctx, n, AttrSeverity.String(sev.String()))
	}
	m.importDuration.RecordDuration(ctx, d)
}

// RecordDeltaPage counts one delta page and its changes
func (m *ExchangeMetrics) RecordDeltaPage(ctx context.Context, entityType erpsync.EntityType, stats erpsync.DeltaStats) {
	if m == nil {
		return
	}
	entity := AttrEntityType.String(string(entityType))
	m.deltaPages.Inc(ctx, entity)

	for ct, n := range map[erpsync.ChangeType]int{
		erpsync.ChangeCreated: stats.Created,
		erpsync.ChangeUpdated: stats.Updated,
		erpsync.ChangeDeleted: stats.Deleted,
	} {
		if n > 0 {
			m.deltaChanges.Add(ctx, int64(n), entity, AttrChangeType.String(string(ct)))
		}
	}
}

// RecordBatch counts batch items by outcome
func (m *ExchangeMetrics) RecordBatch(ctx context.Context, entityType erpsync.EntityType, resp *erpsync.BatchWriteResponse) {
	if m == nil || resp == nil {
		return
	}
	entity := AttrEntityType.String(string(entityType))
	for result, n := range map[string]int{
		"inserted": resp.InsertedCount,
		"updated":  resp.UpdatedCount,
		"skipped":  resp.SkippedCount,
		"failed":   resp.ErrorCount,
	} {
		if n > 0 {
			m.batchItems.Add(ctx, int64(n), entity, AttrBatchResult.String(result))
		}
	}
}

// RecordStreamItems counts items written to a stream
func (m *ExchangeMetrics) RecordStreamItems(ctx context.Context, entityType erpsync.EntityType, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamItems.Add(ctx, int64(n), AttrEntityType.String(string(entityType)))
}
