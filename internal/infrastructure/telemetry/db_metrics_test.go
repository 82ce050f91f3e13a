package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newDBMetricsUnderTest(t *testing.T, cfg DBMetricsConfig) (*DBMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewDBMetrics(provider.Meter("db.client"), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, reader
}

func readMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestNewDBMetrics_NilMeter(t *testing.T) {
	_, err := NewDBMetrics(nil, DBMetricsConfig{}, nil)
	assert.ErrorIs(t, err, ErrMeterNil)
	assert.Equal(t, "NewDBMetrics: meter cannot be nil", err.Error())
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	m, reader := newDBMetricsUnderTest(t, DBMetricsConfig{SlowQueryThresh: 50 * time.Millisecond})
	ctx := context.Background()

	m.RecordQuery(ctx, "select", "sync_records", 10*time.Millisecond, nil)
	m.RecordQuery(ctx, "SELECT", "sync_records", 80*time.Millisecond, gorm.ErrRecordNotFound)
	m.RecordQuery(ctx, "INSERT", "sync_changes", time.Millisecond, errors.New("deadlock detected"))
	m.RecordQuery(ctx, "", "", 90*time.Millisecond, nil)

	metrics := readMetrics(t, reader)
	assert.Equal(t, int64(2), counterValue(metrics["db_query_total"], AttrDBOperation.String("SELECT")))
	assert.Equal(t, int64(1), counterValue(metrics["db_query_total"], AttrDBOperation.String("OTHER")))
	assert.Equal(t, int64(1), counterValue(metrics["db_query_errors_total"], AttrDBOperation.String("INSERT")))
	assert.Zero(t, counterValue(metrics["db_query_errors_total"], AttrDBOperation.String("SELECT")))
	assert.Equal(t, int64(1), counterValue(metrics["db_slow_query_total"], AttrDBTable.String("sync_records")))
	assert.Equal(t, int64(1), counterValue(metrics["db_slow_query_total"], AttrDBTable.String("unknown")))

	hist, ok := metrics["db_query_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 3)
}

func TestDBMetrics_Register(t *testing.T) {
	db := setupSampleDB(t)
	m, reader := newDBMetricsUnderTest(t, DBMetricsConfig{PoolStatsInterval: time.Hour})
	require.NoError(t, m.Register(db))
	assert.NotNil(t, db.Callback().Create().Get("db_metrics:after_create"))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&sampleRecord{ID: "s-1", Name: "sample"}).Error)
	require.NoError(t, db.WithContext(ctx).Find(&[]sampleRecord{}).Error)
	require.NoError(t, db.WithContext(ctx).Exec("DELETE FROM sample_records WHERE id = ?", "s-1").Error)
	m.RecordPoolStats(ctx)

	metrics := readMetrics(t, reader)
	queries := metrics["db_query_total"]
	assert.Equal(t, int64(1), counterValue(queries, AttrDBOperation.String("INSERT")))
	assert.Equal(t, int64(1), counterValue(queries, AttrDBOperation.String("SELECT")))
	assert.Equal(t, int64(1), counterValue(queries, AttrDBOperation.String("DELETE")))

	gauge, ok := metrics["db_pool_connections"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, gauge.DataPoints, 3)
}

func TestDBMetrics_PoolStatsLifecycle(t *testing.T) {
	m, _ := newDBMetricsUnderTest(t, DBMetricsConfig{PoolStatsInterval: time.Millisecond})

	// nothing registered: no goroutine is started
	m.StartPoolStats(context.Background())

	require.NoError(t, m.Register(setupSampleDB(t)))
	m.StartPoolStats(context.Background())
	time.Sleep(5 * time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestSQLOperation(t *testing.T) {
	tests := map[string]string{
		"  select * from sync_records": "SELECT",
		"INSERT INTO sync_changes":     "INSERT",
		"update catalog_imports":       "UPDATE",
		"DELETE FROM tenant_api_keys":  "DELETE",
		"SELECT pg_advisory_xact_lock": "SELECT",
		"PRAGMA foreign_keys = ON":     "OTHER",
	}
	for query, want := range tests {
		assert.Equal(t, want, sqlOperation(query), query)
	}
}
