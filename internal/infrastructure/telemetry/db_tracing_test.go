package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sampleRecord struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func setupSampleDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sampleRecord{}))
	return db
}

func recordingSpan(t *testing.T) (context.Context, func() sdktrace.ReadOnlySpan) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	return ctx, func() sdktrace.ReadOnlySpan {
		span.End()
		ended := sr.Ended()
		require.Len(t, ended, 1)
		return ended[0]
	}
}

func attrOf(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDBTracingPlugin_Defaults(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)

	p := NewDBTracingPlugin(DBTracingConfig{}, nil)
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
}

func TestDBTracingPlugin_Register(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		db := setupSampleDB(t)
		require.NoError(t, NewDBTracingPlugin(DefaultDBTracingConfig(), zaptest.NewLogger(t)).Register(db))
		assert.Nil(t, db.Callback().Create().Get("exchange:after_create"))
	})

	t.Run("enabled installs callbacks", func(t *testing.T) {
		db := setupSampleDB(t)
		cfg := DefaultDBTracingConfig()
		cfg.Enabled = true
		require.NoError(t, NewDBTracingPlugin(cfg, zaptest.NewLogger(t)).Register(db))
		assert.NotNil(t, db.Callback().Create().Get("exchange:after_create"))

		// queries keep working with the plugin installed
		require.NoError(t, db.Create(&sampleRecord{ID: "p-1", Name: "sample"}).Error)
		var got sampleRecord
		require.NoError(t, db.First(&got, "id = ?", "p-1").Error)
		assert.Equal(t, "sample", got.Name)
	})
}

func TestDBTracingPlugin_After(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{SlowQueryThresh: 200 * time.Millisecond}, nil)

	t.Run("rows and table", func(t *testing.T) {
		ctx, finish := recordingSpan(t)
		result := setupSampleDB(t).WithContext(ctx).Create(&sampleRecord{ID: "a", Name: "x"})
		require.NoError(t, result.Error)

		p.after(result)
		span := finish()

		rows, ok := attrOf(span, "db.rows_affected")
		require.True(t, ok)
		assert.Equal(t, int64(1), rows.AsInt64())
		table, ok := attrOf(span, "db.sql.table")
		require.True(t, ok)
		assert.Equal(t, "sample_records", table.AsString())
		_, slow := attrOf(span, "db.slow_query")
		assert.False(t, slow)
	})

	t.Run("slow query", func(t *testing.T) {
		ctx, finish := recordingSpan(t)
		ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))
		result := setupSampleDB(t).WithContext(ctx).Find(&[]sampleRecord{})

		p.after(result)
		span := finish()

		slow, ok := attrOf(span, "db.slow_query")
		require.True(t, ok)
		assert.True(t, slow.AsBool())
		require.Len(t, span.Events(), 1)
		assert.Equal(t, "slow_query_warning", span.Events()[0].Name)
	})

	t.Run("errors mark the span", func(t *testing.T) {
		ctx, finish := recordingSpan(t)
		result := setupSampleDB(t).WithContext(ctx).Find(&[]sampleRecord{})
		_ = result.AddError(errors.New("connection reset"))

		p.after(result)
		span := finish()
		assert.Equal(t, codes.Error, span.Status().Code)
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		ctx, finish := recordingSpan(t)
		result := setupSampleDB(t).WithContext(ctx).First(&sampleRecord{}, "id = ?", "missing")
		require.ErrorIs(t, result.Error, gorm.ErrRecordNotFound)

		p.after(result)
		span := finish()
		assert.NotEqual(t, codes.Error, span.Status().Code)
	})
}
