package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attributeMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStartServiceSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartServiceSpan(context.Background(), "delta_sync", "get_changes",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, erpsync.EntityArticles),
		telemetry.WithAttribute(telemetry.SpanAttrWatermark, int64(120)),
		telemetry.WithSpanKind(trace.SpanKindServer),
	)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "delta_sync.get_changes", ended[0].Name())
	assert.Equal(t, trace.SpanKindServer, ended[0].SpanKind())

	attrs := attributeMap(ended[0])
	assert.Equal(t, "articles", attrs[telemetry.SpanAttrEntityType].AsString())
	assert.Equal(t, int64(120), attrs[telemetry.SpanAttrWatermark].AsInt64())
}

func TestSetAttributesAndEvents(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "catalog_import.parse")
	telemetry.SetAttributes(span,
		telemetry.SpanAttrFormat, "bmecat",
		telemetry.SpanAttrItemCount, 42,
		7, "ignored: key is not a string",
		telemetry.SpanAttrHasMore, true,
	)
	telemetry.AddEvent(span, "chunk_written", "count", 500)
	telemetry.SetAttributes(nil, "k", "v")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	attrs := attributeMap(ended[0])
	assert.Len(t, attrs, 3)
	assert.Equal(t, "bmecat", attrs[telemetry.SpanAttrFormat].AsString())
	assert.Equal(t, int64(42), attrs[telemetry.SpanAttrItemCount].AsInt64())
	assert.True(t, attrs[telemetry.SpanAttrHasMore].AsBool())

	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "chunk_written", ended[0].Events()[0].Name)
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "batch_writer.write")
	telemetry.RecordError(span, nil)
	telemetry.RecordError(span, errors.New("lock timeout"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "lock timeout", ended[0].Status().Description)
}
