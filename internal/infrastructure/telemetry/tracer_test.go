package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/erp/catalog-exchange/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestConfigFrom(t *testing.T) {
	cfg := telemetry.ConfigFrom(config.TelemetryConfig{
		Enabled:               true,
		CollectorEndpoint:     "otel:4317",
		SamplingRatio:         0.25,
		ServiceName:           "catalog-exchange",
		Insecure:              true,
		MetricsExportInterval: 15 * time.Second,
	})
	assert.Equal(t, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "otel:4317",
		SamplingRatio:     0.25,
		ServiceName:       "catalog-exchange",
		Insecure:          true,
		ExportInterval:    15 * time.Second,
	}, cfg)
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{ServiceName: "test"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderWithExporter(t *testing.T) {
	original := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(original) })

	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProviderWithExporter(
		telemetry.Config{Enabled: true, SamplingRatio: 1, ServiceName: "catalog-exchange-test"},
		sdktrace.WithSyncer(exporter),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	assert.True(t, tp.IsEnabled())

	_, span := telemetry.StartSpan(context.Background(), "sync_stream.write")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "sync_stream.write", spans[0].Name)
	assert.Equal(t, "catalog-exchange-test", serviceName(spans[0]))

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderWithExporter_NeverSample(t *testing.T) {
	original := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(original) })

	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProviderWithExporter(
		telemetry.Config{Enabled: true, SamplingRatio: 0, ServiceName: "svc"},
		sdktrace.WithSyncer(exporter),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := telemetry.StartSpan(context.Background(), "dropped")
	span.End()
	assert.Empty(t, exporter.GetSpans())
}

func serviceName(s tracetest.SpanStub) string {
	for _, kv := range s.Resource.Attributes() {
		if kv.Key == "service.name" {
			return kv.Value.AsString()
		}
	}
	return ""
}
