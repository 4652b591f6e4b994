package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{}, NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, ShutdownTracing(context.Background(), nil, NewNopLogger()))
}

func TestInitTracing_Enabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	tp, err := InitTracing(context.Background(), TracingConfig{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "tenantrbac-test",
		ServiceVersion: "test",
		Insecure:       true,
		SampleRatio:    0.5,
	}, NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, tp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing was recorded, so a cancelled context only bounds the flush
	_ = ShutdownTracing(ctx, tp, NewNopLogger())
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	UpdateLoggerWithTraceContext(context.Background(), logger).Info("no span")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	buf.Reset()
	UpdateLoggerWithTraceContext(ctx, logger).Info("in span")
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}
