package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ajitpratap0/accretion/pkg/config"
)

func TestInitDisabled(t *testing.T) {
	err := Init(config.ObservabilityConfig{EnableTracing: false})
	require.NoError(t, err)
	assert.Nil(t, provider)
	require.NoError(t, Shutdown(context.Background()))
}

func TestInitAndShutdown(t *testing.T) {
	err := Init(config.ObservabilityConfig{
		EnableTracing: true,
		ServiceName:   "accretion-test",
		Environment:   "test",
		SampleRate:    0, // never sample: nothing is exported to stdout
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	// Second Init keeps the installed provider.
	installed := provider
	require.NoError(t, Init(config.ObservabilityConfig{EnableTracing: true}))
	assert.Same(t, installed, provider)

	require.NoError(t, Shutdown(context.Background()))
	assert.Nil(t, provider)

	// Shutdown after shutdown is a no-op.
	require.NoError(t, Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"zero never samples", 0, sdktrace.NeverSample().Description()},
		{"negative never samples", -1, sdktrace.NeverSample().Description()},
		{"one always samples", 1, sdktrace.AlwaysSample().Description()},
		{"above one always samples", 2, sdktrace.AlwaysSample().Description()},
		{"fraction is ratio based", 0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samplerFor(tt.rate).Description())
		})
	}
}

func TestAttemptTracerWithoutProvider(t *testing.T) {
	// No provider installed: spans are no-ops and nothing panics.
	tr := NewAttemptTracer()

	ctx, span := tr.StartAttempt(context.Background(), "wiki-prod", "attempt-1")
	bctx, bspan := tr.StartBatch(ctx, 3)
	tr.EndBatch(bctx, bspan, "wiki-prod", 50, nil)
	tr.EndAttempt(ctx, span, "wiki-prod", "succeeded", 50, nil)

	assert.Empty(t, TraceFields(ctx))
}

func TestTraceFieldsWithRecordingSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := TraceFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, "span_id", fields[1].Key)
}
