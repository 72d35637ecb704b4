package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AttemptTracer issues spans for indexing attempts and their batch commits.
// Without an installed provider every method is a cheap no-op, so callers
// never need to guard tracing calls.
type AttemptTracer struct {
	tracer   trace.Tracer
	attempts metric.Int64Counter
	batches  metric.Int64Counter
}

// NewAttemptTracer builds a tracer bound to the global otel providers.
func NewAttemptTracer() *AttemptTracer {
	meter := otel.Meter(instrumentationName)
	attempts, _ := meter.Int64Counter("accretion.attempts",
		metric.WithDescription("Indexing attempts by terminal status"))
	batches, _ := meter.Int64Counter("accretion.batches.committed",
		metric.WithDescription("Batches upserted and checkpointed"))

	return &AttemptTracer{
		tracer:   otel.Tracer(instrumentationName),
		attempts: attempts,
		batches:  batches,
	}
}

// StartAttempt opens the root span for one attempt.
func (t *AttemptTracer) StartAttempt(ctx context.Context, connectorID, attemptID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "attempt.run",
		trace.WithAttributes(
			attribute.String("accretion.connector_id", connectorID),
			attribute.String("accretion.attempt_id", attemptID),
		),
	)
}

// EndAttempt closes the attempt span with its terminal status and document
// total, and counts the attempt on the otel meter.
func (t *AttemptTracer) EndAttempt(ctx context.Context, span trace.Span, connectorID, status string, documents int64, err error) {
	span.SetAttributes(
		attribute.String("accretion.status", status),
		attribute.Int64("accretion.documents_processed", documents),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	t.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("connector_id", connectorID),
		attribute.String("status", status),
	))
}

// StartBatch opens a child span for one fetch/upsert/checkpoint cycle. The
// batch size is recorded at EndBatch, once the fetch has produced it.
func (t *AttemptTracer) StartBatch(ctx context.Context, ordinal uint64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "attempt.batch",
		trace.WithAttributes(
			attribute.Int64("accretion.batch.ordinal", int64(ordinal)),
		),
	)
}

// EndBatch closes a batch span; committed batches are counted, failed ones
// carry the error.
func (t *AttemptTracer) EndBatch(ctx context.Context, span trace.Span, connectorID string, size int, err error) {
	span.SetAttributes(attribute.Int("accretion.batch.size", size))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		t.batches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("connector_id", connectorID),
		))
	}
	span.End()
}

// TraceFields returns zap fields carrying the span identity from ctx, so log
// lines and spans of the same attempt can be joined. Empty when ctx carries
// no sampled span.
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// TracingMiddleware wraps an HTTP handler with trace-context extraction and
// a server span per request. Mounted on the operator router.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("service.name", serviceName),
			)

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
