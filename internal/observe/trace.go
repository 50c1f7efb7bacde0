package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all analysis spans.
const tracerName = "github.com/consonance-ai/consonance"

// Tracer returns the tracer every analysis stage records spans against,
// resolved from the global provider at call time.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span for one analysis stage (analyze_conversation,
// detect_overlaps, score_conversation, ...). The caller owns span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the active span, or empty when there is
// none. It is what the HTTP middleware hands back to callers in the
// X-Correlation-ID header, so one conversation can be followed across logs,
// spans, and client reports.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger bound to the active span's trace and
// span IDs, so every line written while analyzing a conversation can be
// joined with its spans. Outside a span it is just the default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
