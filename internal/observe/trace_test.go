package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withRecordingTracer installs an in-memory tracer provider as the global
// one for the duration of the test.
func withRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_NestsAnalysisStages(t *testing.T) {
	exp := withRecordingTracer(t)

	ctx, outer := StartSpan(context.Background(), "analyze_conversation")
	_, inner := StartSpan(ctx, "detect_overlaps")
	inner.End()
	outer.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	// Spans export in end order, innermost first.
	if spans[0].Name != "detect_overlaps" || spans[1].Name != "analyze_conversation" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("detection span is not a child of the conversation span")
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("analysis stages did not share one trace")
	}
}

func TestCorrelationID(t *testing.T) {
	withRecordingTracer(t)

	t.Run("empty without a span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID = %q, want empty", got)
		}
	})

	t.Run("lower-hex trace ID inside a span", func(t *testing.T) {
		ctx, span := StartSpan(context.Background(), "analyze_conversation")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("correlation ID length = %d, want 32", len(cid))
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("correlation ID %q is not lower-case hex", cid)
		}
	})

	t.Run("stable across nested stages", func(t *testing.T) {
		ctx, outer := StartSpan(context.Background(), "analyze_conversation")
		defer outer.End()
		inner, span := StartSpan(ctx, "score_conversation")
		defer span.End()

		if CorrelationID(inner) != CorrelationID(ctx) {
			t.Error("nested stage reported a different correlation ID")
		}
	})
}

func TestCorrelationID_UniquePerConversation(t *testing.T) {
	withRecordingTracer(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		_, span := StartSpan(context.Background(), "analyze_conversation")
		cid := span.SpanContext().TraceID().String()
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLogger_CarriesTraceContext(t *testing.T) {
	withRecordingTracer(t)
	buf := captureLog(t)

	ctx, span := StartSpan(context.Background(), "score_conversation")
	Logger(ctx).Info("conversation scored", "conversation_id", "c-1", "engagement", 0.85)
	span.End()

	out := buf.String()
	for _, want := range []string{"trace_id=", "span_id=", "conversation_id=c-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestLogger_PlainOutsideSpans(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("idle")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line outside a span must not carry trace fields: %s", out)
	}
}
