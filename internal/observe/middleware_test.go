package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware builds a Middleware over isolated metric and trace
// providers so each test can inspect exactly what one request produced.
func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return Middleware(m), reader, exp
}

// requestAttrs flattens the single expected duration data point into a map.
func requestAttrs(t *testing.T, reader *sdkmetric.ManualReader) map[string]string {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "consonance.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("request duration = %+v, want one histogram data point", met.Data)
	}

	attrs := map[string]string{}
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	return attrs
}

func TestMiddleware_RecordsMatchedRoute(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw(mux).ServeHTTP(rec, httptest.NewRequest("GET", "/conversations/42", nil))

	attrs := requestAttrs(t, reader)
	if attrs["route"] != "GET /conversations/{id}" {
		t.Errorf("route attribute = %q, want the mux pattern", attrs["route"])
	}
	if attrs["method"] != "GET" || attrs["status"] != "200" {
		t.Errorf("attrs = %v, want method GET and status 200", attrs)
	}
}

func TestMiddleware_UnroutedRequestFallsBackToPath(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/bare", nil))

	if attrs := requestAttrs(t, reader); attrs["route"] != "/bare" {
		t.Errorf("route attribute = %q, want the raw path", attrs["route"])
	}
}

func TestMiddleware_CorrelationHeaderMatchesTrace(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	var inHandler string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/analyses", nil))

	if len(inHandler) != 32 {
		t.Errorf("correlation ID in handler = %q, want a 32-char trace ID", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_JoinsIncomingTraceContext(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)
	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inHandler string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/analyses", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inHandler != upstream {
		t.Errorf("correlation ID = %q, want the upstream trace %q", inHandler, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}

func TestMiddleware_SpanCarriesStatusAndRoute(t *testing.T) {
	mw, reader, exp := newTestMiddleware(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := httptest.NewRecorder()
	mw(mux).ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /readyz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /readyz")
	}
	var gotStatus int64
	var gotRoute string
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "http.response.status_code":
			gotStatus = a.Value.AsInt64()
		case "http.route":
			gotRoute = a.Value.AsString()
		}
	}
	if gotStatus != 503 {
		t.Errorf("span status attribute = %d, want 503", gotStatus)
	}
	if gotRoute != "GET /readyz" {
		t.Errorf("span route attribute = %q, want %q", gotRoute, "GET /readyz")
	}

	if attrs := requestAttrs(t, reader); attrs["status"] != "503" {
		t.Errorf("metric status attribute = %q, want 503", attrs["status"])
	}
}
