package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMux routes a few handlers through Middleware the way the server
// does.
func newTestMux(t *testing.T) (http.Handler, *Metrics, func() metricdata.ResourceMetrics) {
	t.Helper()
	m, reader := newTestMetrics(t)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "provider down", http.StatusBadGateway)
	})
	return Middleware(m)(mux), m, func() metricdata.ResourceMetrics { return collect(t, reader) }
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	useTestTracer(t)
	h, _, _ := newTestMux(t)

	rec := serve(h, http.MethodPost, "/api/pipeline", nil)
	if got := rec.Header().Get(CorrelationHeader); len(got) != 32 {
		t.Errorf("%s = %q, want a 32 char trace ID", CorrelationHeader, got)
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	useTestTracer(t)
	h, _, _ := newTestMux(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, http.MethodPost, "/api/pipeline", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
}

func TestMiddleware_SpanUsesRoute(t *testing.T) {
	exp := useTestTracer(t)
	h, _, _ := newTestMux(t)

	serve(h, http.MethodPost, "/api/chat", nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /api/chat" {
		t.Errorf("span name = %q, want the route pattern", s.Name)
	}
	if s.Status.Code != codes.Error {
		t.Errorf("span status = %v, want error for a 502", s.Status.Code)
	}
	var status int64
	for _, a := range s.Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusBadGateway {
		t.Errorf("http.response.status_code = %d, want 502", status)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	useTestTracer(t)
	h, _, rm := newTestMux(t)

	serve(h, http.MethodPost, "/api/pipeline", nil)
	serve(h, http.MethodPost, "/api/pipeline", nil)
	serve(h, http.MethodGet, "/no/such/path", nil)

	met := findMetric(rm(), "voxtutor.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		counts[route.AsString()] += dp.Count
	}
	if counts["POST /api/pipeline"] != 2 {
		t.Errorf("pipeline samples = %d, want 2 (all: %v)", counts["POST /api/pipeline"], counts)
	}
	if counts["unmatched"] != 1 {
		t.Errorf("unmatched samples = %d, want 1 (all: %v)", counts["unmatched"], counts)
	}
	for route := range counts {
		if strings.Contains(route, "/no/such") {
			t.Errorf("raw path leaked into route label: %q", route)
		}
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	useTestTracer(t)
	buf := captureLog(t)
	h, _, _ := newTestMux(t)

	serve(h, http.MethodGet, "/healthz", nil)
	serve(h, http.MethodPost, "/api/pipeline", nil)

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG msg=\"request completed\"") || !strings.Contains(out, "path=/healthz") {
		t.Errorf("health probe not logged at debug:\n%s", out)
	}
	if !strings.Contains(out, "level=INFO msg=\"request completed\"") {
		t.Errorf("pipeline request not logged at info:\n%s", out)
	}
}
