package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects the default logger into a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_RecordsOnGlobalProvider(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "pipeline.transcribe")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32 hex chars", len(cid))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.transcribe" {
		t.Fatalf("spans = %v, want one named pipeline.transcribe", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestInjectExtract_RoundTrip(t *testing.T) {
	useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "client.submit")
	defer span.End()

	h := http.Header{}
	Inject(ctx, h)
	if h.Get("traceparent") == "" {
		t.Fatal("Inject did not write a traceparent header")
	}

	remote := Extract(context.Background(), h)
	if got, want := CorrelationID(remote), CorrelationID(ctx); got != want {
		t.Errorf("extracted trace ID = %q, want %q", got, want)
	}
}

func TestExtract_NoHeader(t *testing.T) {
	if got := CorrelationID(Extract(context.Background(), http.Header{})); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)
	buf := captureLog(t)

	Logger(context.Background()).Info("no span")
	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()
	Logger(ctx).Info("with span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf)
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("line without span has trace_id: %s", lines[0])
	}
	if !strings.Contains(lines[1], "trace_id="+CorrelationID(ctx)) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("line with span lacks trace attributes: %s", lines[1])
	}
}
