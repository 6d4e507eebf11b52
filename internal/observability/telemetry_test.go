package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing disabled")
	}
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	if traceID, _ := TraceIDs(ctx); traceID != "" {
		t.Fatalf("noop span produced trace id %q", traceID)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "test"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_NoneExporter(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Config{Enabled: true, Exporter: "none", ServiceName: "test", SampleRate: 1}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Shutdown(ctx)

	if !Enabled() {
		t.Fatal("expected tracing enabled")
	}
	spanCtx, span := StartConsumerSpan(ctx, "funcall.execute", AttrFunctionName.String("add"))
	SetSpanError(span, errors.New("boom"))
	span.End()

	traceID, spanID := TraceIDs(spanCtx)
	if len(traceID) != 32 || len(spanID) != 16 {
		t.Fatalf("unexpected ids %q %q", traceID, spanID)
	}
}

func TestHTTPMiddleware_PassesThrough(t *testing.T) {
	ctx := context.Background()
	if err := Init(ctx, Config{Enabled: true, Exporter: "none", ServiceName: "test", SampleRate: 1}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Shutdown(ctx)

	var sawSpan bool
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, _ := TraceIDs(r.Context())
		sawSpan = traceID != ""
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if !sawSpan {
		t.Fatal("handler did not see a span in its context")
	}
}
