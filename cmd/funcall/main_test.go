package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/funcall/internal/caller"
	"github.com/oriys/funcall/internal/config"
	"github.com/oriys/funcall/internal/executor"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/protocol"
	"github.com/oriys/funcall/internal/transport"
)

func TestParseKwargs(t *testing.T) {
	kwargs, err := parseKwargs([]string{"a=2", "name=bob", `obj={"x":1}`, "flag=true", "empty="})
	if err != nil {
		t.Fatalf("parseKwargs failed: %v", err)
	}
	if kwargs["a"] != float64(2) || kwargs["name"] != "bob" || kwargs["flag"] != true || kwargs["empty"] != "" {
		t.Fatalf("unexpected kwargs %#v", kwargs)
	}
	if obj, ok := kwargs["obj"].(map[string]any); !ok || obj["x"] != float64(1) {
		t.Fatalf("obj = %#v", kwargs["obj"])
	}

	for _, bad := range [][]string{{"novalue"}, {"=1"}, {"a=1", "a=2"}} {
		if _, err := parseKwargs(bad); err == nil {
			t.Fatalf("parseKwargs(%q) should fail", bad)
		}
	}
}

func TestDemoRegistry(t *testing.T) {
	r := demoRegistry()
	want := []string{"add", "echo", "fail", "hello", "sub"}
	if got := r.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("names = %v, want %v", got, want)
	}

	kw, _ := protocol.NewKwargs(map[string]any{"a": 7, "b": 2})
	sub, _ := r.Lookup("sub")
	if v, err := sub(context.Background(), executor.NewArgs(kw)); err != nil || v.(float64) != 5 {
		t.Fatalf("sub = %v, %v", v, err)
	}

	hello, _ := r.Lookup("hello")
	kw, _ = protocol.NewKwargs(map[string]any{"value": "world"})
	if v, err := hello(context.Background(), executor.NewArgs(kw)); err != nil || v != "world hello!" {
		t.Fatalf("hello = %v, %v", v, err)
	}

	fail, _ := r.Lookup("fail")
	if _, err := fail(context.Background(), executor.NewArgs(nil)); err == nil || err.Error() != "requested failure" {
		t.Fatalf("fail err = %v", err)
	}
}

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.TransportMemory
	cfg.Endpoint.TickInterval = config.Duration(time.Millisecond)
	return cfg
}

func TestRunCall_Memory(t *testing.T) {
	var out bytes.Buffer
	err := runCall(context.Background(), memoryConfig(), "add", map[string]any{"a": 2, "b": 3}, 2*time.Second, &out)
	if err != nil {
		t.Fatalf("runCall failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "5" {
		t.Fatalf("output = %q, want 5", out.String())
	}

	out.Reset()
	if err := runCall(context.Background(), memoryConfig(), "hello", map[string]any{"value": "hi"}, 2*time.Second, &out); err != nil {
		t.Fatalf("runCall failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "hi hello!" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunCall_Failures(t *testing.T) {
	var out bytes.Buffer
	err := runCall(context.Background(), memoryConfig(), "fail", map[string]any{"message": "nope"}, 2*time.Second, &out)
	var callErr *caller.CallError
	if !errors.As(err, &callErr) || callErr.ExitCode != protocol.ExitError || callErr.Output.Text() != "nope" {
		t.Fatalf("err = %v, want ERROR nope", err)
	}

	err = runCall(context.Background(), memoryConfig(), "missing", nil, 2*time.Second, &out)
	if !errors.As(err, &callErr) || callErr.ExitCode != protocol.ExitFunctionNotFound {
		t.Fatalf("err = %v, want FUNCTION_NOT_FOUND", err)
	}
}

func TestAdminMux_Healthz(t *testing.T) {
	b := transport.NewBroker()
	exec := executor.New(b.Transport(transport.Options{}), executor.WithLogger(logging.NewLogger(nil)))
	mux := adminMux(exec)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 503 {
		t.Fatalf("stopped executor healthz = %d, want 503", rec.Code)
	}

	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer exec.Stop()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("running executor healthz = %d, want 200", rec.Code)
	}
}
