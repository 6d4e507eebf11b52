package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/oriys/funcall/internal/protocol"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, Args) (any, error) { return "ok", nil }

	if err := r.Register("b", fn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r.MustRegister("a", fn)
	if err := r.Register("a", fn); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if err := r.Register("", fn); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Fatal("expected error for nil function")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("unexpected lookup hit")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestRegistry_Independent(t *testing.T) {
	r1, r2 := NewRegistry(), NewRegistry()
	r1.MustRegister("f", func(context.Context, Args) (any, error) { return nil, nil })
	if _, ok := r2.Lookup("f"); ok {
		t.Fatal("registries must not share functions")
	}
}

func TestArgs(t *testing.T) {
	kw, err := protocol.NewKwargs(map[string]any{"n": 3, "x": 1.5, "s": "hi", "ok": true})
	if err != nil {
		t.Fatalf("NewKwargs failed: %v", err)
	}
	args := NewArgs(kw)

	if n, err := args.Int("n"); err != nil || n != 3 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	if x, err := args.Float("x"); err != nil || x != 1.5 {
		t.Fatalf("Float = %v, %v", x, err)
	}
	if s, err := args.String("s"); err != nil || s != "hi" {
		t.Fatalf("String = %q, %v", s, err)
	}
	if b, err := args.Bool("ok"); err != nil || !b {
		t.Fatalf("Bool = %v, %v", b, err)
	}
	if _, err := args.Int("s"); err == nil {
		t.Fatal("expected type error")
	}
	if _, err := args.Int("missing"); err == nil {
		t.Fatal("expected missing argument error")
	}
	if !args.Has("n") || args.Has("missing") || args.Len() != 4 {
		t.Fatal("Has/Len mismatch")
	}
	if raw, ok := args.Raw("s"); !ok || string(raw) != `"hi"` {
		t.Fatalf("Raw = %s, %v", raw, ok)
	}

	var bound struct {
		N  int     `json:"n"`
		X  float64 `json:"x"`
		S  string  `json:"s"`
		OK bool    `json:"ok"`
	}
	if err := args.Bind(&bound); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if bound.N != 3 || bound.S != "hi" || !bound.OK {
		t.Fatalf("bound = %+v", bound)
	}
}

func TestTyped(t *testing.T) {
	fn := Typed(func(_ context.Context, in addArgs) (int, error) { return in.A - in.B, nil })
	kw := protocol.Kwargs{"a": json.RawMessage("7"), "b": json.RawMessage("2")}
	v, err := fn(context.Background(), NewArgs(kw))
	if err != nil || v.(int) != 5 {
		t.Fatalf("Typed = %v, %v", v, err)
	}
	if _, err := fn(context.Background(), NewArgs(protocol.Kwargs{"a": json.RawMessage(`"x"`)})); err == nil {
		t.Fatal("expected bind error")
	}
}
