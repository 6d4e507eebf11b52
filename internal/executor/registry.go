package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateName is returned when a function name is registered twice.
var ErrDuplicateName = errors.New("executor: function name already registered")

// Func is a function callers can invoke by name. The returned value becomes
// the response output and must be JSON-encodable.
type Func func(ctx context.Context, args Args) (any, error)

// Typed adapts a function taking a struct of keyword arguments. The kwargs
// object is decoded into In; unknown keyword arguments are an error.
func Typed[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Func {
	return func(ctx context.Context, args Args) (any, error) {
		var in In
		if err := args.Bind(&in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

// Registry maps function names to implementations. Each executor owns its
// own registry.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return errors.New("executor: function name is empty")
	}
	if fn == nil {
		return fmt.Errorf("executor: function %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, fn := range r.funcs {
		c.funcs[name] = fn
	}
	return c
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
