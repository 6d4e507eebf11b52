package main

import (
	"context"
	"errors"

	"github.com/oriys/funcall/internal/executor"
)

type pair struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// demoRegistry returns the functions the executor command serves.
func demoRegistry() *executor.Registry {
	r := executor.NewRegistry()

	r.MustRegister("hello", func(_ context.Context, args executor.Args) (any, error) {
		value, err := args.String("value")
		if err != nil {
			return nil, err
		}
		return value + " hello!", nil
	})
	r.MustRegister("add", executor.Typed(func(_ context.Context, in pair) (float64, error) {
		return in.A + in.B, nil
	}))
	r.MustRegister("sub", executor.Typed(func(_ context.Context, in pair) (float64, error) {
		return in.A - in.B, nil
	}))
	r.MustRegister("echo", func(_ context.Context, args executor.Args) (any, error) {
		return args.Kwargs(), nil
	})
	r.MustRegister("fail", func(_ context.Context, args executor.Args) (any, error) {
		msg := "requested failure"
		if args.Has("message") {
			m, err := args.String("message")
			if err != nil {
				return nil, err
			}
			msg = m
		}
		return nil, errors.New(msg)
	})

	return r
}
