package executor

import (
	"time"

	"github.com/oriys/funcall/internal/endpoint"
	"github.com/oriys/funcall/internal/logging"
)

type Option func(*Executor)

// WithLogger sets the call logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithRegistry serves the functions registered in r when the option is
// applied. Later changes to r do not reach the executor.
func WithRegistry(r *Registry) Option {
	return func(e *Executor) {
		e.registry = r.clone()
	}
}

// WithTickInterval sets the endpoint loop period.
func WithTickInterval(d time.Duration) Option {
	return func(e *Executor) {
		e.endpointOpts = append(e.endpointOpts, endpoint.WithTickInterval(d))
	}
}

// safeGo runs f in a new goroutine with panic recovery so that a failure
// in fire-and-forget background work never crashes the process.
func safeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Op().Error("recovered panic in async task", "panic", r)
			}
		}()
		f()
	}()
}
