// Package executor serves registered functions to remote callers. Requests
// arrive on the REQUEST channel, each valid one runs on its own goroutine,
// and the outcome is published on the RESPONSE channel exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/funcall/internal/endpoint"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/metrics"
	"github.com/oriys/funcall/internal/observability"
	"github.com/oriys/funcall/internal/protocol"
	"github.com/oriys/funcall/internal/task"
	"github.com/oriys/funcall/internal/transport"
)

const role = "executor"

// Executor is an endpoint that runs requested functions.
type Executor struct {
	*endpoint.Endpoint

	registry     *Registry
	tasks        *task.Collection[*execTask]
	logger       *logging.Logger
	endpointOpts []endpoint.Option

	// inflight counts executions whose goroutine has not returned.
	inflight sync.WaitGroup
}

// execTask is a task bound to the function resolved for it. Rejected
// requests have no function and start out COMPLETED.
type execTask struct {
	*task.Task
	fn       Func
	received time.Time
}

// New creates a stopped executor on tr.
func New(tr transport.Transport, opts ...Option) *Executor {
	e := &Executor{
		registry: NewRegistry(),
		tasks:    task.NewCollection[*execTask](),
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Endpoint = endpoint.New(role, tr, e, e.endpointOpts...)
	return e
}

// Functions returns the names callers can invoke, in sorted order.
func (e *Executor) Functions() []string { return e.registry.Names() }

// Register makes fn callable under name. Registration is closed once the
// executor runs.
func (e *Executor) Register(name string, fn Func) error {
	if e.Running() {
		return fmt.Errorf("%w: register %q while running", endpoint.ErrOrdering, name)
	}
	return e.registry.Register(name, fn)
}

// Channel implements endpoint.Handler.
func (e *Executor) Channel() transport.Channel { return transport.ChannelRequest }

// Drain implements endpoint.Handler: dispatch pending tasks, then publish
// completed ones.
func (e *Executor) Drain(ctx context.Context) {
	e.DrainPending(ctx)
	e.DrainCompleted(ctx)
}

// HandleMessage turns one request payload into a task. Garbage and
// malformed requests without an id are dropped; other malformed requests
// and unknown functions become already-completed tasks.
func (e *Executor) HandleMessage(ctx context.Context, payload []byte) {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		id, ok := protocol.MalformedID(err)
		if !ok {
			e.drop(err)
			return
		}
		logging.Op().Debug("rejecting malformed request", "task_id", id, "error", err)
		e.admit(&execTask{Task: task.NewCompleted(id, protocol.ExitBadRequest, nil)})
		return
	}

	if req.ID == "" {
		// No caller can correlate a response to an empty id.
		e.drop(&protocol.MalformedError{Field: protocol.FieldID, Reason: "empty id"})
		return
	}

	fn, ok := e.registry.Lookup(req.FunctionName)
	if !ok {
		logging.Op().Debug("function not found", "task_id", req.ID, "function", req.FunctionName)
		e.admit(&execTask{Task: task.NewCompleted(req.ID, protocol.ExitFunctionNotFound, nil)})
		return
	}
	e.admit(&execTask{
		Task:     task.New(req.ID, req.FunctionName, req.FunctionKwargs),
		fn:       fn,
		received: time.Now(),
	})
}

func (e *Executor) drop(err error) {
	reason := metrics.DropUnidentifiable
	if errors.Is(err, protocol.ErrUnparsable) {
		reason = metrics.DropUnparsable
	}
	metrics.RecordMessageDropped(string(transport.ChannelRequest), reason)
	logging.Op().Debug("dropping request", "reason", reason, "error", err)
}

func (e *Executor) admit(t *execTask) {
	if !e.tasks.Add(t) {
		metrics.RecordMessageDropped(string(transport.ChannelRequest), metrics.DropDuplicateID)
		logging.Op().Debug("dropping request with live task id", "task_id", t.ID())
		return
	}
	metrics.SetLiveTasks(role, e.tasks.Len())
}

// DrainPending moves every PENDING task to EXECUTING and runs it on its own
// goroutine. There is no concurrency limit.
func (e *Executor) DrainPending(ctx context.Context) {
	for _, t := range e.tasks.Filter(protocol.StatusPending) {
		if err := t.Start(); err != nil {
			continue
		}
		e.inflight.Add(1)
		metrics.IncInflight()
		go func(t *execTask) {
			defer e.inflight.Done()
			defer metrics.DecInflight()
			e.execute(ctx, t)
			e.Wake()
		}(t)
	}
}

// DrainCompleted publishes the response of every COMPLETED task and forgets
// it. A task whose publish fails stays for the next tick.
func (e *Executor) DrainCompleted(ctx context.Context) {
	for _, t := range e.tasks.Filter(protocol.StatusCompleted) {
		resp, err := t.Response()
		if err == nil {
			var payload []byte
			payload, err = resp.Encode()
			if err == nil {
				if perr := e.Transport().Publish(ctx, transport.ChannelResponse, payload); perr != nil {
					metrics.RecordPublishError(string(transport.ChannelResponse))
					logging.Op().Warn("publish response failed", "task_id", t.ID(), "error", perr)
					continue
				}
				metrics.RecordTaskCompleted(role, resp.ExitCode.String())
			}
		}
		if err != nil {
			logging.Op().Error("discarding unencodable response", "task_id", t.ID(), "error", err)
		}
		e.tasks.Remove(t.ID())
	}
	metrics.SetLiveTasks(role, e.tasks.Len())
}

// execute runs the task's function and records its outcome. Execution is
// detached from ctx cancellation: once started, a function runs to the end.
func (e *Executor) execute(ctx context.Context, t *execTask) {
	if t.Status() != protocol.StatusExecuting || t.fn == nil {
		return
	}

	ctx, span := observability.StartConsumerSpan(context.WithoutCancel(ctx), "funcall.execute",
		observability.AttrFunctionName.String(t.FunctionName()),
		observability.AttrTaskID.String(t.ID()),
	)
	defer span.End()

	start := time.Now()
	code, output, callErr := invoke(ctx, t.fn, NewArgs(t.Kwargs()))
	duration := time.Since(start)

	if err := t.Complete(code, output); err != nil {
		logging.Op().Error("task completed twice", "task_id", t.ID(), "error", err)
		return
	}

	span.SetAttributes(
		observability.AttrExitCode.String(code.String()),
		observability.AttrDurationMs.Int64(duration.Milliseconds()),
	)
	if callErr != nil {
		observability.SetSpanError(span, callErr)
	} else {
		observability.SetSpanOK(span)
	}
	metrics.RecordExecution(t.FunctionName(), float64(duration.Microseconds())/1000, code.String())

	traceID, spanID := observability.TraceIDs(ctx)
	entry := &logging.CallLog{
		Timestamp:  start,
		TaskID:     t.ID(),
		TraceID:    traceID,
		Function:   t.FunctionName(),
		ExitCode:   code.String(),
		DurationMs: duration.Milliseconds(),
		InputSize:  kwargsSize(t.Kwargs()),
		OutputSize: len(output),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	safeGo(func() { e.logger.Log(entry) })

	logging.OpWithTrace(traceID, spanID).Debug("task executed",
		"task_id", t.ID(),
		"function", t.FunctionName(),
		"exit_code", code,
		"queued_ms", start.Sub(t.received).Milliseconds(),
		"duration_ms", duration.Milliseconds(),
	)
}

// invoke is the supervised call boundary: errors, panics and results that
// cannot be encoded all become ERROR with a non-empty text output.
func invoke(ctx context.Context, fn Func, args Args) (code protocol.ExitCode, output protocol.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			text := fmt.Sprint(r)
			if text == "" {
				text = "panic"
			}
			code, output, err = protocol.ExitError, protocol.TextOutput(text), fmt.Errorf("panic: %s", text)
		}
	}()

	v, err := fn(ctx, args)
	if err != nil {
		return protocol.ExitError, protocol.TextOutput(errorText(err)), err
	}
	output, err = protocol.NewOutput(v)
	if err != nil {
		return protocol.ExitError, protocol.TextOutput(err.Error()), err
	}
	return protocol.ExitSuccess, output, nil
}

func errorText(err error) string {
	if s := err.Error(); s != "" {
		return s
	}
	return fmt.Sprintf("%T", err)
}

func kwargsSize(kw protocol.Kwargs) int {
	n := 0
	for k, v := range kw {
		n += len(k) + len(v)
	}
	return n
}

// Shutdown waits up to timeout for running functions, publishes what they
// produced and stops the endpoint.
func (e *Executor) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logging.Op().Warn("executor shutdown timed out with functions still running", "timeout", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Tick(ctx); err != nil && !errors.Is(err, endpoint.ErrOrdering) {
		return err
	}
	return e.Stop()
}
