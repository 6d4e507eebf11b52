// Package caller issues remote function calls. Call queues a request and
// returns a Promise; the endpoint loop publishes queued requests and
// resolves promises as correlated responses arrive on the RESPONSE channel.
package caller

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/funcall/internal/endpoint"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/metrics"
	"github.com/oriys/funcall/internal/observability"
	"github.com/oriys/funcall/internal/protocol"
	"github.com/oriys/funcall/internal/task"
	"github.com/oriys/funcall/internal/transport"
	"go.opentelemetry.io/otel/trace"
)

const role = "caller"

type Option func(*Caller)

// WithTickInterval sets the endpoint loop period.
func WithTickInterval(d time.Duration) Option {
	return func(c *Caller) {
		c.endpointOpts = append(c.endpointOpts, endpoint.WithTickInterval(d))
	}
}

// Caller is an endpoint that sends requests and correlates responses.
// Tasks whose response never arrives stay live forever.
type Caller struct {
	*endpoint.Endpoint

	tasks        *task.Collection[*callTask]
	endpointOpts []endpoint.Option
}

type callTask struct {
	*task.Task
	promise *Promise
	span    trace.Span
	created time.Time
}

// New creates a stopped caller on tr.
func New(tr transport.Transport, opts ...Option) *Caller {
	c := &Caller{tasks: task.NewCollection[*callTask]()}
	for _, opt := range opts {
		opt(c)
	}
	c.Endpoint = endpoint.New(role, tr, c, c.endpointOpts...)
	return c
}

// Channel implements endpoint.Handler.
func (c *Caller) Channel() transport.Channel { return transport.ChannelResponse }

// Drain implements endpoint.Handler.
func (c *Caller) Drain(ctx context.Context) {
	c.DrainPending(ctx)
}

// Call queues a call of name with kwargs and returns its promise. It never
// blocks; it fails only when a kwarg value cannot be encoded as JSON.
func (c *Caller) Call(name string, kwargs map[string]any) (*Promise, error) {
	kw, err := protocol.NewKwargs(kwargs)
	if err != nil {
		return nil, err
	}
	return c.CallKwargs(name, kw), nil
}

// CallKwargs is Call with already-encoded keyword arguments.
func (c *Caller) CallKwargs(name string, kwargs protocol.Kwargs) *Promise {
	var ct *callTask
	for {
		t := task.New("", name, kwargs)
		ct = &callTask{Task: t, promise: newPromise(t.ID(), name), created: time.Now()}
		if c.tasks.Add(ct) {
			break
		}
	}
	_, ct.span = observability.StartProducerSpan(context.Background(), "funcall.call",
		observability.AttrFunctionName.String(name),
		observability.AttrTaskID.String(ct.ID()),
		observability.AttrRole.String(role),
	)
	metrics.SetLiveTasks(role, c.tasks.Len())
	c.Wake()
	return ct.promise
}

// Pending returns the number of calls awaiting a response.
func (c *Caller) Pending() int { return c.tasks.Len() }

// DrainPending publishes the request of every PENDING task and marks it
// EXECUTING. A task whose publish fails stays PENDING for the next tick.
func (c *Caller) DrainPending(ctx context.Context) {
	for _, t := range c.tasks.Filter(protocol.StatusPending) {
		payload, err := t.Request().Encode()
		if err != nil {
			logging.Op().Error("cannot encode request", "task_id", t.ID(), "function", t.FunctionName(), "error", err)
			c.resolve(t, protocol.ExitBadRequest, nil)
			continue
		}
		if err := c.Transport().Publish(ctx, transport.ChannelRequest, payload); err != nil {
			metrics.RecordPublishError(string(transport.ChannelRequest))
			logging.Op().Warn("publish request failed", "task_id", t.ID(), "function", t.FunctionName(), "error", err)
			continue
		}
		if err := t.Start(); err != nil {
			logging.Op().Error("request published twice", "task_id", t.ID(), "error", err)
		}
	}
}

// HandleMessage correlates one response payload with a live task.
func (c *Caller) HandleMessage(_ context.Context, payload []byte) {
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		id, ok := protocol.MalformedID(err)
		if !ok {
			reason := metrics.DropUnidentifiable
			if errors.Is(err, protocol.ErrUnparsable) {
				reason = metrics.DropUnparsable
			}
			c.drop(reason, "", err)
			return
		}
		t, ok := c.tasks.Get(id)
		if !ok {
			c.drop(metrics.DropUnknownID, id, err)
			return
		}
		logging.Op().Debug("malformed response", "task_id", id, "error", err)
		c.resolve(t, protocol.ExitBadResponse, nil)
		return
	}

	t, ok := c.tasks.Get(resp.ID)
	if !ok {
		c.drop(metrics.DropUnknownID, resp.ID, nil)
		return
	}
	c.resolve(t, resp.ExitCode, resp.Output)
}

func (c *Caller) drop(reason, id string, err error) {
	metrics.RecordMessageDropped(string(transport.ChannelResponse), reason)
	logging.Op().Debug("dropping response", "reason", reason, "task_id", id, "error", err)
}

// resolve completes t, forgets it and fires its promise.
func (c *Caller) resolve(t *callTask, code protocol.ExitCode, output protocol.Output) {
	if err := t.Complete(code, output); err != nil {
		return
	}
	c.tasks.Remove(t.ID())
	metrics.RecordTaskCompleted(role, code.String())
	metrics.SetLiveTasks(role, c.tasks.Len())

	if t.span != nil {
		t.span.SetAttributes(
			observability.AttrExitCode.String(code.String()),
			observability.AttrDurationMs.Int64(time.Since(t.created).Milliseconds()),
		)
		if code.IsSuccess() {
			observability.SetSpanOK(t.span)
		} else {
			observability.SetSpanError(t.span, errors.New(code.String()))
		}
		t.span.End()
	}
	t.promise.resolve(code, output)
}
