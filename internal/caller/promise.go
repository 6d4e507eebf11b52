package caller

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/protocol"
)

// ThenFunc receives the output of a successful call.
type ThenFunc func(output protocol.Output)

// CatchFunc receives the exit code and output of a failed call.
type CatchFunc func(code protocol.ExitCode, output protocol.Output)

// CallError is the error Wait returns for a call that did not succeed.
type CallError struct {
	TaskID   string
	Function string
	ExitCode protocol.ExitCode
	Output   protocol.Output
}

func (e *CallError) Error() string {
	if e.Output.IsNull() {
		return fmt.Sprintf("call %s (task %s): %s", e.Function, e.TaskID, e.ExitCode)
	}
	return fmt.Sprintf("call %s (task %s): %s: %s", e.Function, e.TaskID, e.ExitCode, e.Output.Text())
}

// Promise is the pending result of one remote call. Exactly one of its
// listeners fires, at most once: Then for SUCCESS, Catch for every other
// exit code. A listener attached after the call resolved fires right away;
// an outcome with no matching listener is never delivered.
type Promise struct {
	taskID   string
	function string
	done     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	then      ThenFunc
	catch     CatchFunc
	resolved  bool
	delivered bool
	code      protocol.ExitCode
	output    protocol.Output
}

func newPromise(taskID, function string) *Promise {
	return &Promise{
		taskID:   taskID,
		function: function,
		done:     make(chan struct{}),
	}
}

// TaskID returns the id correlating the call's request and response.
func (p *Promise) TaskID() string { return p.taskID }

func (p *Promise) Function() string { return p.function }

// Then sets the success listener and returns p for chaining.
func (p *Promise) Then(fn ThenFunc) *Promise {
	p.mu.Lock()
	p.then = fn
	p.mu.Unlock()
	p.deliver()
	return p
}

// Catch sets the failure listener and returns p for chaining.
func (p *Promise) Catch(fn CatchFunc) *Promise {
	p.mu.Lock()
	p.catch = fn
	p.mu.Unlock()
	p.deliver()
	return p
}

// Done is closed once the call has resolved.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Result returns the outcome once resolved.
func (p *Promise) Result() (protocol.ExitCode, protocol.Output, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.output, p.resolved
}

// Wait blocks until the call resolves or ctx is done. A call that did not
// succeed returns a *CallError alongside its output. Giving up on Wait
// does not cancel the call.
func (p *Promise) Wait(ctx context.Context) (protocol.Output, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	code, output, _ := p.Result()
	if !code.IsSuccess() {
		return output, &CallError{TaskID: p.taskID, Function: p.function, ExitCode: code, Output: output}
	}
	return output, nil
}

func (p *Promise) resolve(code protocol.ExitCode, output protocol.Output) {
	p.once.Do(func() {
		p.mu.Lock()
		p.resolved = true
		p.code = code
		p.output = output
		p.mu.Unlock()
		close(p.done)
		p.deliver()
	})
}

// deliver fires the matching listener if the promise is resolved and the
// outcome has not been delivered yet.
func (p *Promise) deliver() {
	p.mu.Lock()
	if !p.resolved || p.delivered {
		p.mu.Unlock()
		return
	}
	code, output := p.code, p.output
	var fire func()
	switch {
	case code.IsSuccess() && p.then != nil:
		then := p.then
		fire = func() { then(output) }
	case !code.IsSuccess() && p.catch != nil:
		catch := p.catch
		fire = func() { catch(code, output) }
	}
	if fire == nil {
		p.mu.Unlock()
		return
	}
	p.delivered = true
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in promise listener", "task_id", p.taskID, "function", p.function, "panic", r)
		}
	}()
	fire()
}
