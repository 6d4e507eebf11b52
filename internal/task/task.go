// Package task holds the state shared by executor-side and caller-side
// tasks: identity, the PENDING -> EXECUTING -> COMPLETED state machine and
// the collection an endpoint keeps its live tasks in.
package task

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/oriys/funcall/internal/protocol"
)

// IDLength is the length of generated task IDs.
const IDLength = 10

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var alphabetSize = big.NewInt(int64(len(idAlphabet)))

// ErrTransition is returned for a state change the lifecycle does not allow.
var ErrTransition = errors.New("task: invalid status transition")

// NewID returns a random ID drawn from a cryptographically secure source.
func NewID() string {
	b := make([]byte, IDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("task: read random: %v", err))
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}

// Task is one remote call. Status, exit code and output are guarded by a
// mutex because an executor completes tasks from the goroutine running the
// function while the endpoint loop reads them.
type Task struct {
	id           string
	functionName string
	kwargs       protocol.Kwargs

	mu       sync.Mutex
	status   protocol.Status
	exitCode *protocol.ExitCode
	output   protocol.Output
}

// New creates a PENDING task. An empty id is replaced by a generated one.
func New(id, functionName string, kwargs protocol.Kwargs) *Task {
	if id == "" {
		id = NewID()
	}
	if kwargs == nil {
		kwargs = protocol.Kwargs{}
	}
	return &Task{
		id:           id,
		functionName: functionName,
		kwargs:       kwargs,
		status:       protocol.StatusPending,
	}
}

// NewCompleted creates a task that is already COMPLETED with code. It is
// used for rejections that never reach a function.
func NewCompleted(id string, code protocol.ExitCode, output protocol.Output) *Task {
	t := New(id, "", nil)
	t.status = protocol.StatusCompleted
	t.exitCode = &code
	t.output = output
	return t
}

func (t *Task) ID() string { return t.id }
func (t *Task) FunctionName() string { return t.functionName }
func (t *Task) Kwargs() protocol.Kwargs { return t.kwargs }
func (t *Task) String() string { return t.id }

func (t *Task) Status() protocol.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ExitCode returns the exit code and whether it is set. It is set iff the
// task is COMPLETED.
func (t *Task) ExitCode() (protocol.ExitCode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exitCode == nil {
		return 0, false
	}
	return *t.exitCode, true
}

func (t *Task) Output() protocol.Output {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

func (t *Task) IsCompleted() bool {
	return t.Status() == protocol.StatusCompleted
}

// Start moves a PENDING task to EXECUTING.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != protocol.StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, t.status, protocol.StatusExecuting)
	}
	t.status = protocol.StatusExecuting
	return nil
}

// Complete records the outcome. Only the first call on a task that is not
// yet COMPLETED takes effect.
func (t *Task) Complete(code protocol.ExitCode, output protocol.Output) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == protocol.StatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, t.status, protocol.StatusCompleted)
	}
	t.status = protocol.StatusCompleted
	t.exitCode = &code
	t.output = output
	return nil
}

// Request builds the wire request for the task.
func (t *Task) Request() *protocol.Request {
	return &protocol.Request{
		ID:             t.id,
		FunctionName:   t.functionName,
		FunctionKwargs: t.kwargs,
	}
}

// Response builds the wire response for a COMPLETED task.
func (t *Task) Response() (*protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != protocol.StatusCompleted || t.exitCode == nil {
		return nil, fmt.Errorf("task %s: response requested in status %s", t.id, t.status)
	}
	return &protocol.Response{
		ID:       t.id,
		Status:   t.status,
		Output:   t.output,
		ExitCode: *t.exitCode,
	}, nil
}
