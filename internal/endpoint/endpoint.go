// Package endpoint drives one role (caller or executor) against a
// transport. A single loop goroutine services received messages and then
// lets the role drain its task collection, once per tick.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/transport"
)

// ErrOrdering is returned when Start, Stop or Tick is called in a state
// that does not allow it.
var ErrOrdering = errors.New("endpoint: operation out of order")

// DefaultTickInterval bounds how long completed work can wait for the loop
// when no message arrives to wake it.
const DefaultTickInterval = 10 * time.Millisecond

// Handler is the role an endpoint drives.
type Handler interface {
	// Channel is the channel the role consumes.
	Channel() transport.Channel

	// HandleMessage processes one received payload. It must not block.
	HandleMessage(ctx context.Context, payload []byte)

	// Drain advances the role's tasks: publish pending requests on a caller,
	// execute and publish on an executor.
	Drain(ctx context.Context)
}

type Option func(*Endpoint)

// WithTickInterval sets the loop period.
func WithTickInterval(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.interval = d
		}
	}
}

// Endpoint owns the transport connection and the loop goroutine.
type Endpoint struct {
	name     string
	tr       transport.Transport
	h        Handler
	interval time.Duration
	wake     chan struct{}

	// tickMu keeps ticks single-threaded when Tick is called while the loop
	// is running. inTick is set while it is held.
	tickMu sync.Mutex
	inTick atomic.Bool

	mu      sync.Mutex
	running bool
	cur     *run
}

// run is one Start..Stop cycle of the loop.
type run struct {
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}
	err    error // disconnect error, valid once done is closed
}

// New creates a stopped endpoint. name identifies the role in logs.
func New(name string, tr transport.Transport, h Handler, opts ...Option) *Endpoint {
	e := &Endpoint{
		name:     name,
		tr:       tr,
		h:        h,
		interval: DefaultTickInterval,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Endpoint) Name() string { return e.name }

// Transport returns the transport the endpoint drives.
func (e *Endpoint) Transport() transport.Transport { return e.tr }

// Running reports whether the loop is active.
func (e *Endpoint) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start connects, subscribes to the role's channel and launches the loop in
// the background. ctx bounds the connection attempt only.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("%w: %s already running", ErrOrdering, e.name)
	}
	// Subscriptions are replayed by the transport on every (re)connect.
	if err := e.tr.Subscribe(ctx, e.h.Channel()); err != nil {
		return fmt.Errorf("%s subscribe: %w", e.name, err)
	}
	if err := e.tr.Connect(ctx); err != nil {
		return fmt.Errorf("%s connect: %w", e.name, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.running = true
	e.cur = r
	go e.loop(loopCtx, r)

	logging.Op().Info("endpoint started", "role", e.name, "channel", e.h.Channel(), "tick_interval", e.interval)
	return nil
}

// Run starts the endpoint and blocks until ctx is cancelled or the endpoint
// is stopped elsewhere.
func (e *Endpoint) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		if err := e.Stop(); err != nil && !errors.Is(err, ErrOrdering) {
			return err
		}
	case <-r.done:
	}
	<-r.done
	return r.err
}

// Stop ends the loop, waits for it to exit and disconnects. Tasks still in
// flight are abandoned. Called during a tick, for example from a promise
// listener, Stop returns at once and the loop disconnects when the tick
// ends.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s not running", ErrOrdering, e.name)
	}
	e.running = false
	r := e.cur
	close(r.stopCh)
	e.mu.Unlock()

	if e.inTick.Load() {
		return nil
	}
	<-r.done
	return r.err
}

// Tick runs one iteration synchronously. It requires a running, connected
// endpoint.
func (e *Endpoint) Tick(ctx context.Context) error {
	if !e.Running() || !e.tr.IsConnected() {
		return fmt.Errorf("%w: %s tick while not running and connected", ErrOrdering, e.name)
	}
	e.tick(ctx)
	return nil
}

// Wake asks the loop to tick as soon as possible. It never blocks.
func (e *Endpoint) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) loop(ctx context.Context, r *run) {
	ticker := time.NewTicker(e.interval)
	defer func() {
		ticker.Stop()
		e.finish(r)
	}()

	deliveries := e.tr.Deliveries()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		select {
		case <-r.stopCh:
			return
		case d := <-deliveries:
			e.tickMu.Lock()
			e.inTick.Store(true)
			e.handle(ctx, d)
			e.inTick.Store(false)
			e.tickMu.Unlock()
			e.tick(ctx)
		case <-e.wake:
			e.tick(ctx)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// finish disconnects the transport once the loop has exited, unless the
// endpoint was started again in the meantime.
func (e *Endpoint) finish(r *run) {
	// Wait out a Tick still running on another goroutine.
	e.tickMu.Lock()
	e.tickMu.Unlock()
	r.cancel()

	e.mu.Lock()
	if e.cur == r {
		err := e.tr.Disconnect()
		if errors.Is(err, transport.ErrNotConnected) {
			err = nil
		}
		r.err = err
	}
	e.mu.Unlock()

	logging.Op().Info("endpoint stopped", "role", e.name)
	close(r.done)
}

// tick services the deliveries already buffered, then drains the role.
func (e *Endpoint) tick(ctx context.Context) {
	e.tickMu.Lock()
	e.inTick.Store(true)
	defer func() {
		e.inTick.Store(false)
		e.tickMu.Unlock()
	}()

	deliveries := e.tr.Deliveries()
	for n := len(deliveries); n > 0; n-- {
		select {
		case d := <-deliveries:
			e.handle(ctx, d)
		default:
			n = 0
		}
	}
	e.h.Drain(ctx)
}

func (e *Endpoint) handle(ctx context.Context, d transport.Delivery) {
	if d.Channel != e.h.Channel() {
		logging.Op().Debug("ignoring delivery on foreign channel", "role", e.name, "channel", d.Channel)
		return
	}
	e.h.HandleMessage(ctx, d.Payload)
}
