package transport

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// Broker is an in-process publish/subscribe hub. Every transport subscribed
// to a channel receives its own copy of each message published on it.
type Broker struct {
	mu          sync.Mutex
	subscribers map[Channel][]*MemoryTransport
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[Channel][]*MemoryTransport)}
}

// Transport returns a new, disconnected transport attached to the broker.
func (b *Broker) Transport(opts Options) *MemoryTransport {
	return &MemoryTransport{
		broker: b,
		inbox:  newInbox(opts.inboxSize()),
	}
}

func (b *Broker) publish(ch Channel, payload []byte) {
	b.mu.Lock()
	subs := slices.Clone(b.subscribers[ch])
	b.mu.Unlock()

	for _, t := range subs {
		data := make([]byte, len(payload))
		copy(data, payload)
		t.inbox.push(Delivery{Channel: ch, Payload: data})
	}
}

func (b *Broker) subscribe(ch Channel, t *MemoryTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.subscribers[ch], t) {
		return
	}
	b.subscribers[ch] = append(b.subscribers[ch], t)
}

func (b *Broker) unsubscribeAll(t *MemoryTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, subs := range b.subscribers {
		b.subscribers[ch] = slices.DeleteFunc(subs, func(s *MemoryTransport) bool { return s == t })
	}
}

// MemoryTransport is a Transport backed by a Broker.
type MemoryTransport struct {
	broker    *Broker
	inbox     *inbox
	connected atomic.Bool

	mu       sync.Mutex
	channels []Channel
}

func (t *MemoryTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected.Store(true)
	for _, ch := range t.channels {
		t.broker.subscribe(ch, t)
	}
	return nil
}

func (t *MemoryTransport) Disconnect() error {
	if !t.connected.Swap(false) {
		return ErrNotConnected
	}
	t.broker.unsubscribeAll(t)
	t.inbox.drain()
	return nil
}

func (t *MemoryTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *MemoryTransport) Subscribe(_ context.Context, ch Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.channels, ch) {
		t.channels = append(t.channels, ch)
	}
	if t.connected.Load() {
		t.broker.subscribe(ch, t)
	}
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, ch Channel, payload []byte) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.broker.publish(ch, payload)
	return nil
}

func (t *MemoryTransport) Deliveries() <-chan Delivery {
	return t.inbox.ch
}
