package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/oriys/funcall/internal/logging"
	"github.com/redis/go-redis/v9"
)

// RedisTransport carries messages over Redis PUBLISH/SUBSCRIBE. Redis pub/sub
// is fire-and-forget: a message published while nobody is subscribed is
// lost, which matches the delivery model of the core. QoS is ignored.
type RedisTransport struct {
	client *redis.Client
	opts   Options
	inbox  *inbox

	mu        sync.Mutex
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	channels  []Channel
	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewRedisTransport creates a transport on top of client. The client is
// owned by the caller and is not closed by Disconnect.
func NewRedisTransport(client *redis.Client, opts Options) *RedisTransport {
	return &RedisTransport{
		client: client,
		opts:   opts,
		inbox:  newInbox(opts.inboxSize()),
	}
}

func (t *RedisTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected.Load() {
		return nil
	}
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	topics := make([]string, 0, len(t.channels))
	for _, ch := range t.channels {
		topics = append(topics, t.opts.topic(ch))
	}
	pubsub := t.client.Subscribe(subCtx, topics...)
	t.pubsub = pubsub
	t.cancel = cancel
	t.connected.Store(true)

	t.wg.Add(1)
	go t.forward(subCtx, pubsub)

	logging.Op().Info("connected to redis", "addr", t.client.Options().Addr)
	return nil
}

func (t *RedisTransport) forward(ctx context.Context, pubsub *redis.PubSub) {
	defer t.wg.Done()
	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			t.inbox.push(Delivery{
				Channel: t.opts.channel(msg.Channel),
				Payload: []byte(msg.Payload),
			})
		}
	}
}

func (t *RedisTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected.Swap(false) {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.cancel()
	err := t.pubsub.Close()
	t.pubsub = nil
	t.mu.Unlock()

	t.wg.Wait()
	t.inbox.drain()
	return err
}

func (t *RedisTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *RedisTransport) Subscribe(ctx context.Context, ch Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.channels, ch) {
		t.channels = append(t.channels, ch)
	}
	if t.pubsub == nil {
		return nil
	}
	if err := t.pubsub.Subscribe(ctx, t.opts.topic(ch)); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", ch, err)
	}
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, ch Channel, payload []byte) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.client.Publish(ctx, t.opts.topic(ch), payload).Err()
}

func (t *RedisTransport) Deliveries() <-chan Delivery {
	return t.inbox.ch
}
