// Package transport is the publish/subscribe boundary under the endpoints.
// The core only needs two named channels, a way to publish bytes on one of
// them and a stream of deliveries for the channels it subscribed to.
//
// Implementations:
//   - MemoryTransport: in-process broker fan-out, for tests and single-process runs
//   - RedisTransport: Redis PUBLISH/SUBSCRIBE
//   - MQTTTransport: MQTT 3.1.1 broker with a uniform QoS for every publish
//
// None of them guarantees delivery. Deliveries that do not fit in the inbox
// are dropped and counted.
package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/metrics"
)

// Channel names a topic shared by every caller and executor.
type Channel string

const (
	ChannelRequest  Channel = "REQUEST"
	ChannelResponse Channel = "RESPONSE"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("transport: not connected")

// DefaultInboxSize is the number of undelivered messages buffered per
// transport.
const DefaultInboxSize = 1024

// Delivery is one message received on a subscribed channel.
type Delivery struct {
	Channel Channel
	Payload []byte
}

// Transport is the collaborator an endpoint drives.
type Transport interface {
	// Connect establishes the connection to the broker.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Pending deliveries are discarded.
	Disconnect() error

	IsConnected() bool

	// Subscribe starts delivering messages published on ch. Subscriptions
	// survive reconnects.
	Subscribe(ctx context.Context, ch Channel) error

	// Publish sends payload on ch with the transport's configured QoS.
	Publish(ctx context.Context, ch Channel, payload []byte) error

	// Deliveries returns the stream of received messages.
	Deliveries() <-chan Delivery
}

// Options are shared by every implementation.
type Options struct {
	// TopicPrefix is prepended to channel names on the broker, so several
	// deployments can share one broker. Empty by default.
	TopicPrefix string
	// QoS is the MQTT delivery assurance level (0, 1 or 2) applied to every
	// publish and subscription. Brokers without QoS ignore it.
	QoS byte
	// InboxSize bounds buffered deliveries. Zero means DefaultInboxSize.
	InboxSize int
}

func (o Options) topic(ch Channel) string {
	return o.TopicPrefix + string(ch)
}

func (o Options) channel(topic string) Channel {
	return Channel(strings.TrimPrefix(topic, o.TopicPrefix))
}

func (o Options) inboxSize() int {
	if o.InboxSize <= 0 {
		return DefaultInboxSize
	}
	return o.InboxSize
}

// inbox buffers deliveries between the broker client and the endpoint loop.
type inbox struct {
	ch chan Delivery
}

func newInbox(size int) *inbox {
	return &inbox{ch: make(chan Delivery, size)}
}

// push never blocks: the broker side must not stall on a slow endpoint.
func (b *inbox) push(d Delivery) bool {
	select {
	case b.ch <- d:
		metrics.RecordMessageReceived(string(d.Channel))
		return true
	default:
		metrics.RecordMessageDropped(string(d.Channel), metrics.DropInboxFull)
		logging.Op().Warn("transport inbox full, dropping delivery", "channel", d.Channel, "bytes", len(d.Payload))
		return false
	}
}

// drain discards everything buffered.
func (b *inbox) drain() {
	for {
		select {
		case <-b.ch:
		default:
			return
		}
	}
}
