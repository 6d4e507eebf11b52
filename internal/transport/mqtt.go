package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/oriys/funcall/internal/logging"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	// Host is a broker host name, or a full URL such as ssl://host:8883.
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	// ClientID defaults to a random funcall-<uuid> identifier.
	ClientID string
}

// BrokerURL returns the URL paho dials.
func (c MQTTConfig) BrokerURL() string {
	if strings.Contains(c.Host, "://") {
		return c.Host
	}
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	port := c.Port
	if port == 0 {
		port = 1883
		if c.TLS {
			port = 8883
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, port)
}

const mqttDisconnectQuiesce = 250 // ms

// MQTTTransport carries messages over an MQTT 3.1.1 broker using a clean
// session. Subscriptions are replayed after every (re)connect.
type MQTTTransport struct {
	cfg   MQTTConfig
	opts  Options
	inbox *inbox

	mu       sync.Mutex
	client   mqtt.Client
	channels []Channel
}

func NewMQTTTransport(cfg MQTTConfig, opts Options) *MQTTTransport {
	if cfg.ClientID == "" {
		cfg.ClientID = "funcall-" + uuid.NewString()
	}
	return &MQTTTransport{
		cfg:   cfg,
		opts:  opts,
		inbox: newInbox(opts.inboxSize()),
	}
}

func (t *MQTTTransport) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL()).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Op().Warn("mqtt connection lost", "broker", t.cfg.BrokerURL(), "error", err)
		})
	if t.cfg.Username != "" {
		o.SetUsername(t.cfg.Username)
		o.SetPassword(t.cfg.Password)
	}
	if t.cfg.TLS {
		o.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return o
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.client != nil && t.client.IsConnected() {
		t.mu.Unlock()
		return nil
	}
	client := mqtt.NewClient(t.clientOptions())
	t.client = client
	t.mu.Unlock()

	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.BrokerURL(), err)
	}
	return nil
}

// onConnect runs on paho's goroutine; it must not wait on tokens.
func (t *MQTTTransport) onConnect(c mqtt.Client) {
	logging.Op().Info("connected to mqtt broker", "broker", t.cfg.BrokerURL(), "client_id", t.cfg.ClientID)

	t.mu.Lock()
	channels := slices.Clone(t.channels)
	t.mu.Unlock()

	for _, ch := range channels {
		tok := c.Subscribe(t.opts.topic(ch), t.opts.QoS, t.onMessage)
		go func(ch Channel) {
			tok.Wait()
			if err := tok.Error(); err != nil {
				logging.Op().Error("mqtt resubscribe failed", "channel", ch, "error", err)
			}
		}(ch)
	}
}

func (t *MQTTTransport) onMessage(_ mqtt.Client, m mqtt.Message) {
	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())
	t.inbox.push(Delivery{Channel: t.opts.channel(m.Topic()), Payload: payload})
}

func (t *MQTTTransport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	// A client that lost its connection may be reconnecting; Disconnect
	// also ends the reconnect loop.
	client.Disconnect(mqttDisconnectQuiesce)
	t.inbox.drain()
	return nil
}

func (t *MQTTTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnectionOpen()
}

func (t *MQTTTransport) Subscribe(ctx context.Context, ch Channel) error {
	t.mu.Lock()
	if !slices.Contains(t.channels, ch) {
		t.channels = append(t.channels, ch)
	}
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil
	}
	if err := waitToken(ctx, client.Subscribe(t.opts.topic(ch), t.opts.QoS, t.onMessage)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", ch, err)
	}
	return nil
}

func (t *MQTTTransport) Publish(ctx context.Context, ch Channel, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return waitToken(ctx, client.Publish(t.opts.topic(ch), t.opts.QoS, false, payload))
}

func (t *MQTTTransport) Deliveries() <-chan Delivery {
	return t.inbox.ch
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
