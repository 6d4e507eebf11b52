package main

import (
	"context"
	"fmt"

	"github.com/oriys/funcall/internal/config"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/metrics"
	"github.com/oriys/funcall/internal/observability"
	"github.com/oriys/funcall/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// loadConfig resolves defaults, the config file, the environment and the
// persistent flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Daemon.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initAmbient configures logging, tracing and metrics. The returned func
// flushes pending spans.
func initAmbient(ctx context.Context, cfg *config.Config, service string) (func(), error) {
	logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel, service)

	tracing := cfg.Tracing
	if tracing.ServiceName == "" || tracing.ServiceName == "funcall" {
		tracing.ServiceName = "funcall-" + service
	}
	if err := observability.Init(ctx, tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.Buckets)
	}
	return func() { observability.Shutdown(context.Background()) }, nil
}

// newTransport builds the transport cfg selects. The returned func releases
// resources the transport does not own, such as the Redis client.
func newTransport(cfg *config.Config, broker *transport.Broker) (transport.Transport, func(), error) {
	opts := transport.Options{
		TopicPrefix: cfg.Transport.TopicPrefix,
		QoS:         byte(cfg.Transport.QoS),
		InboxSize:   cfg.Transport.InboxSize,
	}

	switch cfg.Transport.Kind {
	case config.TransportMemory:
		if broker == nil {
			broker = transport.NewBroker()
		}
		return broker.Transport(opts), func() {}, nil
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return transport.NewRedisTransport(client, opts), func() { client.Close() }, nil
	case config.TransportMQTT:
		return transport.NewMQTTTransport(transport.MQTTConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			TLS:      cfg.MQTT.TLS,
			ClientID: cfg.MQTT.ClientID,
		}, opts), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}
