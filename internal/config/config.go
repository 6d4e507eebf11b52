// Package config loads process configuration for the funcall commands.
// Values come from DefaultConfig, then an optional JSON or YAML file, then
// FUNCALL_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/funcall/internal/observability"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportMQTT   = "mqtt"
)

// TransportConfig selects and tunes the publish/subscribe transport.
type TransportConfig struct {
	Kind        string `json:"kind" yaml:"kind"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `json:"qos" yaml:"qos"`
	InboxSize   int    `json:"inbox_size" yaml:"inbox_size"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	TLS      bool   `json:"tls" yaml:"tls"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

// EndpointConfig tunes the endpoint driver loop.
type EndpointConfig struct {
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr    string `json:"http_addr" yaml:"http_addr"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`
	CallLogPath string `json:"call_log_path" yaml:"call_log_path"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Buckets   []float64 `json:"buckets" yaml:"buckets"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Transport TransportConfig      `json:"transport" yaml:"transport"`
	Redis     RedisConfig          `json:"redis" yaml:"redis"`
	MQTT      MQTTConfig           `json:"mqtt" yaml:"mqtt"`
	Endpoint  EndpointConfig       `json:"endpoint" yaml:"endpoint"`
	Daemon    DaemonConfig         `json:"daemon" yaml:"daemon"`
	Metrics   MetricsConfig        `json:"metrics" yaml:"metrics"`
	Tracing   observability.Config `json:"tracing" yaml:"tracing"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:      TransportMQTT,
			QoS:       0,
			InboxSize: 1024,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Host: "localhost",
			Port: 1883,
		},
		Endpoint: EndpointConfig{
			TickInterval: Duration(10 * time.Millisecond),
		},
		Daemon: DaemonConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "funcall",
		},
		Tracing: observability.Config{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "funcall",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile loads configuration from a JSON file, or a YAML file when the
// extension is .yaml or .yml. Unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FUNCALL_TRANSPORT"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("FUNCALL_TOPIC_PREFIX"); v != "" {
		cfg.Transport.TopicPrefix = v
	}
	if v, ok := envInt("FUNCALL_QOS"); ok {
		cfg.Transport.QoS = v
	}
	if v := os.Getenv("FUNCALL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FUNCALL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v, ok := envInt("FUNCALL_REDIS_DB"); ok {
		cfg.Redis.DB = v
	}
	if v := os.Getenv("FUNCALL_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v, ok := envInt("FUNCALL_MQTT_PORT"); ok {
		cfg.MQTT.Port = v
	}
	if v := os.Getenv("FUNCALL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("FUNCALL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("FUNCALL_MQTT_TLS"); v != "" {
		cfg.MQTT.TLS = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("FUNCALL_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Endpoint.TickInterval = Duration(d)
		}
	}
	if v := os.Getenv("FUNCALL_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("FUNCALL_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("FUNCALL_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("FUNCALL_OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis transport"))
		}
	case TransportMQTT:
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host is required for the mqtt transport"))
		}
		if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: want memory, redis or mqtt", c.Transport.Kind))
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		errs = append(errs, fmt.Errorf("transport.qos %d: want 0, 1 or 2", c.Transport.QoS))
	}
	if c.Transport.InboxSize < 0 {
		errs = append(errs, errors.New("transport.inbox_size must not be negative"))
	}
	if c.Endpoint.TickInterval.Std() <= 0 {
		errs = append(errs, errors.New("endpoint.tick_interval must be positive"))
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %v: want 0.0 to 1.0", c.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration that reads "250ms"-style strings from config
// files as well as plain nanosecond integers.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration: want a string like \"250ms\" or nanoseconds, got %s", data)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}
