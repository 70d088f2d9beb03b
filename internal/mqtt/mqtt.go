// Package mqtt publishes surveillance events to an MQTT broker.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/logger"
)

const componentName = "mqtt"

var log = logger.Global().Module(componentName)

// Client defines the MQTT operations the publisher needs.
type Client interface {
	// Connect establishes the broker connection, retrying with backoff.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for the broker acknowledgement
	// or ctx, whichever comes first.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected reports whether the client currently has a live connection.
	IsConnected() bool

	// Disconnect closes the connection, publishing the offline status first.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, events go to <Topic>/<kind>
	Retain   bool

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration

	// Initial connection attempts before Connect gives up. paho handles
	// reconnection after the first successful connect.
	ConnectRetries  uint64
	RetryInterval   time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		Topic:             "motioncam",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		ConnectRetries:    5,
		RetryInterval:     time.Second,
		MaxRetryBackoff:   30 * time.Second,
	}
}

// ConfigFromSettings builds the client configuration from the loaded settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.Retain = settings.MQTT.Retain
	if topic := strings.Trim(settings.MQTT.Topic, "/"); topic != "" {
		cfg.Topic = topic
	}

	cfg.ClientID = settings.Main.Name
	if settings.Main.CameraID != "" {
		cfg.ClientID = settings.Main.Name + "-" + settings.Main.CameraID
	}
	if cfg.ClientID == "" || cfg.ClientID == "-" {
		cfg.ClientID = "motioncam"
	}
	return cfg
}

// StatusTopic is where the client publishes "online" on connect. The broker
// publishes "offline" there as the last will when the connection drops.
func (c Config) StatusTopic() string {
	return c.Topic + "/status"
}
