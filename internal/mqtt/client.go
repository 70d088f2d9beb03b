package mqtt

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/observability/metrics"
	"github.com/tphakala/motioncam/internal/privacy"
)

const (
	qos           = 1
	statusOnline  = "online"
	statusOffline = "offline"
)

// client implements Client on top of paho.
type client struct {
	config   Config
	internal paho.Client
	mu       sync.Mutex
	metrics  *metrics.MQTTMetrics
	broker   string // sanitized for logs
}

// NewClient validates cfg and returns a disconnected client. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if err := validateBroker(cfg.Broker); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, errors.Newf("mqtt topic cannot be empty").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}

	return &client{
		config:  cfg,
		metrics: m,
		broker:  privacy.SanitizeURL(cfg.Broker),
	}, nil
}

func validateBroker(broker string) error {
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %q", privacy.SanitizeURL(broker)).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return nil
	default:
		return errors.Newf("unsupported broker scheme %q", u.Scheme).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
}

func (c *client) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxRetryBackoff)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetWill(c.config.StatusTopic(), statusOffline, qos, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)
	return opts
}

// Connect attempts to establish a connection to the MQTT broker. Failed
// attempts are retried with exponential backoff up to ConnectRetries times.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internal != nil && c.internal.IsConnected() {
		return nil
	}
	c.internal = paho.NewClient(c.clientOptions())

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = c.config.RetryInterval
	ebo.MaxInterval = c.config.MaxRetryBackoff
	ebo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, c.config.ConnectRetries), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		token := c.internal.Connect()
		if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
			return err
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		c.metrics.RecordReconnect()
		log.Warn("MQTT connection attempt failed, retrying",
			logger.String("broker", c.broker),
			logger.Int("attempt", attempts),
			logger.Duration("retry_in", next),
			logger.Error(err))
	}

	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		c.metrics.RecordError("connect")
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.broker).
			Context("attempts", attempts).
			Build()
	}
	return nil
}

// Publish sends payload to topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	token := internal.Publish(topic, qos, retain, payload)
	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect publishes the offline status and closes the connection. A clean
// disconnect does not trigger the last will, so the status is sent here.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internal == nil || !c.internal.IsConnected() {
		return
	}

	token := c.internal.Publish(c.config.StatusTopic(), qos, true, statusOffline)
	token.WaitTimeout(c.config.DisconnectTimeout)

	c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.metrics.UpdateConnectionStatus(false)
	log.Info("Disconnected from MQTT broker", logger.String("broker", c.broker))
}

func (c *client) onConnect(pc paho.Client) {
	c.metrics.UpdateConnectionStatus(true)
	log.Info("Connected to MQTT broker", logger.String("broker", c.broker))

	// Handlers must not block; the acknowledgement is not awaited.
	pc.Publish(c.config.StatusTopic(), qos, true, statusOnline)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.RecordError("connection_lost")
	log.Warn("Connection to MQTT broker lost",
		logger.String("broker", c.broker),
		logger.Error(err))
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.metrics.RecordReconnect()
	log.Debug("Reconnecting to MQTT broker", logger.String("broker", c.broker))
}

// waitToken waits for token completion bounded by timeout and ctx.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Newf("mqtt operation timed out after %s", timeout).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
}
