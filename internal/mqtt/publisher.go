package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/observability/metrics"
)

// Publisher is the event bus consumer that forwards events to the broker as
// JSON on <topic>/motion, <topic>/recording and <topic>/thermal.
type Publisher struct {
	client  Client
	topic   string
	retain  bool
	metrics *metrics.MQTTMetrics
}

// NewPublisher wraps a connected (or auto-reconnecting) client.
func NewPublisher(client Client, cfg Config, m *metrics.MQTTMetrics) *Publisher {
	return &Publisher{
		client:  client,
		topic:   cfg.Topic,
		retain:  cfg.Retain,
		metrics: m,
	}
}

// Name implements events.Consumer.
func (p *Publisher) Name() string { return componentName }

// Topic returns the topic events of kind are published to.
func (p *Publisher) Topic(kind events.Kind) string {
	return p.topic + "/" + string(kind)
}

// Consume implements events.Consumer.
func (p *Publisher) Consume(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordError("marshal")
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(event.Kind)).
			Build()
	}

	topic := p.Topic(event.Kind)
	start := time.Now()
	if err := p.client.Publish(ctx, topic, payload, p.retain); err != nil {
		p.metrics.RecordError("publish")
		return err
	}

	p.metrics.RecordDelivery(string(event.Kind), len(payload), time.Since(start))
	log.Debug("Published event",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)))
	return nil
}
