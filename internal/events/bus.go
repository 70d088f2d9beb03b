package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const componentName = "events"

// Config holds event bus configuration.
type Config struct {
	BufferSize     int
	Workers        int
	ConsumeTimeout time.Duration // per event and consumer
	DedupeWindow   time.Duration // zero disables deduplication
}

// DefaultConfig returns the default event bus configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		Workers:        1,
		ConsumeTimeout: 10 * time.Second,
		DedupeWindow:   time.Minute,
	}
}

// Bus delivers events to registered consumers on worker goroutines.
// Publishing never blocks: when the buffer is full the event is dropped.
type Bus struct {
	config    Config
	eventChan chan Event
	dedupe    *deduplicator

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
	mu      sync.Mutex

	consumers []Consumer

	received   atomic.Uint64
	suppressed atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64

	log logger.Logger
}

// NewBus creates a stopped bus. Zero config fields take their defaults.
func NewBus(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ConsumeTimeout <= 0 {
		cfg.ConsumeTimeout = def.ConsumeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		config:    cfg,
		eventChan: make(chan Event, cfg.BufferSize),
		dedupe:    newDeduplicator(cfg.DedupeWindow),
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
		log:       logger.Global().Module(componentName),
	}
}

// Register adds a consumer. Names must be unique.
func (b *Bus) Register(consumer Consumer) error {
	if b == nil {
		return errors.Newf("event bus not initialized").
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component(componentName).
				Category(errors.CategoryConflict).
				Build()
		}
	}
	b.consumers = append(b.consumers, consumer)

	b.log.Info("Registered event consumer", logger.String("consumer", consumer.Name()))
	return nil
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (b *Bus) Start() {
	if b == nil || b.running.Swap(true) {
		return
	}

	b.log.Debug("Starting event bus workers", logger.Int("count", b.config.Workers))
	for i := range b.config.Workers {
		b.wg.Go(func() { b.worker(i) })
	}
}

// TryPublish queues event without blocking. It returns false when the bus
// is not running, the event was deduplicated, or the buffer is full.
func (b *Bus) TryPublish(event Event) bool {
	if b == nil || !b.running.Load() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.DedupeKey != "" && !b.dedupe.allow(string(event.Kind)+"/"+event.DedupeKey) {
		b.suppressed.Add(1)
		return false
	}

	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Debug("Event dropped due to full buffer", logger.String("kind", string(event.Kind)))
		return false
	}
}

func (b *Bus) worker(id int) {
	log := b.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-b.stop:
			b.drain()
			log.Debug("Worker stopped")
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

// drain delivers whatever is still buffered when shutdown begins.
func (b *Bus) drain() {
	for {
		select {
		case event := <-b.eventChan:
			b.dispatch(event)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		if err := b.consume(consumer, event); err != nil {
			b.failed.Add(1)
			b.log.Warn("Event consumer failed",
				logger.String("consumer", consumer.Name()),
				logger.String("kind", string(event.Kind)),
				logger.Error(err))
			continue
		}
		b.processed.Add(1)
	}
}

// consume isolates a consumer panic so one bad consumer cannot stop the bus.
func (b *Bus) consume(consumer Consumer, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(b.ctx, b.config.ConsumeTimeout)
	defer cancel()
	return consumer.Consume(ctx, event)
}

// Shutdown stops accepting events, lets workers deliver what is buffered and
// waits up to timeout. On timeout in-flight consumers are cancelled.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil || !b.running.Swap(false) {
		return nil
	}
	defer b.cancel()

	close(b.stop)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.dedupe.flush()
		b.log.Debug("Event bus stopped", logger.Uint64("processed", b.processed.Load()))
		return nil
	case <-time.After(timeout):
		b.cancel()
		return errors.Newf("event bus shutdown timed out after %s", timeout).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		EventsReceived:   b.received.Load(),
		EventsSuppressed: b.suppressed.Load(),
		EventsProcessed:  b.processed.Load(),
		EventsDropped:    b.dropped.Load(),
		ConsumerErrors:   b.failed.Load(),
	}
}
