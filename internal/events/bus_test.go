package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/motioncam/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records every event it receives.
type collector struct {
	name  string
	err   error
	block chan struct{}

	mu     sync.Mutex
	events []Event
}

func (c *collector) Name() string { return c.name }

func (c *collector) Consume(ctx context.Context, event Event) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return c.err
}

func (c *collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestBusDeliversToAllConsumers(t *testing.T) {
	t.Parallel()

	bus := NewBus(Config{})
	a := &collector{name: "a"}
	b := &collector{name: "b"}
	require.NoError(t, bus.Register(a))
	require.NoError(t, bus.Register(b))
	bus.Start()

	for i := range 3 {
		require.True(t, bus.TryPublish(Event{Kind: KindMotion, Payload: Motion{Triggered: i%2 == 0}}))
	}
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Len(t, a.Events(), 3)
	assert.Len(t, b.Events(), 3)
	assert.False(t, a.Events()[0].Timestamp.IsZero(), "timestamp is filled in")

	stats := bus.Stats()
	assert.Equal(t, uint64(3), stats.EventsReceived)
	assert.Equal(t, uint64(6), stats.EventsProcessed)
}

func TestBusRejectsDuplicateConsumer(t *testing.T) {
	t.Parallel()

	bus := NewBus(Config{})
	require.NoError(t, bus.Register(&collector{name: "mqtt"}))

	err := bus.Register(&collector{name: "mqtt"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
}

func TestTryPublishWhenNotRunning(t *testing.T) {
	t.Parallel()

	var nilBus *Bus
	assert.False(t, nilBus.TryPublish(Event{Kind: KindThermal}))

	bus := NewBus(Config{})
	assert.False(t, bus.TryPublish(Event{Kind: KindThermal}))
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	c := &collector{name: "slow", block: make(chan struct{})}
	bus := NewBus(Config{BufferSize: 1})
	require.NoError(t, bus.Register(c))
	bus.Start()

	// The first event is taken by the worker and blocks there, the second
	// fills the buffer, and the third has nowhere to go.
	require.True(t, bus.TryPublish(Event{Kind: KindMotion}))
	require.Eventually(t, func() bool { return len(bus.eventChan) == 0 }, time.Second, time.Millisecond)
	require.True(t, bus.TryPublish(Event{Kind: KindMotion}))
	assert.False(t, bus.TryPublish(Event{Kind: KindMotion}))

	close(c.block)
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Len(t, c.Events(), 2)
	assert.Equal(t, uint64(1), bus.Stats().EventsDropped)
}

func TestBusDeduplicatesByKey(t *testing.T) {
	t.Parallel()

	c := &collector{name: "c"}
	bus := NewBus(Config{DedupeWindow: time.Hour})
	require.NoError(t, bus.Register(c))
	bus.Start()

	warning := Event{Kind: KindThermal, DedupeKey: "warning", Payload: Thermal{Level: "warning"}}
	assert.True(t, bus.TryPublish(warning))
	assert.False(t, bus.TryPublish(warning))
	assert.True(t, bus.TryPublish(Event{Kind: KindThermal, DedupeKey: "throttle"}))
	// Events without a key are never suppressed.
	assert.True(t, bus.TryPublish(Event{Kind: KindMotion}))
	assert.True(t, bus.TryPublish(Event{Kind: KindMotion}))

	require.NoError(t, bus.Shutdown(time.Second))
	assert.Len(t, c.Events(), 4)
	assert.Equal(t, uint64(1), bus.Stats().EventsSuppressed)
}

func TestConsumerErrorsAndPanicsAreCounted(t *testing.T) {
	t.Parallel()

	bus := NewBus(Config{})
	require.NoError(t, bus.Register(&collector{name: "failing", err: fmt.Errorf("broker down")}))
	require.NoError(t, bus.Register(ConsumerFunc{ID: "panicky", Fn: func(context.Context, Event) error {
		panic("boom")
	}}))
	ok := &collector{name: "ok"}
	require.NoError(t, bus.Register(ok))
	bus.Start()

	require.True(t, bus.TryPublish(Event{Kind: KindRecording}))
	require.NoError(t, bus.Shutdown(time.Second))

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.ConsumerErrors)
	assert.Equal(t, uint64(1), stats.EventsProcessed)
	assert.Len(t, ok.Events(), 1)
}

func TestShutdownTimeoutCancelsConsumers(t *testing.T) {
	t.Parallel()

	c := &collector{name: "stuck", block: make(chan struct{})}
	bus := NewBus(Config{})
	require.NoError(t, bus.Register(c))
	bus.Start()
	require.True(t, bus.TryPublish(Event{Kind: KindMotion}))
	require.Eventually(t, func() bool { return len(bus.eventChan) == 0 }, time.Second, time.Millisecond)

	err := bus.Shutdown(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))

	// The cancelled consumer returns and the worker exits.
	require.Eventually(t, func() bool { return bus.Stats().ConsumerErrors == 1 }, time.Second, time.Millisecond)
	bus.wg.Wait()
	assert.NoError(t, bus.Shutdown(time.Second), "second shutdown is a no-op")
}
