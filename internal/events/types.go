// Package events provides an asynchronous event bus that decouples the frame
// loop and the thermal sampler from slow consumers such as the MQTT publisher.
package events

import (
	"context"
	"time"
)

// Kind identifies the family of an event. Consumers route on it.
type Kind string

const (
	KindMotion    Kind = "motion"
	KindRecording Kind = "recording"
	KindThermal   Kind = "thermal"
)

// Event is a single notification emitted by the surveillance system.
type Event struct {
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	CameraID  string    `json:"camera_id"`
	Payload   any       `json:"payload"`

	// DedupeKey, when set, suppresses repeats of the same key within the
	// bus deduplication window.
	DedupeKey string `json:"-"`
}

// Motion is the payload of a KindMotion event, emitted on the rising and
// falling edges of the detector trigger.
type Motion struct {
	Triggered bool     `json:"triggered"`
	Zones     []string `json:"zones,omitempty"`
	Threshold float64  `json:"threshold"`
}

// Recording actions.
const (
	RecordingStarted = "started"
	RecordingStopped = "stopped"
)

// Recording is the payload of a KindRecording event.
type Recording struct {
	Action          string  `json:"action"`
	SessionID       string  `json:"session_id"`
	File            string  `json:"file"`
	EventType       string  `json:"event_type"`
	Reason          string  `json:"reason,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitzero"`
	Bytes           int64   `json:"bytes,omitzero"`
}

// Thermal is the payload of a KindThermal event.
type Thermal struct {
	Level        string  `json:"level"` // warning, throttle, critical, normal
	TemperatureC float64 `json:"temperature_c"`
	Framerate    int     `json:"framerate,omitzero"`
}

// Consumer processes events delivered by the bus. Consume runs on a bus
// worker goroutine and may block up to the context deadline.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, event Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ID string
	Fn func(ctx context.Context, event Event) error
}

func (f ConsumerFunc) Name() string { return f.ID }

func (f ConsumerFunc) Consume(ctx context.Context, event Event) error {
	return f.Fn(ctx, event)
}

// Stats contains runtime statistics of the bus.
type Stats struct {
	EventsReceived   uint64 `json:"events_received"`
	EventsSuppressed uint64 `json:"events_suppressed"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	ConsumerErrors   uint64 `json:"consumer_errors"`
}
