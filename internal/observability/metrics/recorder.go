package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RecorderMetrics contains Prometheus metrics for recording sessions.
type RecorderMetrics struct {
	registry *prometheus.Registry

	started       *prometheus.CounterVec
	stopped       *prometheus.CounterVec
	active        prometheus.Gauge
	recordedBytes prometheus.Counter
	duration      prometheus.Histogram
	cameraErrors  *prometheus.CounterVec
}

// NewRecorderMetrics creates and registers recorder metrics.
func NewRecorderMetrics(registry *prometheus.Registry) (*RecorderMetrics, error) {
	m := &RecorderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RecorderMetrics) initMetrics() {
	m.started = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sessions_started_total",
		Help: "Total number of recording sessions started",
	}, []string{"event_type"})
	m.stopped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sessions_stopped_total",
		Help: "Total number of recording sessions stopped",
	}, []string{"reason"})
	m.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_recording_active",
		Help: "Whether a recording session is active (1) or not (0)",
	})
	m.recordedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_recorded_bytes_total",
		Help: "Total bytes written by finished recording sessions",
	})
	m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_session_duration_seconds",
		Help:    "Duration of finished recording sessions",
		Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount10), // 1s to ~8.5min
	})
	m.cameraErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_camera_command_failures_total",
		Help: "Total number of camera recording commands that failed",
	}, []string{"command"})
}

// Describe implements the Collector interface
func (m *RecorderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.started.Describe(ch)
	m.stopped.Describe(ch)
	m.active.Describe(ch)
	m.recordedBytes.Describe(ch)
	m.duration.Describe(ch)
	m.cameraErrors.Describe(ch)
}

// Collect implements the Collector interface
func (m *RecorderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.started.Collect(ch)
	m.stopped.Collect(ch)
	m.active.Collect(ch)
	m.recordedBytes.Collect(ch)
	m.duration.Collect(ch)
	m.cameraErrors.Collect(ch)
}

// RecordStart counts a started session.
func (m *RecorderMetrics) RecordStart(eventType string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(eventType).Inc()
	m.active.Set(1)
}

// RecordStop counts a finished session with its stop reason, duration and size.
func (m *RecorderMetrics) RecordStop(reason string, seconds float64, bytes int64) {
	if m == nil {
		return
	}
	m.stopped.WithLabelValues(reason).Inc()
	m.active.Set(0)
	m.duration.Observe(seconds)
	if bytes > 0 {
		m.recordedBytes.Add(float64(bytes))
	}
}

// RecordCameraFailure counts a camera start or stop command that returned false.
func (m *RecorderMetrics) RecordCameraFailure(command string) {
	if m == nil {
		return
	}
	m.cameraErrors.WithLabelValues(command).Inc()
}
