package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MotionMetrics contains Prometheus metrics for the motion detector and frame loop.
type MotionMetrics struct {
	registry *prometheus.Registry

	framesProcessed prometheus.Counter
	frameErrors     *prometheus.CounterVec
	triggers        prometheus.Counter
	motionActive    prometheus.Gauge
	threshold       prometheus.Gauge
	zoneMSE         *prometheus.GaugeVec
	frameDuration   prometheus.Histogram
}

// NewMotionMetrics creates and registers motion metrics.
func NewMotionMetrics(registry *prometheus.Registry) (*MotionMetrics, error) {
	m := &MotionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MotionMetrics) initMetrics() {
	m.framesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "motion_frames_processed_total",
		Help: "Total number of frames run through the motion detector",
	})
	m.frameErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_frame_errors_total",
		Help: "Total number of failed frame loop iterations",
	}, []string{"category"})
	m.triggers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "motion_triggers_total",
		Help: "Total number of debounced motion triggers",
	})
	m.motionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "motion_triggered",
		Help: "Whether motion is currently triggered (1) or not (0)",
	})
	m.threshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "motion_threshold",
		Help: "Current MSE threshold of the motion detector",
	})
	m.zoneMSE = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "motion_zone_mse",
		Help: "Mean squared difference of the last frame per zone",
	}, []string{"zone"})
	m.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "motion_frame_duration_seconds",
		Help:    "Time spent detecting motion in one frame",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount10),
	})
}

// Describe implements the Collector interface
func (m *MotionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesProcessed.Describe(ch)
	m.frameErrors.Describe(ch)
	m.triggers.Describe(ch)
	m.motionActive.Describe(ch)
	m.threshold.Describe(ch)
	m.zoneMSE.Describe(ch)
	m.frameDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *MotionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesProcessed.Collect(ch)
	m.frameErrors.Collect(ch)
	m.triggers.Collect(ch)
	m.motionActive.Collect(ch)
	m.threshold.Collect(ch)
	m.zoneMSE.Collect(ch)
	m.frameDuration.Collect(ch)
}

// RecordFrame records one processed frame.
func (m *MotionMetrics) RecordFrame(seconds float64, triggered bool, zones map[string]float64) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.frameDuration.Observe(seconds)
	if triggered {
		m.motionActive.Set(1)
	} else {
		m.motionActive.Set(0)
	}
	for zone, mse := range zones {
		m.zoneMSE.WithLabelValues(zone).Set(mse)
	}
}

// RecordTrigger counts a rising edge of the debounced trigger.
func (m *MotionMetrics) RecordTrigger() {
	if m == nil {
		return
	}
	m.triggers.Inc()
}

// RecordFrameError counts a failed loop iteration by error category.
func (m *MotionMetrics) RecordFrameError(category string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(category).Inc()
}

// SetThreshold publishes the detector threshold.
func (m *MotionMetrics) SetThreshold(threshold float64) {
	if m == nil {
		return
	}
	m.threshold.Set(threshold)
}

// RemoveZone drops the series of a deleted zone.
func (m *MotionMetrics) RemoveZone(zone string) {
	if m == nil {
		return
	}
	m.zoneMSE.DeleteLabelValues(zone)
}
