package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ThermalMetrics contains Prometheus metrics for the thermal controller.
type ThermalMetrics struct {
	registry *prometheus.Registry

	temperature   prometheus.Gauge
	state         prometheus.Gauge
	throttled     prometheus.Gauge
	throttleFlags prometheus.Gauge
	framerate     prometheus.Gauge
	transitions   *prometheus.CounterVec
	probeErrors   prometheus.Counter
}

// NewThermalMetrics creates and registers thermal metrics.
func NewThermalMetrics(registry *prometheus.Registry) (*ThermalMetrics, error) {
	m := &ThermalMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ThermalMetrics) initMetrics() {
	m.temperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thermal_cpu_temperature_celsius",
		Help: "Last CPU temperature reading",
	})
	m.state = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thermal_state",
		Help: "Thermal state: 0 normal, 1 warning, 2 throttled, 3 critical",
	})
	m.throttled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thermal_throttle_latched",
		Help: "Whether the throttle latch is set (1) or not (0)",
	})
	m.throttleFlags = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thermal_firmware_throttle_flags",
		Help: "Raw firmware throttle bitfield",
	})
	m.framerate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thermal_camera_framerate",
		Help: "Camera framerate currently requested by the thermal controller",
	})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thermal_callbacks_total",
		Help: "Total number of thermal callbacks by kind",
	}, []string{"kind"}) // warning, throttle, critical, normal
	m.probeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermal_probe_errors_total",
		Help: "Total number of failed temperature readings",
	})
}

// Describe implements the Collector interface
func (m *ThermalMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.temperature.Describe(ch)
	m.state.Describe(ch)
	m.throttled.Describe(ch)
	m.throttleFlags.Describe(ch)
	m.framerate.Describe(ch)
	m.transitions.Describe(ch)
	m.probeErrors.Describe(ch)
}

// Collect implements the Collector interface
func (m *ThermalMetrics) Collect(ch chan<- prometheus.Metric) {
	m.temperature.Collect(ch)
	m.state.Collect(ch)
	m.throttled.Collect(ch)
	m.throttleFlags.Collect(ch)
	m.framerate.Collect(ch)
	m.transitions.Collect(ch)
	m.probeErrors.Collect(ch)
}

// UpdateStatus publishes a controller snapshot.
func (m *ThermalMetrics) UpdateStatus(temp float64, state int, latched bool, flags uint32) {
	if m == nil {
		return
	}
	m.temperature.Set(temp)
	m.state.Set(float64(state))
	if latched {
		m.throttled.Set(1)
	} else {
		m.throttled.Set(0)
	}
	m.throttleFlags.Set(float64(flags))
}

// RecordCallback counts a thermal callback and the framerate it requested.
// fps is ignored when zero.
func (m *ThermalMetrics) RecordCallback(kind string, fps int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
	if fps > 0 {
		m.framerate.Set(float64(fps))
	}
}

// SetFramerate publishes the camera framerate.
func (m *ThermalMetrics) SetFramerate(fps int) {
	if m == nil {
		return
	}
	m.framerate.Set(float64(fps))
}

// RecordProbeError counts a failed temperature reading.
func (m *ThermalMetrics) RecordProbeError() {
	if m == nil {
		return
	}
	m.probeErrors.Inc()
}
