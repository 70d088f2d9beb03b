package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestMotionMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMotionMetrics(reg)
	require.NoError(t, err)

	m.RecordFrame(0.002, false, map[string]float64{"door": 1.5})
	m.RecordFrame(0.003, true, map[string]float64{"door": 12.25, "yard": 0})
	m.RecordTrigger()
	m.RecordFrameError("camera")
	m.SetThreshold(7)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.framesProcessed), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.triggers), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.motionActive), 0)
	assert.InDelta(t, 7.0, testutil.ToFloat64(m.threshold), 0)
	assert.InDelta(t, 12.25, testutil.ToFloat64(m.zoneMSE.WithLabelValues("door")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.frameErrors.WithLabelValues("camera")), 0)

	m.RemoveZone("yard")
	assert.Equal(t, 1, testutil.CollectAndCount(m.zoneMSE))

	hist := gather(t, reg, "motion_frame_duration_seconds")
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecorderMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewRecorderMetrics(reg)
	require.NoError(t, err)

	m.RecordStart("motion")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.active), 0)
	m.RecordStop("post_record", 42, 1024)
	m.RecordCameraFailure("start")

	assert.InDelta(t, 0.0, testutil.ToFloat64(m.active), 0)
	assert.InDelta(t, 1024.0, testutil.ToFloat64(m.recordedBytes), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.started.WithLabelValues("motion")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.stopped.WithLabelValues("post_record")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cameraErrors.WithLabelValues("start")), 0)
}

func TestDiskManagerMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewDiskManagerMetrics(reg)
	require.NoError(t, err)

	m.UpdateStorage(5<<30, 12, 10, 3<<30, 32<<30, true)
	m.RecordCleanup(PolicyAge, 2, 1, 4096, 0.01, nil)
	m.RecordCleanup(PolicyUsage, 0, 0, 0, 0.01, errors.New("scan failed"))
	m.RecordStorageCheckError()

	assert.InDelta(t, float64(5<<30), testutil.ToFloat64(m.recordedBytes), 0)
	assert.InDelta(t, 12.0, testutil.ToFloat64(m.recordingsCount), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.lowFreeSpace), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.filesDeletedTotal.WithLabelValues(PolicyAge)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cleanupErrorsTotal.WithLabelValues(PolicyAge)), 0)
	assert.InDelta(t, 4096.0, testutil.ToFloat64(m.bytesFreedTotal.WithLabelValues(PolicyAge)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cleanupOperationsTotal.WithLabelValues(PolicyUsage, StatusError)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.storageCheckErrors), 0)
}

func TestThermalMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewThermalMetrics(reg)
	require.NoError(t, err)

	m.UpdateStatus(66.5, 2, true, 0x50005)
	m.RecordCallback("throttle", 10)
	m.RecordCallback("warning", 0)
	m.RecordProbeError()

	assert.InDelta(t, 66.5, testutil.ToFloat64(m.temperature), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.state), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.throttled), 0)
	assert.InDelta(t, float64(0x50005), testutil.ToFloat64(m.throttleFlags), 0)
	assert.InDelta(t, 10.0, testutil.ToFloat64(m.framerate), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.probeErrors), 0)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.RecordDelivery("motion", 120, 3*time.Millisecond)
	m.RecordError("publish")
	m.RecordReconnect()

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastConnectTime))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues("motion")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("publish")), 0)

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ConnectionStatus), 0)
}

func TestHTTPMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	m.RecordHTTPRequest("GET", "/api/v1/status", 200, 0.001)
	m.RecordHTTPRequest("POST", "/api/v1/zones", 400, 0.001)
	m.RecordHTTPRequest("GET", "/api/v1/recordings", 500, 0.2)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/status", "200")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.httpRequestErrors.WithLabelValues("POST", "/api/v1/zones", "client")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.httpRequestErrors.WithLabelValues("GET", "/api/v1/recordings", "server")), 0)
}

func TestNilReceiversAreNoOps(t *testing.T) {
	t.Parallel()

	var (
		motion  *MotionMetrics
		rec     *RecorderMetrics
		disk    *DiskManagerMetrics
		thermal *ThermalMetrics
		mqtt    *MQTTMetrics
		web     *HTTPMetrics
	)
	assert.NotPanics(t, func() {
		motion.RecordFrame(0, true, nil)
		motion.RecordTrigger()
		rec.RecordStart("motion")
		disk.RecordCleanup(PolicyAge, 1, 0, 0, 0, nil)
		thermal.UpdateStatus(50, 0, false, 0)
		mqtt.RecordDelivery("motion", 1, 0)
		web.RecordHTTPRequest("GET", "/", 200, 0)
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewThermalMetrics(reg)
	require.NoError(t, err)
	_, err = NewThermalMetrics(reg)
	require.Error(t, err)
}
