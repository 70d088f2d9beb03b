package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiskManagerMetrics contains Prometheus metrics for storage retention
type DiskManagerMetrics struct {
	registry *prometheus.Registry

	// Storage metrics
	recordedBytes      prometheus.Gauge
	recordingsCount    prometheus.Gauge
	capUtilization     prometheus.Gauge
	diskFreeBytes      prometheus.Gauge
	diskTotalBytes     prometheus.Gauge
	lowFreeSpace       prometheus.Gauge
	storageCheckErrors prometheus.Counter

	// Cleanup operation metrics
	cleanupOperationsTotal *prometheus.CounterVec
	cleanupErrorsTotal     *prometheus.CounterVec
	filesDeletedTotal      *prometheus.CounterVec
	bytesFreedTotal        *prometheus.CounterVec
	cleanupDurationSeconds *prometheus.HistogramVec
}

// NewDiskManagerMetrics creates and registers new disk manager metrics
func NewDiskManagerMetrics(registry *prometheus.Registry) (*DiskManagerMetrics, error) {
	m := &DiskManagerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DiskManagerMetrics) initMetrics() {
	m.recordedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_recorded_bytes",
		Help: "Aggregate size of recordings in the storage directory",
	})
	m.recordingsCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_recordings",
		Help: "Number of recordings in the storage directory",
	})
	m.capUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_cap_utilization_percentage",
		Help: "Recorded bytes as a percentage of the configured storage cap",
	})
	m.diskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_free_bytes",
		Help: "Free space on the recordings filesystem",
	})
	m.diskTotalBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_total_bytes",
		Help: "Total size of the recordings filesystem",
	})
	m.lowFreeSpace = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_low_free_space",
		Help: "Whether free space is below the warning level (1) or not (0)",
	})
	m.storageCheckErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diskmanager_storage_check_errors_total",
		Help: "Total number of failed storage checks",
	})

	m.cleanupOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_cleanup_operations_total",
			Help: "Total number of cleanup operations performed",
		},
		[]string{"policy", "status"}, // status: success, error
	)
	m.cleanupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_cleanup_errors_total",
			Help: "Total number of files that could not be deleted",
		},
		[]string{"policy"},
	)
	m.filesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_files_deleted_total",
			Help: "Total number of files deleted by cleanup operations",
		},
		[]string{"policy"},
	)
	m.bytesFreedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_bytes_freed_total",
			Help: "Total bytes freed by cleanup operations",
		},
		[]string{"policy"},
	)
	m.cleanupDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diskmanager_cleanup_duration_seconds",
			Help:    "Time taken for cleanup operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"policy"},
	)
}

// Describe implements the Collector interface
func (m *DiskManagerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.recordedBytes.Describe(ch)
	m.recordingsCount.Describe(ch)
	m.capUtilization.Describe(ch)
	m.diskFreeBytes.Describe(ch)
	m.diskTotalBytes.Describe(ch)
	m.lowFreeSpace.Describe(ch)
	m.storageCheckErrors.Describe(ch)
	m.cleanupOperationsTotal.Describe(ch)
	m.cleanupErrorsTotal.Describe(ch)
	m.filesDeletedTotal.Describe(ch)
	m.bytesFreedTotal.Describe(ch)
	m.cleanupDurationSeconds.Describe(ch)
}

// Collect implements the Collector interface
func (m *DiskManagerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.recordedBytes.Collect(ch)
	m.recordingsCount.Collect(ch)
	m.capUtilization.Collect(ch)
	m.diskFreeBytes.Collect(ch)
	m.diskTotalBytes.Collect(ch)
	m.lowFreeSpace.Collect(ch)
	m.storageCheckErrors.Collect(ch)
	m.cleanupOperationsTotal.Collect(ch)
	m.cleanupErrorsTotal.Collect(ch)
	m.filesDeletedTotal.Collect(ch)
	m.bytesFreedTotal.Collect(ch)
	m.cleanupDurationSeconds.Collect(ch)
}

// UpdateStorage publishes the result of a storage check.
func (m *DiskManagerMetrics) UpdateStorage(recordedBytes int64, recordings int, capPercent float64, freeBytes, totalBytes uint64, lowFree bool) {
	if m == nil {
		return
	}
	m.recordedBytes.Set(float64(recordedBytes))
	m.recordingsCount.Set(float64(recordings))
	m.capUtilization.Set(capPercent)
	m.diskFreeBytes.Set(float64(freeBytes))
	m.diskTotalBytes.Set(float64(totalBytes))
	if lowFree {
		m.lowFreeSpace.Set(1)
	} else {
		m.lowFreeSpace.Set(0)
	}
}

// RecordStorageCheckError counts a failed storage check.
func (m *DiskManagerMetrics) RecordStorageCheckError() {
	if m == nil {
		return
	}
	m.storageCheckErrors.Inc()
}

// RecordCleanup records one cleanup pass for policy.
func (m *DiskManagerMetrics) RecordCleanup(policy string, deleted, failed int, freedBytes int64, seconds float64, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.cleanupOperationsTotal.WithLabelValues(policy, status).Inc()
	m.cleanupDurationSeconds.WithLabelValues(policy).Observe(seconds)
	if deleted > 0 {
		m.filesDeletedTotal.WithLabelValues(policy).Add(float64(deleted))
	}
	if failed > 0 {
		m.cleanupErrorsTotal.WithLabelValues(policy).Add(float64(failed))
	}
	if freedBytes > 0 {
		m.bytesFreedTotal.WithLabelValues(policy).Add(float64(freedBytes))
	}
}
