// Package metrics holds the Prometheus collectors exported by the SendMe server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultOnce     sync.Once
	defaultInstance *Metrics
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec   // sendme_http_requests_total{method,route,status}
	HTTPRequestDuration *prometheus.HistogramVec // sendme_http_request_duration_seconds{method,route}

	// Storage metrics
	StorageOperations *prometheus.CounterVec   // sendme_storage_operations_total{operation,status}
	StorageDuration   *prometheus.HistogramVec // sendme_storage_operation_duration_seconds{operation}
	BytesUploaded     prometheus.Counter       // sendme_storage_bytes_uploaded_total
	BytesDownloaded   prometheus.Counter       // sendme_storage_bytes_downloaded_total

	// Quota metrics
	QuotaRejections prometheus.Counter // sendme_quota_rejections_total
	QuotaCharged    prometheus.Counter // sendme_quota_charged_bytes_total
	QuotaReleased   prometheus.Counter // sendme_quota_released_bytes_total
	QuotaUnderflows prometheus.Counter // sendme_quota_underflows_total

	// Message metrics
	MessagesCreated *prometheus.CounterVec // sendme_messages_created_total{type}

	// Purge metrics
	PurgeRuns        prometheus.Counter   // sendme_purge_runs_total
	PurgeDuration    prometheus.Histogram // sendme_purge_duration_seconds
	PurgedMessages   prometheus.Counter   // sendme_purge_messages_deleted_total
	PurgedBytes      prometheus.Counter   // sendme_purge_bytes_freed_total
	PurgeLastRunTime prometheus.Gauge     // sendme_purge_last_run_timestamp_seconds

	// WebSocket metrics
	WSConnections prometheus.Gauge // sendme_ws_connections
}

// New registers a fresh set of collectors with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendme_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sendme_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		StorageOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendme_storage_operations_total",
			Help: "Blob store operations by operation and status",
		}, []string{"operation", "status"}),

		StorageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sendme_storage_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_storage_bytes_uploaded_total",
			Help: "Total bytes written to the blob store",
		}),

		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_storage_bytes_downloaded_total",
			Help: "Total bytes read from the blob store",
		}),

		QuotaRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_quota_rejections_total",
			Help: "Uploads rejected because they would exceed the user's quota",
		}),

		QuotaCharged: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_quota_charged_bytes_total",
			Help: "Total bytes charged against user quotas",
		}),

		QuotaReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_quota_released_bytes_total",
			Help: "Total bytes released from user quotas",
		}),

		QuotaUnderflows: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_quota_underflows_total",
			Help: "Quota releases clamped at zero",
		}),

		MessagesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendme_messages_created_total",
			Help: "Messages created by type",
		}, []string{"type"}),

		PurgeRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_purge_runs_total",
			Help: "Completed purge runs",
		}),

		PurgeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sendme_purge_duration_seconds",
			Help:    "Purge run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		PurgedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_purge_messages_deleted_total",
			Help: "Messages hard-deleted by the purger",
		}),

		PurgedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sendme_purge_bytes_freed_total",
			Help: "Bytes released by the purger",
		}),

		PurgeLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "sendme_purge_last_run_timestamp_seconds",
			Help: "Unix time of the last purge run",
		}),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "sendme_ws_connections",
			Help: "Open WebSocket connections",
		}),
	}
}

// Default returns the process-wide instance registered with the default registerer.
// Metrics are only registered once; subsequent calls return the same instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultInstance = New(prometheus.DefaultRegisterer)
	})
	return defaultInstance
}

// RecordStorageOp records the outcome and latency of a blob store call.
func (m *Metrics) RecordStorageOp(op string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperations.WithLabelValues(op, status).Inc()
	m.StorageDuration.WithLabelValues(op).Observe(seconds)
}

// RecordPurgeRun records a completed purge run.
func (m *Metrics) RecordPurgeRun(seconds float64, deleted int, bytesFreed int64) {
	m.PurgeRuns.Inc()
	m.PurgeDuration.Observe(seconds)
	m.PurgedMessages.Add(float64(deleted))
	m.PurgedBytes.Add(float64(bytesFreed))
	m.PurgeLastRunTime.SetToCurrentTime()
}
