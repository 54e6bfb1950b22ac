// Package monitoring exposes Prometheus metrics and health endpoints.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NERVsystems/osm2vcf/pkg/osm"
)

const (
	// Service name for metrics
	ServiceName = "osm2vcf"
)

var (
	// Export metrics
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_exports_total",
			Help: "Total number of vCard exports by object type and outcome",
		},
		[]string{"object_type", "status"},
	)

	ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm2vcf_export_duration_seconds",
			Help:    "End-to-end export duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"object_type"},
	)

	ExportFetches = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm2vcf_export_fetches",
			Help:    "Number of API requests issued per export",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		},
		[]string{"object_type"},
	)

	ExportWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_export_warnings_total",
			Help: "Exports that completed with a degraded card",
		},
		[]string{"reason"},
	)

	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm2vcf_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm2vcf_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"service"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm2vcf_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	// Response cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_cache_hits_total",
			Help: "Total number of API response cache hits",
		},
		[]string{"service"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_cache_misses_total",
			Help: "Total number of API response cache misses",
		},
		[]string{"service"},
	)

	// Connection metrics
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osm2vcf_active_connections",
			Help: "Number of active connections",
		},
		[]string{"transport", "type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm2vcf_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osm2vcf_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osm2vcf_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osm2vcf_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osm2vcf_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordExport counts one finished export. fetches is the number of API
// requests it issued.
func RecordExport(objectType string, duration time.Duration, fetches int, success bool) {
	ExportsTotal.WithLabelValues(objectType, status(success)).Inc()
	ExportDuration.WithLabelValues(objectType).Observe(duration.Seconds())
	ExportFetches.WithLabelValues(objectType).Observe(float64(fetches))
}

// RecordExportWarning counts a degraded export
func RecordExportWarning(reason string) {
	ExportWarnings.WithLabelValues(reason).Inc()
}

func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, status(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordRateLimitExceeded(service string) {
	RateLimitExceeded.WithLabelValues(service).Inc()
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordCacheLookup counts one response cache lookup
func RecordCacheLookup(service string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(service).Inc()
		return
	}
	CacheMisses.WithLabelValues(service).Inc()
}

func UpdateActiveConnections(transport, connType string, count int) {
	ActiveConnections.WithLabelValues(transport, connType).Set(float64(count))
}

// ClientHooks feeds OSM API client events into the metrics above
func ClientHooks() *osm.MonitoringHooks {
	return &osm.MonitoringHooks{
		OnResponse: RecordExternalServiceRequest,
		OnRateLimit: func(service string, wait time.Duration) {
			RecordRateLimitExceeded(service)
			RecordRateLimitWait(service, wait)
		},
		OnError: func(service, errorType string) {
			RecordError(service, errorType)
		},
		OnCacheLookup: RecordCacheLookup,
	}
}
