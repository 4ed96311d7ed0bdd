// Package metrics holds the Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. All recording
// methods are safe to call on a nil *Metrics.
type Metrics struct {
	// SyncRuns counts finished passes by entity and status
	SyncRuns *prometheus.CounterVec
	// SyncDuration tracks pass duration by entity and mode
	SyncDuration *prometheus.HistogramVec
	// RecordsMerged counts records committed to the store
	RecordsMerged *prometheus.CounterVec
	// FetchFailures counts per-record fetch failures
	FetchFailures *prometheus.CounterVec
	// RemoteRequests counts remote API requests by endpoint and status class
	RemoteRequests *prometheus.CounterVec
	// RemoteLatency tracks remote API latency by endpoint
	RemoteLatency *prometheus.HistogramVec
	// Retries counts retried remote calls by reason
	Retries *prometheus.CounterVec
	// TokenRefreshes counts bearer token refreshes by result
	TokenRefreshes *prometheus.CounterVec
	// CacheLookups counts record cache lookups by result
	CacheLookups *prometheus.CounterVec
	// HTTPRequestsTotal counts requests served by the status API
	HTTPRequestsTotal *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of sync passes by outcome",
			},
			[]string{"entity", "status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync passes in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"entity", "mode"},
		),
		RecordsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_merged_total",
				Help:      "Total number of records committed to the local store",
			},
			[]string{"entity"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Total number of records that could not be fetched",
			},
			[]string{"entity"},
		),
		RemoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Total number of remote API requests",
			},
			[]string{"endpoint", "status"},
		),
		RemoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Remote API request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_retries_total",
				Help:      "Total number of retried remote calls",
			},
			[]string{"reason"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of bearer token refreshes",
			},
			[]string{"result"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_cache_lookups_total",
				Help:      "Total number of record cache lookups",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"endpoint", "method", "status"},
		),
	}

	registry.MustRegister(
		m.SyncRuns,
		m.SyncDuration,
		m.RecordsMerged,
		m.FetchFailures,
		m.RemoteRequests,
		m.RemoteLatency,
		m.Retries,
		m.TokenRefreshes,
		m.CacheLookups,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSyncRun records the outcome and duration of one pass.
func (m *Metrics) RecordSyncRun(entity, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(entity, status).Inc()
	m.SyncDuration.WithLabelValues(entity, mode).Observe(d.Seconds())
}

// RecordMerged adds n committed records for entity.
func (m *Metrics) RecordMerged(entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsMerged.WithLabelValues(entity).Add(float64(n))
}

// RecordFetchFailures adds n failed fetches for entity.
func (m *Metrics) RecordFetchFailures(entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FetchFailures.WithLabelValues(entity).Add(float64(n))
}

// RecordRemoteRequest records one remote round trip. A zero status means the
// request never produced a response.
func (m *Metrics) RecordRemoteRequest(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(endpoint, StatusClass(status)).Inc()
	m.RemoteLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordRetry records one retried remote call.
func (m *Metrics) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(reason).Inc()
}

// RecordTokenRefresh records a bearer token refresh attempt.
func (m *Metrics) RecordTokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a record cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a request served by the status API.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
}

// StatusClass buckets an HTTP status code into "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
