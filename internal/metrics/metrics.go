package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordCollectionAttempt(source, channel, status string)
	RecordCacheHit(source string, hit bool)
	RecordSourceError(source, kind string)
	RecordBatchDuration(mode string, duration time.Duration)
	SetProcessedRegions(count float64)
	SetSelectedRegions(count float64)
	RecordRunOutcome(mode, outcome string)
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(op, status string)
	Handler() http.Handler
}

// promMetrics is the Prometheus-backed implementation, registered against
// its own registry so tests can construct independent instances.
type promMetrics struct {
	registry *prometheus.Registry

	collectionAttempts *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	sourceErrors       *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	processedRegions   prometheus.Gauge
	selectedRegions    prometheus.Gauge
	runOutcomes        *prometheus.CounterVec

	httpRequests       *prometheus.HistogramVec
	dbConnectionsActive prometheus.Gauge
	dbQueries          *prometheus.CounterVec
}

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &promMetrics{
		registry: registry,
		collectionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hazardengine_collection_attempts_total",
			Help: "Source fetch attempts by source, channel and outcome status.",
		}, []string{"source", "channel", "status"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hazardengine_cache_requests_total",
			Help: "Cache lookups by source and hit/miss.",
		}, []string{"source", "result"}),
		sourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hazardengine_source_errors_total",
			Help: "Non-fatal source errors by source and error kind.",
		}, []string{"source", "kind"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hazardengine_batch_duration_seconds",
			Help:    "Time to collect, fuse and commit one batch, by run mode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		processedRegions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hazardengine_run_processed_regions",
			Help: "Regions processed so far in the current (or last) run.",
		}),
		selectedRegions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hazardengine_run_selected_regions",
			Help: "Regions selected for the current (or last) run.",
		}),
		runOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hazardengine_run_outcomes_total",
			Help: "Completed runs by mode and outcome (committed, aborted, timed_out, error).",
		}, []string{"mode", "outcome"}),
		httpRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hazardengine_http_request_duration_seconds",
			Help:    "Control-surface HTTP request duration by method, path and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		dbConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hazardengine_db_connections_active",
			Help: "Acquired connections in the Postgres pool.",
		}),
		dbQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hazardengine_db_queries_total",
			Help: "Database operations by kind and outcome status.",
		}, []string{"op", "status"}),
	}
	return m
}

func (m *promMetrics) RecordCollectionAttempt(source, channel, status string) {
	m.collectionAttempts.WithLabelValues(source, channel, status).Inc()
}

func (m *promMetrics) RecordCacheHit(source string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(source, result).Inc()
}

func (m *promMetrics) RecordSourceError(source, kind string) {
	m.sourceErrors.WithLabelValues(source, kind).Inc()
}

func (m *promMetrics) RecordBatchDuration(mode string, duration time.Duration) {
	m.batchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *promMetrics) SetProcessedRegions(count float64) {
	m.processedRegions.Set(count)
}

func (m *promMetrics) SetSelectedRegions(count float64) {
	m.selectedRegions.Set(count)
}

func (m *promMetrics) RecordRunOutcome(mode, outcome string) {
	m.runOutcomes.WithLabelValues(mode, outcome).Inc()
}

func (m *promMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Observe(duration.Seconds())
}

func (m *promMetrics) SetDBConnectionsActive(count float64) {
	m.dbConnectionsActive.Set(count)
}

func (m *promMetrics) RecordDBQuery(op, status string) {
	m.dbQueries.WithLabelValues(op, status).Inc()
}

func (m *promMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Global metrics instance
var globalMetrics Metrics = newPromMetrics()

// Init (re)initializes the global Prometheus-backed metrics instance.
func Init() {
	globalMetrics = newPromMetrics()
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return globalMetrics.Handler()
}

// RecordCollectionAttempt records a C2 source fetch outcome.
func RecordCollectionAttempt(source, channel, status string) {
	globalMetrics.RecordCollectionAttempt(source, channel, status)
}

// RecordCacheHit records a C3 cache lookup outcome.
func RecordCacheHit(source string, hit bool) {
	globalMetrics.RecordCacheHit(source, hit)
}

// RecordSourceError records a non-fatal source error by kind (§7).
func RecordSourceError(source, kind string) {
	globalMetrics.RecordSourceError(source, kind)
}

// RecordBatchDuration records how long one batch took to collect, fuse and commit.
func RecordBatchDuration(mode string, duration time.Duration) {
	globalMetrics.RecordBatchDuration(mode, duration)
}

// SetProcessedRegions updates the processed-regions gauge.
func SetProcessedRegions(count float64) {
	globalMetrics.SetProcessedRegions(count)
}

// SetSelectedRegions updates the selected-regions gauge.
func SetSelectedRegions(count float64) {
	globalMetrics.SetSelectedRegions(count)
}

// RecordRunOutcome records a terminal run outcome by mode (§6, §7).
func RecordRunOutcome(mode, outcome string) {
	globalMetrics.RecordRunOutcome(mode, outcome)
}

// RecordHTTPRequest records one control-surface HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	globalMetrics.RecordHTTPRequest(method, path, status, duration)
}

// SetDBConnectionsActive updates the active-connections gauge.
func SetDBConnectionsActive(count float64) {
	globalMetrics.SetDBConnectionsActive(count)
}

// RecordDBQuery records one database operation outcome.
func RecordDBQuery(op, status string) {
	globalMetrics.RecordDBQuery(op, status)
}
