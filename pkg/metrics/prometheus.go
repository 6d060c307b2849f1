// Package metrics provides Prometheus metrics for the rally scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets are in milliseconds; score recomputes touch the database
// several times so the default (seconds) buckets are too coarse.
var latencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Task pipeline
	tasksEnqueued   *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	tasksRetried    *prometheus.CounterVec
	taskLatency     *prometheus.HistogramVec
	queueSize       prometheus.Gauge
	queueErrors     *prometheus.CounterVec
	workerActive    prometheus.Gauge
	workerBusy      prometheus.Gauge
	statusErrors    prometheus.Counter
	errorsComponent *prometheus.CounterVec

	// Scores
	scoreApplied    prometheus.Counter
	scoreSkipped    prometheus.Counter
	scoreIncrement  prometheus.Histogram
	scoreOverrides  prometheus.Counter
	computeLatency  prometheus.Histogram
	storeLatency    *prometheus.HistogramVec
	rankingRequests prometheus.Counter

	// Cache
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics sink

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rally",
		subsystem:        "scoring",
		histogramBuckets: latencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.tasksEnqueued = m.counterVec("tasks_enqueued_total", "Tasks accepted by the dispatcher", "kind")
	m.tasksCompleted = m.counterVec("tasks_completed_total", "Tasks that reached a terminal state", "kind", "outcome")
	m.tasksRetried = m.counterVec("tasks_retried_total", "Task attempts rescheduled after a transient failure", "kind")
	m.taskLatency = m.histogramVec("task_latency_milliseconds", "Duration of a single task attempt", "kind")
	m.queueSize = m.gauge("queue_size", "Tasks waiting in the queue")
	m.queueErrors = m.counterVec("queue_errors_total", "Queue operation failures", "op")
	m.workerActive = m.gauge("worker_count", "Workers in the pool")
	m.workerBusy = m.gauge("worker_busy", "Workers currently executing a task")
	m.statusErrors = m.counter("status_errors_total", "Failures writing task status")
	m.errorsComponent = m.counterVec("errors_total", "Errors by component and kind", "component", "kind")

	m.scoreApplied = m.counter("score_applied_total", "Score recomputes committed to the durable store")
	m.scoreSkipped = m.counter("score_skipped_total", "Recomputes skipped because the operation was already applied")
	m.scoreIncrement = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "score_increment",
		Help:    "Distribution of score increments",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.scoreOverrides = m.counter("score_overrides_total", "Administrative score overrides")
	m.computeLatency = m.histogram("compute_latency_milliseconds", "Time spent loading history and computing a score")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Durable score store latency", "op")
	m.rankingRequests = m.counter("ranking_requests_total", "Event ranking queries served")

	m.cacheHits = m.counter("cache_hits_total", "Score reads answered by the cache")
	m.cacheMisses = m.counter("cache_misses_total", "Score reads that fell through to the store")
	m.cacheErrors = m.counterVec("cache_errors_total", "Cache operation failures", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// Task pipeline

func RecordTaskEnqueued(kind string) { globalManager.tasksEnqueued.WithLabelValues(kind).Inc() }

func RecordTaskCompleted(kind, outcome string) {
	globalManager.tasksCompleted.WithLabelValues(kind, outcome).Inc()
}

func RecordTaskRetried(kind string) { globalManager.tasksRetried.WithLabelValues(kind).Inc() }

func RecordTaskLatency(kind string, latencyMs float64) {
	globalManager.taskLatency.WithLabelValues(kind).Observe(latencyMs)
}

func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

func RecordQueueError(op string) { globalManager.queueErrors.WithLabelValues(op).Inc() }

func UpdateWorkerCount(count int) { globalManager.workerActive.Set(float64(count)) }

func IncWorkerBusy() { globalManager.workerBusy.Inc() }

func DecWorkerBusy() { globalManager.workerBusy.Dec() }

func RecordStatusError() { globalManager.statusErrors.Inc() }

// RecordErrorByComponent counts an error against the component that saw it.
func RecordErrorByComponent(component, kind string) {
	globalManager.errorsComponent.WithLabelValues(component, kind).Inc()
}

// Scores

func RecordScoreApplied(increment float64) {
	globalManager.scoreApplied.Inc()
	globalManager.scoreIncrement.Observe(increment)
}

func RecordScoreSkipped() { globalManager.scoreSkipped.Inc() }

func RecordScoreOverride() { globalManager.scoreOverrides.Inc() }

func RecordComputeLatency(latencyMs float64) { globalManager.computeLatency.Observe(latencyMs) }

func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

func RecordRankingRequest() { globalManager.rankingRequests.Inc() }

// Cache

func RecordCacheHit() { globalManager.cacheHits.Inc() }

func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

func RecordCacheError(op string) { globalManager.cacheErrors.WithLabelValues(op).Inc() }

// HTTP

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// System

func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
