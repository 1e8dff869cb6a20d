package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Queue metrics
	TasksEnqueued         *prometheus.CounterVec
	TaskExecutions        *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	QueueDepth            *prometheus.GaugeVec
	WorkersActive         *prometheus.GaugeVec
	BatchesTotal          *prometheus.CounterVec

	// Executor metrics
	ExecutorAttempts        *prometheus.CounterVec
	ExecutorAttemptDuration *prometheus.HistogramVec
	RetriesTotal            *prometheus.CounterVec
	FallbacksTotal          *prometheus.CounterVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Session metrics
	SessionsActive *prometheus.GaugeVec

	// Archive metrics
	ArchiveOperations        *prometheus.CounterVec
	ArchiveOperationDuration *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec

	// Resource metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "essayagents",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Queue metrics
		TasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "tasks_enqueued_total",
				Help:      "Total number of enqueue attempts",
			},
			[]string{"queue", "status"},
		),
		TaskExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "task_executions_total",
				Help:      "Total number of executed work items",
			},
			[]string{"queue", "status"},
		),
		TaskExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "task_execution_duration_seconds",
				Help:      "Work item execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"queue", "status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queue_depth",
				Help:      "Number of items waiting in the queue",
			},
			[]string{"queue"},
		),
		WorkersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "workers_active",
				Help:      "Number of running worker loops",
			},
			[]string{"queue"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "batches_total",
				Help:      "Total number of grouped batches processed",
			},
			[]string{"queue"},
		),

		// Executor metrics
		ExecutorAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "executor_attempts_total",
				Help:      "Total number of resilient execution attempts",
			},
			[]string{"outcome"},
		),
		ExecutorAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "executor_attempt_duration_seconds",
				Help:      "Resilient execution attempt duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Total number of retry transitions",
			},
			[]string{"reason"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback results produced",
			},
			[]string{"component"},
		),

		// Breaker metrics
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of breaker state transitions",
			},
			[]string{"name", "to_state"},
		),

		// Session metrics
		SessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "sessions_active",
				Help:      "Number of live sessions in the registry",
			},
			[]string{"isolation_level"},
		),

		// Archive metrics
		ArchiveOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "archive_operations_total",
				Help:      "Total number of result archive operations",
			},
			[]string{"operation", "status"},
		),
		ArchiveOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "archive_operation_duration_seconds",
				Help:      "Result archive operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"component"},
		),

		// Resource metrics
		MemoryUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Memory usage in bytes",
			},
			[]string{"type"},
		),
		Goroutines: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "goroutines",
				Help:      "Number of live goroutines",
			},
			[]string{"component"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.TasksEnqueued,
		m.TaskExecutions,
		m.TaskExecutionDuration,
		m.QueueDepth,
		m.WorkersActive,
		m.BatchesTotal,
		m.ExecutorAttempts,
		m.ExecutorAttemptDuration,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.BreakerState,
		m.BreakerTransitions,
		m.SessionsActive,
		m.ArchiveOperations,
		m.ArchiveOperationDuration,
		m.ErrorsTotal,
		m.PanicsTotal,
		m.MemoryUsage,
		m.Goroutines,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordEnqueue records an enqueue attempt
func (m *Metrics) RecordEnqueue(queue string, accepted bool) {
	if m == nil || m.TasksEnqueued == nil {
		return
	}

	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.TasksEnqueued.WithLabelValues(queue, status).Inc()
}

// RecordTaskExecution records a finished work item
func (m *Metrics) RecordTaskExecution(queue, status string, duration time.Duration) {
	if m == nil || m.TaskExecutions == nil {
		return
	}

	m.TaskExecutions.WithLabelValues(queue, status).Inc()
	m.TaskExecutionDuration.WithLabelValues(queue, status).Observe(duration.Seconds())
}

// UpdateQueueDepth updates the queue depth gauge
func (m *Metrics) UpdateQueueDepth(queue string, depth int) {
	if m == nil || m.QueueDepth == nil {
		return
	}

	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// UpdateActiveWorkers updates the active worker gauge
func (m *Metrics) UpdateActiveWorkers(queue string, count int) {
	if m == nil || m.WorkersActive == nil {
		return
	}

	m.WorkersActive.WithLabelValues(queue).Set(float64(count))
}

// RecordBatch records a processed grouped batch
func (m *Metrics) RecordBatch(queue string) {
	if m == nil || m.BatchesTotal == nil {
		return
	}

	m.BatchesTotal.WithLabelValues(queue).Inc()
}

// RecordExecutorAttempt records one resilient execution attempt
func (m *Metrics) RecordExecutorAttempt(outcome string, duration time.Duration) {
	if m == nil || m.ExecutorAttempts == nil {
		return
	}

	m.ExecutorAttempts.WithLabelValues(outcome).Inc()
	m.ExecutorAttemptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRetry records a retry transition
func (m *Metrics) RecordRetry(reason string) {
	if m == nil || m.RetriesTotal == nil {
		return
	}

	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordFallback records a produced fallback result
func (m *Metrics) RecordFallback(component string) {
	if m == nil || m.FallbacksTotal == nil {
		return
	}

	m.FallbacksTotal.WithLabelValues(component).Inc()
}

// UpdateBreakerState updates the breaker state gauge
func (m *Metrics) UpdateBreakerState(name string, state int) {
	if m == nil || m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordBreakerTransition records a breaker state transition
func (m *Metrics) RecordBreakerTransition(name, toState string) {
	if m == nil || m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(name, toState).Inc()
}

// UpdateSessions updates the live session gauge
func (m *Metrics) UpdateSessions(isolationLevel string, count int) {
	if m == nil || m.SessionsActive == nil {
		return
	}

	m.SessionsActive.WithLabelValues(isolationLevel).Set(float64(count))
}

// RecordArchiveOperation records a result archive operation
func (m *Metrics) RecordArchiveOperation(operation, status string, duration time.Duration) {
	if m == nil || m.ArchiveOperations == nil {
		return
	}

	m.ArchiveOperations.WithLabelValues(operation, status).Inc()
	m.ArchiveOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsCollector periodically samples runtime and component state
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sample   func(*Metrics)
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector. The sample function, if
// not nil, is invoked on every tick to push component state (queue depth,
// breaker state, session counts) into the gauges.
func NewMetricsCollector(metrics *Metrics, interval time.Duration, sample func(*Metrics)) *MetricsCollector {
	return &MetricsCollector{
		metrics:  metrics,
		interval: interval,
		sample:   sample,
		stopCh:   make(chan struct{}),
	}
}

// Start begins metrics collection
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collectMetrics()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

// collectMetrics samples runtime state and component gauges
func (mc *MetricsCollector) collectMetrics() {
	if mc.metrics.MemoryUsage != nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		mc.metrics.MemoryUsage.WithLabelValues("heap_alloc").Set(float64(ms.HeapAlloc))
		mc.metrics.MemoryUsage.WithLabelValues("sys").Set(float64(ms.Sys))
	}
	if mc.metrics.Goroutines != nil {
		mc.metrics.Goroutines.WithLabelValues("process").Set(float64(runtime.NumGoroutine()))
	}

	if mc.sample != nil {
		mc.sample(mc.metrics)
	}
}
