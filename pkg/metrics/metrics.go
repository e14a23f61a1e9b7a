package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Retry metrics
	RetryAttemptsTotal  *prometheus.CounterVec
	RetryOutcomesTotal  *prometheus.CounterVec
	RetryDelaySeconds   *prometheus.HistogramVec
	OperationDuration   *prometheus.HistogramVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Fallback metrics
	FallbackInvocations *prometheus.CounterVec

	// Error monitor metrics
	ErrorsReported *prometheus.CounterVec
	AlertsFired    *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal     *prometheus.CounterVec
	NotificationsSuppressed *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal  *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "autopilot",
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
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts per operation",
			},
			[]string{"operation"},
		),
		RetryOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "retry_outcomes_total",
				Help:      "Final outcomes of retried operations",
			},
			[]string{"operation", "outcome"},
		),
		RetryDelaySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay applied between retry attempts",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Protected operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"operation"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total circuit breaker state transitions",
			},
			[]string{"operation", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Calls rejected while the breaker was open",
			},
			[]string{"operation"},
		),
		FallbackInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "fallback_invocations_total",
				Help:      "Fallback strategy invocations and their outcomes",
			},
			[]string{"operation", "outcome"},
		),
		ErrorsReported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "errors_reported_total",
				Help:      "Errors reported to the error monitor",
			},
			[]string{"severity", "category"},
		),
		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "alerts_fired_total",
				Help:      "Alerts fired by the error monitor",
			},
			[]string{"alert_type"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notifications_total",
				Help:      "Editor notifications dispatched by type and status",
			},
			[]string{"type", "status"},
		),
		NotificationsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "notifications_suppressed_total",
				Help:      "Notifications deferred by recipient quiet hours",
			},
			[]string{"type"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "audit_writes_total",
				Help:      "Audit log entries recorded by status",
			},
			[]string{"status"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit log persistence failures (entries fell back to console)",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RetryAttemptsTotal,
		m.RetryOutcomesTotal,
		m.RetryDelaySeconds,
		m.OperationDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.FallbackInvocations,
		m.ErrorsReported,
		m.AlertsFired,
		m.NotificationsTotal,
		m.NotificationsSuppressed,
		m.AuditWritesTotal,
		m.AuditWriteFailures,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordRetryAttempt records a single retry attempt and its backoff delay
func (m *Metrics) RecordRetryAttempt(operation string, delay time.Duration) {
	if m.RetryAttemptsTotal == nil {
		return
	}

	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
	m.RetryDelaySeconds.WithLabelValues(operation).Observe(delay.Seconds())
}

// RecordRetryOutcome records the final outcome of a retried operation
func (m *Metrics) RecordRetryOutcome(operation, outcome string, duration time.Duration) {
	if m.RetryOutcomesTotal == nil {
		return
	}

	m.RetryOutcomesTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change
func (m *Metrics) RecordBreakerTransition(operation, from, to string, stateValue float64) {
	if m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(operation, from, to).Inc()
	m.BreakerState.WithLabelValues(operation).Set(stateValue)
}

// RecordBreakerRejection records a call rejected by an open breaker
func (m *Metrics) RecordBreakerRejection(operation string) {
	if m.BreakerRejections == nil {
		return
	}

	m.BreakerRejections.WithLabelValues(operation).Inc()
}

// RecordFallback records a fallback invocation outcome
func (m *Metrics) RecordFallback(operation, outcome string) {
	if m.FallbackInvocations == nil {
		return
	}

	m.FallbackInvocations.WithLabelValues(operation, outcome).Inc()
}

// RecordErrorReported records an error reported to the monitor
func (m *Metrics) RecordErrorReported(severity, category string) {
	if m.ErrorsReported == nil {
		return
	}

	m.ErrorsReported.WithLabelValues(severity, category).Inc()
}

// RecordAlert records an alert fired by the monitor
func (m *Metrics) RecordAlert(alertType string) {
	if m.AlertsFired == nil {
		return
	}

	m.AlertsFired.WithLabelValues(alertType).Inc()
}

// RecordNotification records a dispatched notification
func (m *Metrics) RecordNotification(notificationType, status string) {
	if m.NotificationsTotal == nil {
		return
	}

	m.NotificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// RecordNotificationSuppressed records a quiet-hours deferral
func (m *Metrics) RecordNotificationSuppressed(notificationType string) {
	if m.NotificationsSuppressed == nil {
		return
	}

	m.NotificationsSuppressed.WithLabelValues(notificationType).Inc()
}

// RecordAuditWrite records an audit log write
func (m *Metrics) RecordAuditWrite(status string) {
	if m.AuditWritesTotal == nil {
		return
	}

	m.AuditWritesTotal.WithLabelValues(status).Inc()
}

// RecordAuditWriteFailure records a persistence failure
func (m *Metrics) RecordAuditWriteFailure() {
	if m.AuditWriteFailures == nil {
		return
	}

	m.AuditWriteFailures.Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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
