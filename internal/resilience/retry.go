package resilience

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// Operation is a unit of work executed under retry or circuit breaker
// protection.
type Operation func(ctx context.Context) (interface{}, error)

// AlertNotifier receives urgent alerts raised by the resilience layer.
// Implementations must not block.
type AlertNotifier interface {
	NotifyUrgent(ctx context.Context, title, message string, metadata map[string]interface{})
}

// RetryConfig holds retry and backoff settings.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
	// RetryablePatterns, when set, replaces the built-in network error
	// heuristic. Matching is case-insensitive substring.
	RetryablePatterns []string
	// NonRetryablePatterns always wins over RetryablePatterns and the
	// built-in heuristic.
	NonRetryablePatterns []string
}

// DefaultRetryConfig returns the standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// RetryConfigFrom maps the application configuration onto a RetryConfig.
func RetryConfigFrom(cfg config.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.BackoffMultiplier,
	}
}

// networkErrorPatterns is the built-in heuristic for transient failures.
var networkErrorPatterns = []string{
	"network",
	"connection",
	"timeout",
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"EHOSTUNREACH",
	"ENOTFOUND",
	"EPIPE",
	"EAI_AGAIN",
	"socket hang up",
}

func matchesAny(message string, patterns []string) bool {
	lower := strings.ToLower(message)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether an error qualifies for another attempt under
// this configuration. Non-retryable patterns are checked first.
func (c RetryConfig) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	message := err.Error()

	if matchesAny(message, c.NonRetryablePatterns) {
		return false
	}

	if len(c.RetryablePatterns) > 0 {
		return matchesAny(message, c.RetryablePatterns)
	}

	return matchesAny(message, networkErrorPatterns)
}

// RetryLogEntry records one failed attempt and the backoff that followed it.
type RetryLogEntry struct {
	Attempt   int           `json:"attempt"`
	Error     string        `json:"error"`
	Delay     time.Duration `json:"delay"`
	Timestamp time.Time     `json:"timestamp"`
}

// RetryResult is the full outcome of a retried operation, including the
// per-attempt history.
type RetryResult struct {
	Success       bool            `json:"success"`
	Value         interface{}     `json:"value,omitempty"`
	Err           error           `json:"-"`
	Attempts      int             `json:"attempts"`
	TotalDuration time.Duration   `json:"total_duration"`
	RetryLog      []RetryLogEntry `json:"retry_log"`
}

// Executor runs operations with exponential backoff.
type Executor struct {
	config  RetryConfig
	log     *logging.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
}

// NewExecutor creates a retry executor. Zero or negative config values are
// replaced with defaults.
func NewExecutor(config RetryConfig, log *logging.Logger, m *metrics.Metrics, auditLog *audit.Logger) *Executor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Executor{
		config:  config,
		log:     log,
		metrics: m,
		audit:   auditLog,
	}
}

// DelayForAttempt computes the backoff after the given zero-based failed
// attempt.
func (e *Executor) DelayForAttempt(attempt int) time.Duration {
	delay := float64(e.config.BaseDelay) * math.Pow(e.config.Multiplier, float64(attempt))
	if delay > float64(e.config.MaxDelay) {
		delay = float64(e.config.MaxDelay)
	}
	return time.Duration(delay)
}

// Execute runs the operation, retrying transient failures with exponential
// backoff. The returned result always carries the attempt count and the
// retry log, whether or not the operation eventually succeeded.
func (e *Executor) Execute(ctx context.Context, operationName string, op Operation) *RetryResult {
	start := time.Now()
	result := &RetryResult{}

	maxAttempts := e.config.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		result.Attempts = attempt + 1

		value, err := op(ctx)
		if err == nil {
			result.Success = true
			result.Value = value
			result.Err = nil

			if attempt > 0 {
				e.log.Info("operation succeeded after retry",
					"operation", operationName,
					"attempt", attempt+1,
				)
				e.recordAudit(ctx, audit.Entry{
					Type:         audit.ActionOperationSucceeded,
					AutomationID: operationName,
					Status:       audit.StatusSuccess,
					RetryCount:   intPtr(attempt),
				})
			}
			break
		}

		result.Err = err

		if !e.config.IsRetryable(err) {
			e.log.Debug("error is not retryable, stopping",
				"operation", operationName,
				"error", err.Error(),
				"attempt", attempt+1,
			)
			break
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := e.DelayForAttempt(attempt)
		result.RetryLog = append(result.RetryLog, RetryLogEntry{
			Attempt:   attempt + 1,
			Error:     err.Error(),
			Delay:     delay,
			Timestamp: time.Now().UTC(),
		})

		e.metrics.RecordRetryAttempt(operationName, delay)
		e.recordAudit(ctx, audit.Entry{
			Type:         audit.ActionRetryAttempt,
			AutomationID: operationName,
			Status:       audit.StatusProcessing,
			Error:        err.Error(),
			RetryCount:   intPtr(attempt + 1),
			Metadata:     audit.Metadata{"delay_ms": delay.Milliseconds()},
		})

		e.log.Warn("operation failed, retrying",
			"operation", operationName,
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.TotalDuration = time.Since(start)
			e.metrics.RecordRetryOutcome(operationName, "cancelled", result.TotalDuration)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(start)

	if result.Success {
		e.metrics.RecordRetryOutcome(operationName, "success", result.TotalDuration)
		return result
	}

	e.metrics.RecordRetryOutcome(operationName, "failure", result.TotalDuration)

	if result.Err != nil && len(result.RetryLog) > 0 {
		e.log.Error("operation failed after all retry attempts",
			"operation", operationName,
			"error", result.Err.Error(),
			"attempts", result.Attempts,
		)
		e.recordAudit(ctx, audit.Entry{
			Type:         audit.ActionRetryExhausted,
			AutomationID: operationName,
			Status:       audit.StatusFailed,
			Error:        result.Err.Error(),
			RetryCount:   intPtr(result.Attempts - 1),
		})
	}

	return result
}

func (e *Executor) recordAudit(ctx context.Context, entry audit.Entry) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, entry)
}

func intPtr(v int) *int {
	return &v
}
