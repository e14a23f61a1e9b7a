package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

func stateValue(s BreakerState) float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing
	// a probe.
	RecoveryTimeout time.Duration
	// MonitoringPeriod is the reporting window attached to snapshots.
	MonitoringPeriod time.Duration
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringPeriod: 5 * time.Minute,
	}
}

// BreakerConfigFrom maps the application configuration onto a BreakerConfig.
func BreakerConfigFrom(cfg config.BreakerConfig) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		MonitoringPeriod: cfg.MonitoringPeriod,
	}
}

// BreakerOpenError is returned when a call is rejected because the circuit
// is open.
type BreakerOpenError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("operation %s is temporarily blocked, retry in %s", e.Operation, e.RetryAfter.Round(time.Second))
}

// IsBreakerOpen reports whether the error is a circuit breaker rejection.
func IsBreakerOpen(err error) bool {
	var target *BreakerOpenError
	return stderrors.As(err, &target)
}

// BreakerSnapshot is a point-in-time view of one breaker.
type BreakerSnapshot struct {
	Operation        string        `json:"operation"`
	State            BreakerState  `json:"state"`
	FailureCount     int           `json:"failure_count"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
	TimeUntilRetry   time.Duration `json:"time_until_retry"`
	MonitoringPeriod time.Duration `json:"monitoring_period"`
}

// CircuitBreaker guards one named operation. Consecutive failures open the
// circuit; after the recovery timeout a single probe call decides whether
// it closes again.
type CircuitBreaker struct {
	operation string
	config    BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool

	log      *logging.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	notifier AlertNotifier
}

// NewCircuitBreaker creates a breaker for the named operation.
func NewCircuitBreaker(operation string, cfg BreakerConfig, log *logging.Logger, m *metrics.Metrics, auditLog *audit.Logger, notifier AlertNotifier) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = 5 * time.Minute
	}

	return &CircuitBreaker{
		operation: operation,
		config:    cfg,
		state:     StateClosed,
		log:       log,
		metrics:   m,
		audit:     auditLog,
		notifier:  notifier,
	}
}

// Execute runs the operation if the circuit allows it. The call itself runs
// outside the breaker lock.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	probe, err := cb.beforeCall()
	if err != nil {
		cb.metrics.RecordBreakerRejection(cb.operation)
		return nil, err
	}

	value, opErr := op(ctx)
	cb.afterCall(ctx, probe, opErr)
	return value, opErr
}

// beforeCall decides whether the call may proceed and whether it is the
// half-open probe.
func (cb *CircuitBreaker) beforeCall() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := time.Since(cb.lastFailureTime)
		if elapsed < cb.config.RecoveryTimeout {
			return false, &BreakerOpenError{
				Operation:  cb.operation,
				RetryAfter: cb.config.RecoveryTimeout - elapsed,
			}
		}
		cb.setState(StateHalfOpen)
		cb.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, &BreakerOpenError{
				Operation:  cb.operation,
				RetryAfter: cb.config.RecoveryTimeout,
			}
		}
		cb.probeInFlight = true
		return true, nil
	}

	return false, nil
}

func (cb *CircuitBreaker) afterCall(ctx context.Context, probe bool, opErr error) {
	cb.mu.Lock()

	if probe {
		cb.probeInFlight = false
	}

	if opErr == nil {
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.mu.Unlock()

			cb.log.Info("circuit breaker recovered",
				"operation", cb.operation,
			)
			cb.recordAudit(ctx, audit.ActionCircuitRecovered, audit.StatusSuccess, "")
			return
		}
		cb.failureCount = 0
		cb.mu.Unlock()
		return
	}

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen {
		cb.setState(StateOpen)
		failures := cb.failureCount
		cb.mu.Unlock()

		cb.log.Warn("circuit breaker probe failed, reopening",
			"operation", cb.operation,
			"error", opErr.Error(),
			"failure_count", failures,
		)
		cb.recordAudit(ctx, audit.ActionCircuitOpened, audit.StatusFailed, opErr.Error())
		return
	}

	if cb.state == StateClosed && cb.failureCount >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
		failures := cb.failureCount
		cb.mu.Unlock()

		cb.log.Error("circuit breaker opened",
			"operation", cb.operation,
			"failure_count", failures,
			"threshold", cb.config.FailureThreshold,
		)
		cb.recordAudit(ctx, audit.ActionCircuitOpened, audit.StatusFailed, opErr.Error())
		cb.notifyTrip(ctx, failures, opErr)
		return
	}

	cb.mu.Unlock()
}

// setState transitions the breaker. Caller holds the lock.
func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.metrics.RecordBreakerTransition(cb.operation, string(from), string(to), stateValue(to))
}

func (cb *CircuitBreaker) recordAudit(ctx context.Context, action audit.ActionType, status audit.Status, errMsg string) {
	if cb.audit == nil {
		return
	}
	cb.audit.Record(ctx, audit.Entry{
		Type:         action,
		AutomationID: cb.operation,
		Status:       status,
		Error:        errMsg,
	})
}

func (cb *CircuitBreaker) notifyTrip(ctx context.Context, failures int, opErr error) {
	if cb.notifier == nil {
		return
	}
	cb.notifier.NotifyUrgent(ctx,
		fmt.Sprintf("Circuit breaker opened: %s", cb.operation),
		fmt.Sprintf("Operation %s was blocked after %d consecutive failures. Last error: %s", cb.operation, failures, opErr.Error()),
		map[string]interface{}{
			"operation":     cb.operation,
			"failure_count": failures,
		},
	)
}

// Snapshot returns the current breaker state without changing it.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snapshot := BreakerSnapshot{
		Operation:        cb.operation,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		MonitoringPeriod: cb.config.MonitoringPeriod,
	}

	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		snapshot.LastFailureTime = &t
	}

	if cb.state == StateOpen {
		remaining := cb.config.RecoveryTimeout - time.Since(cb.lastFailureTime)
		if remaining > 0 {
			snapshot.TimeUntilRetry = remaining
		}
	}

	return snapshot
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed and clears its failure history.
func (cb *CircuitBreaker) Reset(ctx context.Context) {
	cb.mu.Lock()
	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
	cb.probeInFlight = false
	cb.mu.Unlock()

	cb.log.Info("circuit breaker reset", "operation", cb.operation)
	cb.recordAudit(ctx, audit.ActionCircuitReset, audit.StatusSuccess, "")
}

// BreakerRegistry manages one breaker per operation name.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	config   BreakerConfig
	log      *logging.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	notifier AlertNotifier
}

// NewBreakerRegistry creates a registry that lazily creates breakers with
// the shared configuration.
func NewBreakerRegistry(cfg BreakerConfig, log *logging.Logger, m *metrics.Metrics, auditLog *audit.Logger, notifier AlertNotifier) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg,
		log:      log,
		metrics:  m,
		audit:    auditLog,
		notifier: notifier,
	}
}

// Get returns the breaker for the operation, creating it on first use.
func (r *BreakerRegistry) Get(operation string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[operation]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[operation]; ok {
		return cb
	}

	cb = NewCircuitBreaker(operation, r.config, r.log, r.metrics, r.audit, r.notifier)
	r.breakers[operation] = cb
	return cb
}

// Execute runs the operation through its breaker.
func (r *BreakerRegistry) Execute(ctx context.Context, operation string, op Operation) (interface{}, error) {
	return r.Get(operation).Execute(ctx, op)
}

// Snapshots returns the state of every known breaker, sorted by operation.
func (r *BreakerRegistry) Snapshots() []BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Operation < snapshots[j].Operation
	})
	return snapshots
}

// OpenCount returns how many breakers are currently open.
func (r *BreakerRegistry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := 0
	for _, cb := range r.breakers {
		if cb.State() == StateOpen {
			open++
		}
	}
	return open
}

// Reset closes the named breaker. It reports whether the breaker existed.
func (r *BreakerRegistry) Reset(ctx context.Context, operation string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[operation]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset(ctx)
	return true
}
