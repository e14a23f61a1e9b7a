package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

type capturedAlert struct {
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []capturedAlert
}

func (n *recordingNotifier) NotifyUrgent(ctx context.Context, title, message string, metadata map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, capturedAlert{Title: title, Message: message, Metadata: metadata})
}

func (n *recordingNotifier) Alerts() []capturedAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]capturedAlert(nil), n.alerts...)
}

func failingOp(msg string) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New(msg)
	}
}

func succeedingOp(value interface{}) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return value, nil
	}
}

func testBreaker(t *testing.T, cfg BreakerConfig, notifier AlertNotifier) (*CircuitBreaker, *audit.MemoryRepository) {
	t.Helper()
	auditLog, repo := testAudit(t)
	return NewCircuitBreaker("webhook", cfg, quietLogger(t), &metrics.Metrics{}, auditLog, notifier), repo
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	cb, repo := testBreaker(t, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}, notifier)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, failingOp("connection refused"))
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(ctx, failingOp("connection refused"))
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	alerts := notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Title, "webhook")
	assert.Equal(t, 3, alerts[0].Metadata["failure_count"])

	opened, err := repo.Query(ctx, audit.Filter{Types: []audit.ActionType{audit.ActionCircuitOpened}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, opened, 1)
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	cb, _ := testBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)
	ctx := context.Background()

	_, err := cb.Execute(ctx, failingOp("timeout"))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	calls := 0
	_, err = cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, nil
	})

	require.Error(t, err)
	assert.True(t, IsBreakerOpen(err))
	assert.Contains(t, err.Error(), "temporarily blocked")
	assert.Equal(t, 0, calls, "open breaker must not run the operation")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(t, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failingOp("timeout"))
	cb.Execute(ctx, failingOp("timeout"))

	_, err := cb.Execute(ctx, succeedingOp("ok"))
	require.NoError(t, err)
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	cb.Execute(ctx, failingOp("timeout"))
	cb.Execute(ctx, failingOp("timeout"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb, repo := testBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failingOp("timeout"))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	value, err := cb.Execute(ctx, succeedingOp("recovered"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	recovered, err := repo.Query(ctx, audit.Filter{Types: []audit.ActionType{audit.ActionCircuitRecovered}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, recovered, 1)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb, _ := testBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failingOp("timeout"))
	time.Sleep(15 * time.Millisecond)

	_, err := cb.Execute(ctx, failingOp("still down"))
	require.Error(t, err)
	assert.False(t, IsBreakerOpen(err))
	assert.Equal(t, StateOpen, cb.State())

	// Re-open starts a fresh recovery window.
	_, err = cb.Execute(ctx, succeedingOp("ok"))
	assert.True(t, IsBreakerOpen(err))
}

func TestBreakerSnapshot(t *testing.T) {
	cb, _ := testBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, MonitoringPeriod: 5 * time.Minute}, nil)
	ctx := context.Background()

	snapshot := cb.Snapshot()
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Nil(t, snapshot.LastFailureTime)
	assert.Zero(t, snapshot.TimeUntilRetry)

	cb.Execute(ctx, failingOp("timeout"))

	snapshot = cb.Snapshot()
	assert.Equal(t, StateOpen, snapshot.State)
	assert.Equal(t, 1, snapshot.FailureCount)
	require.NotNil(t, snapshot.LastFailureTime)
	assert.Greater(t, snapshot.TimeUntilRetry, 50*time.Second)
	assert.Equal(t, 5*time.Minute, snapshot.MonitoringPeriod)
}

func TestBreakerReset(t *testing.T) {
	cb, _ := testBreaker(t, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failingOp("timeout"))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset(ctx)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	_, err := cb.Execute(ctx, succeedingOp("ok"))
	assert.NoError(t, err)
}

func TestRegistryOneBreakerPerOperation(t *testing.T) {
	auditLog, _ := testAudit(t)
	registry := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, quietLogger(t), &metrics.Metrics{}, auditLog, nil)
	ctx := context.Background()

	assert.Same(t, registry.Get("webhook"), registry.Get("webhook"))
	assert.NotSame(t, registry.Get("webhook"), registry.Get("publish"))

	registry.Execute(ctx, "webhook", failingOp("timeout"))

	assert.Equal(t, StateOpen, registry.Get("webhook").State())
	assert.Equal(t, StateClosed, registry.Get("publish").State())
	assert.Equal(t, 1, registry.OpenCount())

	snapshots := registry.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, "publish", snapshots[0].Operation)
	assert.Equal(t, "webhook", snapshots[1].Operation)
}

func TestRegistryReset(t *testing.T) {
	auditLog, _ := testAudit(t)
	registry := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, quietLogger(t), &metrics.Metrics{}, auditLog, nil)
	ctx := context.Background()

	registry.Execute(ctx, "webhook", failingOp("timeout"))
	require.Equal(t, 1, registry.OpenCount())

	assert.True(t, registry.Reset(ctx, "webhook"))
	assert.Equal(t, 0, registry.OpenCount())
	assert.False(t, registry.Reset(ctx, "unknown"))
}
