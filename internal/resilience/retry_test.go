package resilience

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.NewLogger(&logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	log.SetOutput(&bytes.Buffer{})
	return log
}

func testAudit(t *testing.T) (*audit.Logger, *audit.MemoryRepository) {
	t.Helper()
	repo := audit.NewMemoryRepository()
	return audit.NewLogger(repo, quietLogger(t), &metrics.Metrics{}, config.RetentionConfig{AuditLogDays: 90, CleanupBatchSize: 100}), repo
}

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDelayForAttemptExponentialBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
	e := NewExecutor(cfg, quietLogger(t), &metrics.Metrics{}, nil)

	assert.Equal(t, time.Second, e.DelayForAttempt(0))
	assert.Equal(t, 2*time.Second, e.DelayForAttempt(1))
	assert.Equal(t, 4*time.Second, e.DelayForAttempt(2))
}

func TestDelayForAttemptCappedAtMax(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	e := NewExecutor(cfg, quietLogger(t), &metrics.Metrics{}, nil)

	assert.Equal(t, 4*time.Second, e.DelayForAttempt(2))
	assert.Equal(t, 5*time.Second, e.DelayForAttempt(3))
	assert.Equal(t, 5*time.Second, e.DelayForAttempt(8))
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	e := NewExecutor(fastRetryConfig(3), quietLogger(t), &metrics.Metrics{}, nil)

	result := e.Execute(context.Background(), "publish", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.RetryLog)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	e := NewExecutor(fastRetryConfig(3), quietLogger(t), &metrics.Metrics{}, nil)

	calls := 0
	result := e.Execute(context.Background(), "webhook", func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, stderrors.New("connection refused")
		}
		return "delivered", nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, result.RetryLog, 2)
	assert.Equal(t, 1, result.RetryLog[0].Attempt)
	assert.Equal(t, 2, result.RetryLog[1].Attempt)
	assert.Equal(t, "connection refused", result.RetryLog[0].Error)
	assert.Equal(t, time.Millisecond, result.RetryLog[0].Delay)
	assert.Equal(t, 2*time.Millisecond, result.RetryLog[1].Delay)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	e := NewExecutor(fastRetryConfig(3), quietLogger(t), &metrics.Metrics{}, nil)

	calls := 0
	result := e.Execute(context.Background(), "validate", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("invalid payload shape")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, result.RetryLog)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	auditLog, repo := testAudit(t)
	e := NewExecutor(fastRetryConfig(3), quietLogger(t), &metrics.Metrics{}, auditLog)

	calls := 0
	result := e.Execute(context.Background(), "webhook", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, stderrors.New("ETIMEDOUT")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, 4, calls)
	assert.Len(t, result.RetryLog, 3)
	require.Error(t, result.Err)

	exhausted, err := repo.Query(context.Background(), audit.Filter{Types: []audit.ActionType{audit.ActionRetryExhausted}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, exhausted, 1)
}

func TestExecuteHonoursContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2.0}
	e := NewExecutor(cfg, quietLogger(t), &metrics.Metrics{}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *RetryResult, 1)
	go func() {
		done <- e.Execute(ctx, "slow", func(ctx context.Context) (interface{}, error) {
			return nil, stderrors.New("timeout")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("execute did not return after cancellation")
	}
}

func TestIsRetryableDefaultHeuristic(t *testing.T) {
	cfg := DefaultRetryConfig()

	retryable := []string{
		"network unreachable",
		"Connection reset by peer",
		"request timeout",
		"dial tcp: ECONNREFUSED",
		"socket hang up",
		"getaddrinfo EAI_AGAIN example.com",
	}
	for _, msg := range retryable {
		assert.True(t, cfg.IsRetryable(stderrors.New(msg)), msg)
	}

	assert.False(t, cfg.IsRetryable(stderrors.New("validation failed: missing title")))
	assert.False(t, cfg.IsRetryable(nil))
}

func TestIsRetryableNonRetryableWins(t *testing.T) {
	cfg := RetryConfig{
		RetryablePatterns:    []string{"timeout"},
		NonRetryablePatterns: []string{"auth timeout"},
	}

	assert.True(t, cfg.IsRetryable(stderrors.New("read timeout")))
	assert.False(t, cfg.IsRetryable(stderrors.New("auth timeout while refreshing token")))
}

func TestIsRetryableExplicitPatternsReplaceHeuristic(t *testing.T) {
	cfg := RetryConfig{RetryablePatterns: []string{"rate limit"}}

	assert.True(t, cfg.IsRetryable(stderrors.New("Rate Limit exceeded")))
	// The built-in network heuristic no longer applies.
	assert.False(t, cfg.IsRetryable(stderrors.New("connection refused")))
}
