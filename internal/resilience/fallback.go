package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// FallbackHandler keeps a registry of fallback operations and runs them
// when the primary path fails. Registration is explicit; registering twice
// for the same operation replaces the earlier fallback.
type FallbackHandler struct {
	mu        sync.RWMutex
	fallbacks map[string]Operation

	log      *logging.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	notifier AlertNotifier
}

// NewFallbackHandler creates an empty fallback registry.
func NewFallbackHandler(log *logging.Logger, m *metrics.Metrics, auditLog *audit.Logger, notifier AlertNotifier) *FallbackHandler {
	return &FallbackHandler{
		fallbacks: make(map[string]Operation),
		log:       log,
		metrics:   m,
		audit:     auditLog,
		notifier:  notifier,
	}
}

// Register installs the fallback for an operation, replacing any previous
// registration.
func (h *FallbackHandler) Register(operation string, fallback Operation) {
	h.mu.Lock()
	h.fallbacks[operation] = fallback
	h.mu.Unlock()

	h.log.Debug("fallback registered", "operation", operation)
}

// Has reports whether a fallback is registered for the operation.
func (h *FallbackHandler) Has(operation string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.fallbacks[operation]
	return ok
}

// Execute runs the primary operation and, if it fails and a fallback is
// registered, the fallback. When no fallback exists the failure is logged
// and the primary error is returned unchanged. When both fail, the returned
// error names both failures.
func (h *FallbackHandler) Execute(ctx context.Context, operation string, primary Operation) (interface{}, error) {
	value, primaryErr := primary(ctx)
	if primaryErr == nil {
		return value, nil
	}

	h.mu.RLock()
	fallback, ok := h.fallbacks[operation]
	h.mu.RUnlock()

	if !ok {
		h.log.Warn("operation failed with no fallback registered",
			"operation", operation,
			"error", primaryErr.Error(),
		)
		h.metrics.RecordFallback(operation, "missing")
		return nil, primaryErr
	}

	h.log.Warn("primary operation failed, running fallback",
		"operation", operation,
		"error", primaryErr.Error(),
	)
	h.metrics.RecordFallback(operation, "invoked")
	h.recordAudit(ctx, operation, audit.ActionFallbackInvoked, audit.StatusProcessing, primaryErr.Error())

	value, fallbackErr := fallback(ctx)
	if fallbackErr == nil {
		h.metrics.RecordFallback(operation, "success")
		h.recordAudit(ctx, operation, audit.ActionFallbackSucceeded, audit.StatusSuccess, "")
		return value, nil
	}

	composed := fmt.Errorf("operation %s failed: %s; fallback also failed: %s", operation, primaryErr.Error(), fallbackErr.Error())

	h.log.Error("fallback failed after primary failure",
		"operation", operation,
		"primary_error", primaryErr.Error(),
		"fallback_error", fallbackErr.Error(),
	)
	h.metrics.RecordFallback(operation, "failure")
	h.recordAudit(ctx, operation, audit.ActionFallbackFailed, audit.StatusFailed, composed.Error())

	if h.notifier != nil {
		h.notifier.NotifyUrgent(ctx,
			fmt.Sprintf("Fallback failed: %s", operation),
			composed.Error(),
			map[string]interface{}{
				"operation":      operation,
				"primary_error":  primaryErr.Error(),
				"fallback_error": fallbackErr.Error(),
			},
		)
	}

	return nil, composed
}

func (h *FallbackHandler) recordAudit(ctx context.Context, operation string, action audit.ActionType, status audit.Status, errMsg string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(ctx, audit.Entry{
		Type:         action,
		AutomationID: operation,
		Status:       status,
		Error:        errMsg,
	})
}
