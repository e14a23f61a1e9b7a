package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/internal/resilience"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/errors"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

const (
	recurrenceWindow  = 24 * time.Hour
	severityCooldown  = 5 * time.Minute
	errorRateCooldown = time.Hour
	breakerCooldown   = 30 * time.Minute
)

// BreakerStats exposes the circuit breaker state the monitor folds into
// alerts and health checks.
type BreakerStats interface {
	OpenCount() int
}

// Monitor classifies reported errors, assesses impact, detects recurrence
// and drives alerting. Errors live in a bounded in-memory buffer; a
// repository, when configured, keeps a durable copy.
type Monitor struct {
	cfg       config.MonitorConfig
	retention config.RetentionConfig

	log      *logging.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	notifier resilience.AlertNotifier
	repo     Repository
	breakers BreakerStats

	mu                 sync.Mutex
	buffer             []*MonitoredError
	lastSeverityAlert  map[errors.Severity]time.Time
	lastErrorRateAlert time.Time
	lastBreakerAlert   time.Time
	escalations        map[uuid.UUID]*time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// Option configures optional monitor collaborators.
type Option func(*Monitor)

// WithRepository attaches durable error storage.
func WithRepository(repo Repository) Option {
	return func(m *Monitor) { m.repo = repo }
}

// WithBreakerStats attaches the circuit breaker registry.
func WithBreakerStats(stats BreakerStats) Option {
	return func(m *Monitor) { m.breakers = stats }
}

// WithNotifier attaches the alert sink.
func WithNotifier(notifier resilience.AlertNotifier) Option {
	return func(m *Monitor) { m.notifier = notifier }
}

// NewMonitor creates an error monitor.
func NewMonitor(cfg config.MonitorConfig, retention config.RetentionConfig, log *logging.Logger, mx *metrics.Metrics, auditLog *audit.Logger, opts ...Option) *Monitor {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 10000
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = 10 * time.Minute
	}
	if cfg.EscalationDelay <= 0 {
		cfg.EscalationDelay = 30 * time.Minute
	}

	m := &Monitor{
		cfg:               cfg,
		retention:         retention,
		log:               log,
		metrics:           mx,
		audit:             auditLog,
		lastSeverityAlert: make(map[errors.Severity]time.Time),
		escalations:       make(map[uuid.UUID]*time.Timer),
		stopCh:            make(chan struct{}),
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Report records an error occurrence and returns the classified entry.
func (m *Monitor) Report(ctx context.Context, err error, operationName string, errCtx Context) *MonitoredError {
	severity, category := Classify(err)
	now := m.now().UTC()

	entry := &MonitoredError{
		ID:               uuid.New(),
		Severity:         severity,
		Category:         category,
		Message:          err.Error(),
		OperationName:    operationName,
		Timestamp:        now,
		Context:          errCtx,
		Impact:           AssessImpact(severity, err.Error()),
		ResolutionStatus: ResolutionPending,
	}

	m.mu.Lock()
	entry.Recurrence = m.detectRecurrence(entry)
	m.buffer = append(m.buffer, entry)
	if len(m.buffer) > m.cfg.BufferCapacity {
		m.buffer = m.buffer[len(m.buffer)-m.cfg.BufferCapacity:]
	}
	m.mu.Unlock()

	m.metrics.RecordErrorReported(string(severity), string(category))

	m.log.WithFields(map[string]interface{}{
		"component":      "monitor",
		"error_id":       entry.ID.String(),
		"severity":       severity,
		"category":       category,
		"operation":      operationName,
		"recurring":      entry.Recurrence.IsRecurring,
		"recurrence":     entry.Recurrence.Pattern,
		"business_impact": entry.Impact.BusinessImpact,
	}).Error(err.Error())

	m.audit.Record(ctx, audit.Entry{
		Type:         audit.ActionErrorReported,
		AutomationID: operationName,
		Status:       audit.StatusFailed,
		Error:        err.Error(),
		Metadata: audit.Metadata{
			"error_id": entry.ID.String(),
			"severity": string(severity),
			"category": string(category),
		},
	})

	if m.repo != nil {
		if persistErr := m.repo.Insert(ctx, entry); persistErr != nil {
			m.log.Warn("monitored error not persisted",
				"error_id", entry.ID.String(),
				"error", persistErr.Error(),
			)
		}
	}

	m.maybeAlert(ctx, entry)

	if severity == errors.SeverityCritical {
		m.scheduleEscalation(entry)
	}

	return entry
}

// detectRecurrence scans the buffer for identical errors within the
// lookback window. Caller holds the lock; the new entry is not yet in the
// buffer.
func (m *Monitor) detectRecurrence(entry *MonitoredError) Recurrence {
	cutoff := entry.Timestamp.Add(-recurrenceWindow)

	var timestamps []time.Time
	for _, e := range m.buffer {
		if e.Message == entry.Message && e.OperationName == entry.OperationName && !e.Timestamp.Before(cutoff) {
			timestamps = append(timestamps, e.Timestamp)
		}
	}
	timestamps = append(timestamps, entry.Timestamp)

	rec := Recurrence{
		Count:     len(timestamps),
		FirstSeen: timestamps[0],
		LastSeen:  entry.Timestamp,
		Pattern:   PatternNone,
	}

	if rec.Count < 2 {
		return rec
	}

	rec.IsRecurring = true

	meanInterval := entry.Timestamp.Sub(timestamps[0]) / time.Duration(rec.Count-1)
	switch {
	case meanInterval < time.Minute:
		rec.Pattern = PatternRapidSuccession
	case meanInterval < time.Hour:
		rec.Pattern = PatternFrequent
	case meanInterval < 24*time.Hour:
		rec.Pattern = PatternPeriodic
	default:
		rec.Pattern = PatternSporadic
	}

	return rec
}

func (m *Monitor) immediateAlertSeverity(severity errors.Severity) bool {
	for _, s := range m.cfg.ImmediateAlertSeverities {
		if errors.Severity(s) == severity {
			return true
		}
	}
	return false
}

// maybeAlert applies the cooldown rules and fires urgent notifications.
// Critical errors alert every time; other immediate severities share a per
// severity cooldown. Error rate and open breaker alerts have their own,
// longer cooldowns.
func (m *Monitor) maybeAlert(ctx context.Context, entry *MonitoredError) {
	now := m.now()

	if m.immediateAlertSeverity(entry.Severity) {
		m.mu.Lock()
		fire := entry.Severity == errors.SeverityCritical ||
			now.Sub(m.lastSeverityAlert[entry.Severity]) >= severityCooldown
		if fire {
			m.lastSeverityAlert[entry.Severity] = now
		}
		m.mu.Unlock()

		if fire {
			m.fireAlert(ctx, "severity",
				fmt.Sprintf("%s error in %s", entry.Severity, entry.OperationName),
				entry.Message,
				map[string]interface{}{
					"error_id":  entry.ID.String(),
					"severity":  string(entry.Severity),
					"category":  string(entry.Category),
					"operation": entry.OperationName,
				})
		}
	}

	lastHour := m.errorsSince(now.Add(-time.Hour))
	if lastHour >= m.cfg.ErrorRateThreshold {
		m.mu.Lock()
		fire := now.Sub(m.lastErrorRateAlert) >= errorRateCooldown
		if fire {
			m.lastErrorRateAlert = now
		}
		m.mu.Unlock()

		if fire {
			m.fireAlert(ctx, "error_rate",
				"Elevated error rate",
				fmt.Sprintf("%d errors recorded in the last hour (threshold %d)", lastHour, m.cfg.ErrorRateThreshold),
				map[string]interface{}{"errors_last_hour": lastHour})
		}
	}

	if m.breakers != nil {
		if open := m.breakers.OpenCount(); open >= m.cfg.CircuitBreakerThreshold {
			m.mu.Lock()
			fire := now.Sub(m.lastBreakerAlert) >= breakerCooldown
			if fire {
				m.lastBreakerAlert = now
			}
			m.mu.Unlock()

			if fire {
				m.fireAlert(ctx, "circuit_breaker",
					"Circuit breakers open",
					fmt.Sprintf("%d circuit breaker(s) currently open", open),
					map[string]interface{}{"open_breakers": open})
			}
		}
	}
}

func (m *Monitor) fireAlert(ctx context.Context, alertType, title, message string, metadata map[string]interface{}) {
	m.metrics.RecordAlert(alertType)

	m.audit.Record(ctx, audit.Entry{
		Type:     audit.ActionAlertFired,
		Status:   audit.StatusWarning,
		Error:    message,
		Metadata: audit.Metadata{"alert_type": alertType, "title": title},
	})

	if m.notifier != nil {
		m.notifier.NotifyUrgent(ctx, title, message, metadata)
	}
}

// scheduleEscalation arms a timer that re-alerts if a critical error is
// still unresolved after the escalation delay.
func (m *Monitor) scheduleEscalation(entry *MonitoredError) {
	id := entry.ID

	timer := time.AfterFunc(m.cfg.EscalationDelay, func() {
		m.mu.Lock()
		delete(m.escalations, id)
		var stale *MonitoredError
		for _, e := range m.buffer {
			if e.ID == id {
				if e.ResolutionStatus == ResolutionPending || e.ResolutionStatus == ResolutionInvestigating {
					stale = e
				}
				break
			}
		}
		m.mu.Unlock()

		if stale == nil {
			return
		}

		m.fireAlert(context.Background(), "escalation",
			fmt.Sprintf("Unresolved critical error: %s", stale.OperationName),
			fmt.Sprintf("Critical error %s is still %s after %s: %s", stale.ID, stale.ResolutionStatus, m.cfg.EscalationDelay, stale.Message),
			map[string]interface{}{
				"error_id":  stale.ID.String(),
				"operation": stale.OperationName,
			})
	})

	m.mu.Lock()
	m.escalations[id] = timer
	m.mu.Unlock()
}

// UpdateResolution moves an error through the resolution workflow and
// cancels any pending escalation.
func (m *Monitor) UpdateResolution(ctx context.Context, id uuid.UUID, status ResolutionStatus) error {
	if !ValidResolutionStatus(status) {
		return errors.NewValidationError(fmt.Sprintf("invalid resolution status: %s", status))
	}

	var resolvedAt *time.Time
	if status == ResolutionResolved || status == ResolutionIgnored {
		t := m.now().UTC()
		resolvedAt = &t
	}

	m.mu.Lock()
	var found *MonitoredError
	for _, e := range m.buffer {
		if e.ID == id {
			found = e
			break
		}
	}
	if found != nil {
		found.ResolutionStatus = status
		found.ResolvedAt = resolvedAt
	}
	if timer, ok := m.escalations[id]; ok && status != ResolutionPending && status != ResolutionInvestigating {
		timer.Stop()
		delete(m.escalations, id)
	}
	m.mu.Unlock()

	if found == nil && m.repo == nil {
		return errors.NewNotFoundError("monitored error")
	}

	if m.repo != nil {
		if err := m.repo.UpdateResolution(ctx, id.String(), status, resolvedAt); err != nil {
			if found == nil {
				return err
			}
			m.log.Warn("error resolution not persisted",
				"error_id", id.String(),
				"error", err.Error(),
			)
		}
	}

	m.log.Info("error resolution updated",
		"error_id", id.String(),
		"status", string(status),
	)

	return nil
}

func (m *Monitor) errorsSince(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.buffer {
		if !e.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

// Recent returns up to limit errors, newest first.
func (m *Monitor) Recent(limit int) []MonitoredError {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MonitoredError, 0, limit)
	for i := len(m.buffer) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *m.buffer[i])
	}
	return out
}

// Statistics summarizes errors recorded within the window. A zero window
// covers the whole buffer.
func (m *Monitor) Statistics(window time.Duration) Statistics {
	now := m.now().UTC()
	cutoff := time.Time{}
	if window > 0 {
		cutoff = now.Add(-window)
	}
	hourCutoff := now.Add(-time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		BySeverity:  make(map[errors.Severity]int),
		ByCategory:  make(map[errors.Category]int),
		ByOperation: make(map[string]int),
	}
	byMessage := make(map[string]int)

	for _, e := range m.buffer {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.BySeverity[e.Severity]++
		stats.ByCategory[e.Category]++
		stats.ByOperation[e.OperationName]++
		byMessage[e.Message]++

		unresolved := e.ResolutionStatus == ResolutionPending || e.ResolutionStatus == ResolutionInvestigating
		if unresolved {
			stats.Unresolved++
			if e.Severity == errors.SeverityCritical {
				stats.CriticalOpen++
			}
		}
		if !e.Timestamp.Before(hourCutoff) {
			stats.ErrorsLastHour++
		}
	}

	stats.TopErrors = topErrors(byMessage, 10)
	if m.cfg.ErrorRateThreshold > 0 {
		stats.ErrorRate = float64(stats.ErrorsLastHour) / float64(m.cfg.ErrorRateThreshold) * 100
	}

	return stats
}

// topErrors returns the most frequent messages, ties broken alphabetically.
func topErrors(byMessage map[string]int, limit int) []ErrorCount {
	counts := make([]ErrorCount, 0, len(byMessage))
	for msg, count := range byMessage {
		counts = append(counts, ErrorCount{Message: msg, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Message < counts[j].Message
	})
	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

func (m *Monitor) retentionDays(severity errors.Severity) int {
	switch severity {
	case errors.SeverityLow:
		return m.retention.ErrorLowDays
	case errors.SeverityMedium:
		return m.retention.ErrorMediumDays
	case errors.SeverityHigh:
		return m.retention.ErrorHighDays
	case errors.SeverityCritical:
		return m.retention.ErrorCriticalDays
	}
	return m.retention.ErrorMediumDays
}

// CleanupOldErrors drops errors past their severity retention window from
// the buffer and, when a repository is configured, from durable storage.
func (m *Monitor) CleanupOldErrors(ctx context.Context) (int, error) {
	now := m.now().UTC()

	m.mu.Lock()
	kept := m.buffer[:0]
	evicted := 0
	for _, e := range m.buffer {
		cutoff := now.AddDate(0, 0, -m.retentionDays(e.Severity))
		if e.Timestamp.Before(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	m.buffer = kept
	m.mu.Unlock()

	if m.repo != nil {
		batchSize := m.retention.CleanupBatchSize
		if batchSize <= 0 {
			batchSize = 100
		}
		for _, severity := range []errors.Severity{errors.SeverityLow, errors.SeverityMedium, errors.SeverityHigh, errors.SeverityCritical} {
			cutoff := now.AddDate(0, 0, -m.retentionDays(severity))
			for {
				deleted, err := m.repo.DeleteOlderThan(ctx, severity, cutoff, batchSize)
				if err != nil {
					return evicted, err
				}
				if deleted < batchSize {
					break
				}
			}
		}
	}

	if evicted > 0 {
		m.log.Info("expired errors evicted", "count", evicted)
	}

	return evicted, nil
}

// HealthCheck derives the service health from recent errors and breaker
// state.
func (m *Monitor) HealthCheck() HealthReport {
	now := m.now().UTC()
	hourCutoff := now.Add(-time.Hour)

	m.mu.Lock()
	report := HealthReport{Status: HealthHealthy, CheckedAt: now}
	for _, e := range m.buffer {
		if e.Timestamp.Before(hourCutoff) {
			continue
		}
		report.ErrorsLastHour++
		unresolved := e.ResolutionStatus == ResolutionPending || e.ResolutionStatus == ResolutionInvestigating
		switch e.Severity {
		case errors.SeverityCritical:
			if unresolved {
				report.CriticalErrors++
			}
		case errors.SeverityHigh:
			if unresolved {
				report.HighErrors++
			}
		}
	}
	m.mu.Unlock()

	if m.breakers != nil {
		report.OpenBreakers = m.breakers.OpenCount()
	}

	switch {
	case report.CriticalErrors > 0 || report.OpenBreakers > 0:
		report.Status = HealthUnhealthy
	case report.HighErrors > 0 || report.ErrorsLastHour >= m.cfg.ErrorRateThreshold:
		report.Status = HealthDegraded
	}

	return report
}

// Start launches the background eviction loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.EvictionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				if _, err := m.CleanupOldErrors(ctx); err != nil {
					m.log.Warn("background error cleanup failed", "error", err.Error())
				}
			}
		}
	}()
}

// Stop halts the background loop and cancels pending escalations.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	for id, timer := range m.escalations {
		timer.Stop()
		delete(m.escalations, id)
	}
	m.mu.Unlock()
}
