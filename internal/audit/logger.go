package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/errors"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// Logger is the audit trail service. Writes are best effort: a persistence
// failure is logged to the application log and never propagated, so audit
// recording can never break the operation being audited.
type Logger struct {
	repo      Repository
	log       *logging.Logger
	metrics   *metrics.Metrics
	retention config.RetentionConfig
}

// NewLogger creates the audit service on top of a repository.
func NewLogger(repo Repository, log *logging.Logger, m *metrics.Metrics, retention config.RetentionConfig) *Logger {
	return &Logger{
		repo:      repo,
		log:       log,
		metrics:   m,
		retention: retention,
	}
}

// Record persists an audit entry, assigning an ID and timestamp when the
// caller left them zero. It never returns an error.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.repo.Insert(ctx, &entry); err != nil {
		l.metrics.RecordAuditWriteFailure()
		l.logToConsole(entry, err)
		return
	}

	l.metrics.RecordAuditWrite(string(entry.Status))
}

// logToConsole is the fallback sink when the repository is unavailable.
// Failed entries surface at error level, warnings at warn, the rest at info.
func (l *Logger) logToConsole(entry Entry, cause error) {
	fields := logrus.Fields{
		"component":     "audit",
		"audit_type":    entry.Type,
		"automation_id": entry.AutomationID,
		"status":        entry.Status,
		"persist_error": cause.Error(),
	}
	if entry.Error != "" {
		fields["audit_error"] = entry.Error
	}

	logEntry := l.log.WithFields(fields)
	switch entry.Status {
	case StatusFailed:
		logEntry.Error("audit entry not persisted")
	case StatusWarning:
		logEntry.Warn("audit entry not persisted")
	default:
		logEntry.Info("audit entry not persisted")
	}
}

// Query returns matching entries, newest first.
func (l *Logger) Query(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	return l.repo.Query(ctx, filter, limit, offset)
}

// Summarize aggregates activity since the given time. A zero since covers
// the whole trail.
func (l *Logger) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	filter := Filter{}
	if !since.IsZero() {
		filter.DateFrom = &since
	}

	entries, err := l.repo.Query(ctx, filter, 0, 0)
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalLogs: len(entries)}

	errorCounts := make(map[string]int)
	type rateAcc struct {
		total     int
		succeeded int
	}
	rates := make(map[string]*rateAcc)

	for _, e := range entries {
		switch e.Status {
		case StatusSuccess:
			summary.SuccessCount++
		case StatusFailed:
			summary.FailureCount++
		case StatusWarning:
			summary.WarningCount++
		case StatusProcessing:
			summary.ProcessingCount++
		}

		if e.Error != "" {
			errorCounts[e.Error]++
		}

		if e.AutomationID != "" {
			acc, ok := rates[e.AutomationID]
			if !ok {
				acc = &rateAcc{}
				rates[e.AutomationID] = acc
			}
			acc.total++
			if e.Status == StatusSuccess {
				acc.succeeded++
			}
		}
	}

	if len(entries) > 10 {
		summary.RecentLogs = entries[:10]
	} else {
		summary.RecentLogs = entries
	}

	summary.TopErrors = topErrors(errorCounts, 5)

	for id, acc := range rates {
		rate := 0.0
		if acc.total > 0 {
			rate = float64(acc.succeeded) / float64(acc.total)
		}
		summary.SuccessRates = append(summary.SuccessRates, AutomationSuccessRate{
			AutomationID: id,
			Total:        acc.total,
			Succeeded:    acc.succeeded,
			SuccessRate:  rate,
		})
	}
	sort.Slice(summary.SuccessRates, func(i, j int) bool {
		if summary.SuccessRates[i].Total != summary.SuccessRates[j].Total {
			return summary.SuccessRates[i].Total > summary.SuccessRates[j].Total
		}
		return summary.SuccessRates[i].AutomationID < summary.SuccessRates[j].AutomationID
	})
	if len(summary.SuccessRates) > 10 {
		summary.SuccessRates = summary.SuccessRates[:10]
	}

	return summary, nil
}

func topErrors(counts map[string]int, n int) []ErrorFrequency {
	freqs := make([]ErrorFrequency, 0, len(counts))
	for msg, count := range counts {
		freqs = append(freqs, ErrorFrequency{Error: msg, Count: count})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].Count != freqs[j].Count {
			return freqs[i].Count > freqs[j].Count
		}
		return freqs[i].Error < freqs[j].Error
	})
	if len(freqs) > n {
		freqs = freqs[:n]
	}
	return freqs
}

var metricWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// PerformanceMetrics computes pipeline throughput and quality figures.
// Headline figures cover the last 24 hours; the windows map adds 7 and
// 30 day views.
func (l *Logger) PerformanceMetrics(ctx context.Context) (*PerformanceMetrics, error) {
	now := time.Now().UTC()
	since := now.Add(-30 * 24 * time.Hour)

	entries, err := l.repo.Query(ctx, Filter{DateFrom: &since}, 0, 0)
	if err != nil {
		return nil, err
	}

	pm := &PerformanceMetrics{Windows: make(map[string]WindowMetrics)}

	for name, window := range metricWindows {
		cutoff := now.Add(-window)
		pm.Windows[name] = computeWindow(entries, cutoff)
	}

	day := now.Add(-24 * time.Hour)
	errorCounts := make(map[string]int)
	var validationSum float64
	var validationN int

	for _, e := range entries {
		if e.Timestamp.Before(day) {
			continue
		}

		switch e.Type {
		case ActionWebhookSent:
			pm.WebhooksSent++
		case ActionDraftCreated:
			pm.DraftsCreated++
		case ActionDraftValidated:
			pm.DraftsValidated++
			if score, ok := e.Metadata["validation_score"].(float64); ok {
				validationSum += score
				validationN++
			}
		case ActionDraftPublished:
			pm.DraftsPublished++
		}

		if e.Error != "" {
			errorCounts[e.Error]++
		}
	}

	dayWindow := pm.Windows["24h"]
	pm.AvgProcessingTimeMS = dayWindow.AvgDurationMS
	pm.SuccessRate = dayWindow.SuccessRate
	pm.ErrorRate = dayWindow.ErrorRate
	pm.CommonErrors = topErrors(errorCounts, 5)
	if validationN > 0 {
		pm.AvgValidationScore = validationSum / float64(validationN)
	}

	return pm, nil
}

func computeWindow(entries []Entry, cutoff time.Time) WindowMetrics {
	var w WindowMetrics
	var durationSum int64
	var durationN int
	succeeded := 0
	failed := 0

	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		w.TotalEvents++
		switch e.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		}
		if e.DurationMS != nil {
			durationSum += *e.DurationMS
			durationN++
		}
	}

	if w.TotalEvents > 0 {
		w.SuccessRate = float64(succeeded) / float64(w.TotalEvents)
		w.ErrorRate = float64(failed) / float64(w.TotalEvents)
	}
	if durationN > 0 {
		w.AvgDurationMS = float64(durationSum) / float64(durationN)
	}

	return w
}

// Cleanup removes entries older than the retention window in batches so a
// large backlog never holds a long transaction. It is safe to run repeatedly.
func (l *Logger) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retention.AuditLogDays)
	batchSize := l.retention.CleanupBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	total := 0
	for {
		deleted, err := l.repo.DeleteOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < batchSize {
			break
		}
	}

	if total > 0 {
		l.log.Info("audit retention cleanup complete", "deleted", total, "cutoff", cutoff)
		l.Record(ctx, Entry{
			Type:   ActionCleanup,
			Status: StatusSuccess,
			Metadata: Metadata{
				"deleted": total,
				"cutoff":  cutoff.Format(time.RFC3339),
			},
		})
	}

	return total, nil
}

// Export serializes matching entries as indented JSON or CSV.
func (l *Logger) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := l.repo.Query(ctx, filter, 0, 0)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON:
		if entries == nil {
			entries = []Entry{}
		}
		return json.MarshalIndent(entries, "", "  ")
	case ExportCSV:
		return exportCSV(entries)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported export format: %s", format))
	}
}

func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"timestamp", "type", "automationId", "status", "error", "metadata"}); err != nil {
		return nil, errors.NewInternalError("failed to write csv header").WithCause(err)
	}

	for _, e := range entries {
		metadata := ""
		if e.Metadata != nil {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return nil, errors.NewInternalError("failed to encode entry metadata").WithCause(err)
			}
			metadata = string(raw)
		}

		record := []string{
			e.Timestamp.Format(time.RFC3339),
			string(e.Type),
			e.AutomationID,
			string(e.Status),
			e.Error,
			metadata,
		}
		if err := w.Write(record); err != nil {
			return nil, errors.NewInternalError("failed to write csv record").WithCause(err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.NewInternalError("failed to flush csv output").WithCause(err)
	}

	return buf.Bytes(), nil
}
