package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/errors"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

func testRetention() config.RetentionConfig {
	return config.RetentionConfig{
		AuditLogDays:     90,
		CleanupBatchSize: 100,
	}
}

func newTestLogger(t *testing.T, repo Repository) (*Logger, *bytes.Buffer) {
	t.Helper()

	log, err := logging.NewLogger(&logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	return NewLogger(repo, log, &metrics.Metrics{}, testRetention()), &buf
}

type failingRepository struct {
	*MemoryRepository
}

func (r *failingRepository) Insert(ctx context.Context, entry *Entry) error {
	return errors.NewInternalError("database unavailable")
}

func TestRecordAssignsDefaults(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)

	logger.Record(context.Background(), Entry{
		Type:         ActionDraftCreated,
		AutomationID: "auto-1",
		Status:       StatusSuccess,
	})

	entries, err := repo.Query(context.Background(), Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", entries[0].ID.String())
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecordFallsBackToConsole(t *testing.T) {
	repo := &failingRepository{MemoryRepository: NewMemoryRepository()}
	logger, buf := newTestLogger(t, repo)

	logger.Record(context.Background(), Entry{
		Type:   ActionWebhookSent,
		Status: StatusFailed,
		Error:  "upstream returned 502",
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "audit entry not persisted", line["message"])
	assert.Equal(t, "upstream returned 502", line["audit_error"])
}

func TestRecordConsoleLevelByStatus(t *testing.T) {
	tests := []struct {
		status Status
		level  string
	}{
		{StatusFailed, "error"},
		{StatusWarning, "warning"},
		{StatusSuccess, "info"},
		{StatusProcessing, "info"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			repo := &failingRepository{MemoryRepository: NewMemoryRepository()}
			logger, buf := newTestLogger(t, repo)

			logger.Record(context.Background(), Entry{Type: ActionDraftCreated, Status: tt.status})

			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.level, line["level"])
		})
	}
}

func TestQueryNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		logger.Record(ctx, Entry{
			Type:      ActionDraftCreated,
			Status:    StatusSuccess,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	entries, err := logger.Query(ctx, Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	assert.True(t, entries[1].Timestamp.After(entries[2].Timestamp))
}

func TestQueryFilters(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	logger.Record(ctx, Entry{Type: ActionDraftCreated, AutomationID: "blog", Status: StatusSuccess})
	logger.Record(ctx, Entry{Type: ActionDraftPublished, AutomationID: "blog", Status: StatusSuccess})
	logger.Record(ctx, Entry{Type: ActionDraftCreated, AutomationID: "newsletter", Status: StatusFailed})

	entries, err := logger.Query(ctx, Filter{Types: []ActionType{ActionDraftCreated}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = logger.Query(ctx, Filter{AutomationID: "blog"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = logger.Query(ctx, Filter{Statuses: []Status{StatusFailed}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "newsletter", entries[0].AutomationID)
}

func TestSummarize(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		logger.Record(ctx, Entry{Type: ActionDraftCreated, AutomationID: "blog", Status: StatusSuccess})
	}
	logger.Record(ctx, Entry{Type: ActionWebhookSent, AutomationID: "blog", Status: StatusFailed, Error: "timeout"})
	logger.Record(ctx, Entry{Type: ActionWebhookSent, AutomationID: "newsletter", Status: StatusFailed, Error: "timeout"})
	logger.Record(ctx, Entry{Type: ActionDraftValidated, AutomationID: "newsletter", Status: StatusWarning, Error: "low score"})

	summary, err := logger.Summarize(ctx, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 15, summary.TotalLogs)
	assert.Equal(t, 12, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailureCount)
	assert.Equal(t, 1, summary.WarningCount)
	assert.Len(t, summary.RecentLogs, 10)

	require.NotEmpty(t, summary.TopErrors)
	assert.Equal(t, "timeout", summary.TopErrors[0].Error)
	assert.Equal(t, 2, summary.TopErrors[0].Count)

	require.Len(t, summary.SuccessRates, 2)
	assert.Equal(t, "blog", summary.SuccessRates[0].AutomationID)
	assert.InDelta(t, 12.0/13.0, summary.SuccessRates[0].SuccessRate, 0.001)
}

func TestPerformanceMetricsWindows(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	now := time.Now().UTC()
	dur := int64(1500)

	logger.Record(ctx, Entry{Type: ActionDraftCreated, Status: StatusSuccess, Timestamp: now.Add(-time.Hour), DurationMS: &dur})
	logger.Record(ctx, Entry{
		Type:      ActionDraftValidated,
		Status:    StatusSuccess,
		Timestamp: now.Add(-2 * time.Hour),
		Metadata:  Metadata{"validation_score": 80.0},
	})
	// Outside the 24h window but inside 7d.
	logger.Record(ctx, Entry{Type: ActionDraftPublished, Status: StatusFailed, Timestamp: now.Add(-3 * 24 * time.Hour), Error: "publish failed"})

	pm, err := logger.PerformanceMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, pm.DraftsCreated)
	assert.Equal(t, 1, pm.DraftsValidated)
	assert.Equal(t, 0, pm.DraftsPublished)
	assert.InDelta(t, 80.0, pm.AvgValidationScore, 0.001)
	assert.InDelta(t, 1500.0, pm.AvgProcessingTimeMS, 0.001)

	assert.Equal(t, 2, pm.Windows["24h"].TotalEvents)
	assert.Equal(t, 3, pm.Windows["7d"].TotalEvents)
	assert.Equal(t, 3, pm.Windows["30d"].TotalEvents)
	assert.InDelta(t, 1.0/3.0, pm.Windows["7d"].ErrorRate, 0.001)
}

func TestCleanupRemovesExpiredInBatches(t *testing.T) {
	repo := NewMemoryRepository()

	log, err := logging.NewLogger(&logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	log.SetOutput(&bytes.Buffer{})

	retention := config.RetentionConfig{AuditLogDays: 30, CleanupBatchSize: 2}
	logger := NewLogger(repo, log, &metrics.Metrics{}, retention)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	for i := 0; i < 5; i++ {
		logger.Record(ctx, Entry{Type: ActionDraftCreated, Status: StatusSuccess, Timestamp: old})
	}
	logger.Record(ctx, Entry{Type: ActionDraftCreated, Status: StatusSuccess})

	deleted, err := logger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	// Recent entry plus the cleanup audit record remain.
	assert.Equal(t, 2, repo.Len())

	deleted, err = logger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestExportJSON(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	logger.Record(ctx, Entry{Type: ActionDraftCreated, AutomationID: "blog", Status: StatusSuccess})

	data, err := logger.Export(ctx, Filter{}, ExportJSON)
	require.NoError(t, err)

	var entries []Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, ActionDraftCreated, entries[0].Type)

	// Indented output, not a compact single line.
	assert.Contains(t, string(data), "\n  ")
}

func TestExportJSONEmpty(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)

	data, err := logger.Export(context.Background(), Filter{}, ExportJSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestExportCSV(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)
	ctx := context.Background()

	logger.Record(ctx, Entry{
		Type:         ActionWebhookFailed,
		AutomationID: "blog",
		Status:       StatusFailed,
		Error:        `upstream said "no", try later`,
	})

	data, err := logger.Export(ctx, Filter{}, ExportCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,type,automationId,status,error,metadata", lines[0])

	// Embedded quotes are doubled and the field wrapped in quotes.
	assert.Contains(t, lines[1], `"upstream said ""no"", try later"`)
}

func TestExportUnsupportedFormat(t *testing.T) {
	repo := NewMemoryRepository()
	logger, _ := newTestLogger(t, repo)

	_, err := logger.Export(context.Background(), Filter{}, ExportFormat("xml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
