package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType enumerates the automation actions recorded in the audit trail.
type ActionType string

const (
	ActionWebhookSent          ActionType = "webhook_sent"
	ActionWebhookFailed        ActionType = "webhook_failed"
	ActionDraftCreated         ActionType = "draft_created"
	ActionDraftValidated       ActionType = "draft_validated"
	ActionDraftPublished       ActionType = "draft_published"
	ActionRetryAttempt         ActionType = "retry_attempt"
	ActionRetryExhausted       ActionType = "retry_exhausted"
	ActionOperationSucceeded   ActionType = "operation_succeeded"
	ActionCircuitOpened        ActionType = "circuit_opened"
	ActionCircuitHalfOpen      ActionType = "circuit_half_open"
	ActionCircuitRecovered     ActionType = "circuit_recovered"
	ActionCircuitReset         ActionType = "circuit_reset"
	ActionFallbackInvoked      ActionType = "fallback_invoked"
	ActionFallbackSucceeded    ActionType = "fallback_succeeded"
	ActionFallbackFailed       ActionType = "fallback_failed"
	ActionErrorReported        ActionType = "error_reported"
	ActionAlertFired           ActionType = "alert_fired"
	ActionNotificationSent     ActionType = "notification_sent"
	ActionNotificationDeferred ActionType = "notification_deferred"
	ActionNotificationFailed   ActionType = "notification_failed"
	ActionCleanup              ActionType = "cleanup"
)

// Status is the outcome recorded with an audit entry.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusProcessing Status = "processing"
	StatusWarning    Status = "warning"
)

// Metadata is a JSON map persisted alongside an entry.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for Metadata
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Metadata", value)
	}

	return json.Unmarshal(bytes, m)
}

// Entry is a single append-only audit record. Entries are never mutated;
// they are removed only by retention cleanup.
type Entry struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Type         ActionType `json:"type" db:"type"`
	AutomationID string     `json:"automation_id,omitempty" db:"automation_id"`
	Status       Status     `json:"status" db:"status"`
	Timestamp    time.Time  `json:"timestamp" db:"timestamp"`
	Error        string     `json:"error,omitempty" db:"error"`
	Metadata     Metadata   `json:"metadata,omitempty" db:"metadata"`
	UserID       string     `json:"user_id,omitempty" db:"user_id"`
	SessionID    string     `json:"session_id,omitempty" db:"session_id"`
	DurationMS   *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	RetryCount   *int       `json:"retry_count,omitempty" db:"retry_count"`
}

// Filter narrows audit queries.
type Filter struct {
	Types        []ActionType
	Statuses     []Status
	AutomationID string
	DateFrom     *time.Time
	DateTo       *time.Time
}

// ErrorFrequency is an error message with its occurrence count.
type ErrorFrequency struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// AutomationSuccessRate is the per-automation success ratio.
type AutomationSuccessRate struct {
	AutomationID string  `json:"automation_id"`
	Total        int     `json:"total"`
	Succeeded    int     `json:"succeeded"`
	SuccessRate  float64 `json:"success_rate"`
}

// Summary aggregates audit activity over a time range.
type Summary struct {
	TotalLogs       int                     `json:"total_logs"`
	SuccessCount    int                     `json:"success_count"`
	FailureCount    int                     `json:"failure_count"`
	WarningCount    int                     `json:"warning_count"`
	ProcessingCount int                     `json:"processing_count"`
	RecentLogs      []Entry                 `json:"recent_logs"`
	TopErrors       []ErrorFrequency        `json:"top_errors"`
	SuccessRates    []AutomationSuccessRate `json:"success_rates"`
}

// WindowMetrics holds the aggregate figures for one lookback window.
type WindowMetrics struct {
	TotalEvents  int     `json:"total_events"`
	SuccessRate  float64 `json:"success_rate"`
	ErrorRate    float64 `json:"error_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// PerformanceMetrics reports pipeline throughput and quality over a window.
type PerformanceMetrics struct {
	AvgProcessingTimeMS float64                  `json:"avg_processing_time_ms"`
	SuccessRate         float64                  `json:"success_rate"`
	ErrorRate           float64                  `json:"error_rate"`
	WebhooksSent        int                      `json:"webhooks_sent"`
	DraftsCreated       int                      `json:"drafts_created"`
	DraftsValidated     int                      `json:"drafts_validated"`
	DraftsPublished     int                      `json:"drafts_published"`
	AvgValidationScore  float64                  `json:"avg_validation_score"`
	CommonErrors        []ErrorFrequency         `json:"common_errors"`
	Windows             map[string]WindowMetrics `json:"windows"`
}

// ExportFormat selects the audit export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)
