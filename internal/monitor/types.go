package monitor

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/pkg/errors"
)

// ResolutionStatus tracks the operator workflow for a monitored error.
type ResolutionStatus string

const (
	ResolutionPending       ResolutionStatus = "pending"
	ResolutionInvestigating ResolutionStatus = "investigating"
	ResolutionResolved      ResolutionStatus = "resolved"
	ResolutionIgnored       ResolutionStatus = "ignored"
)

// ValidResolutionStatus reports whether the value is a known status.
func ValidResolutionStatus(s ResolutionStatus) bool {
	switch s {
	case ResolutionPending, ResolutionInvestigating, ResolutionResolved, ResolutionIgnored:
		return true
	}
	return false
}

// ImpactLevel grades the business consequence of an error.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// Impact is the assessed business consequence of one error.
type Impact struct {
	BusinessImpact    ImpactLevel `json:"business_impact"`
	ServiceDisruption bool        `json:"service_disruption"`
	DataLoss          bool        `json:"data_loss"`
}

// RecurrencePattern labels how often an identical error repeats.
type RecurrencePattern string

const (
	PatternNone            RecurrencePattern = "none"
	PatternRapidSuccession RecurrencePattern = "rapid_succession"
	PatternFrequent        RecurrencePattern = "frequent"
	PatternPeriodic        RecurrencePattern = "periodic"
	PatternSporadic        RecurrencePattern = "sporadic"
)

// Recurrence describes repeats of an identical error within the lookback
// window.
type Recurrence struct {
	IsRecurring bool              `json:"is_recurring"`
	Count       int               `json:"count"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	Pattern     RecurrencePattern `json:"pattern"`
}

// Context is the free-form detail captured with an error.
type Context map[string]interface{}

// Value implements the driver.Valuer interface for Context
func (c Context) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for Context
func (c *Context) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Context", value)
	}

	return json.Unmarshal(bytes, c)
}

// MonitoredError is one classified, impact-assessed error occurrence.
type MonitoredError struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Severity         errors.Severity  `json:"severity" db:"severity"`
	Category         errors.Category  `json:"category" db:"category"`
	Message          string           `json:"message" db:"message"`
	OperationName    string           `json:"operation_name" db:"operation_name"`
	Timestamp        time.Time        `json:"timestamp" db:"timestamp"`
	Context          Context          `json:"context,omitempty" db:"context"`
	Impact           Impact           `json:"impact" db:"-"`
	Recurrence       Recurrence       `json:"recurrence" db:"-"`
	ResolutionStatus ResolutionStatus `json:"resolution_status" db:"resolution_status"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ErrorCount is an error message with its occurrence count.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Statistics summarizes monitored errors over a window. ErrorRate is the
// last hour's error count as a percentage of the hourly alert threshold.
type Statistics struct {
	Total          int                     `json:"total"`
	BySeverity     map[errors.Severity]int `json:"by_severity"`
	ByCategory     map[errors.Category]int `json:"by_category"`
	ByOperation    map[string]int          `json:"by_operation"`
	TopErrors      []ErrorCount            `json:"top_errors"`
	ErrorRate      float64                 `json:"error_rate"`
	Unresolved     int                     `json:"unresolved"`
	CriticalOpen   int                     `json:"critical_open"`
	ErrorsLastHour int                     `json:"errors_last_hour"`
}

// HealthStatus is the overall health verdict.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of a health check.
type HealthReport struct {
	Status         HealthStatus `json:"status"`
	CriticalErrors int          `json:"critical_errors"`
	HighErrors     int          `json:"high_errors"`
	ErrorsLastHour int          `json:"errors_last_hour"`
	OpenBreakers   int          `json:"open_breakers"`
	CheckedAt      time.Time    `json:"checked_at"`
}
