package notify

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what the notification is about.
type EventType string

const (
	EventDraftCreated      EventType = "draft_created"
	EventReviewNeeded      EventType = "review_needed"
	EventAutomationError   EventType = "automation_error"
	EventValidationWarning EventType = "validation_warning"
	EventSystemAlert       EventType = "system_alert"
)

// Priority orders notifications for the editor dashboard.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status is the lifecycle state of an in-app notification.
type Status string

const (
	StatusUnread    Status = "unread"
	StatusRead      Status = "read"
	StatusDismissed Status = "dismissed"
	StatusArchived  Status = "archived"
)

// allowedTransitions maps each status to the statuses it may move to.
// Archived is terminal.
var allowedTransitions = map[Status][]Status{
	StatusUnread:    {StatusRead, StatusDismissed},
	StatusRead:      {StatusDismissed, StatusArchived},
	StatusDismissed: {StatusArchived},
}

// CanTransition reports whether a notification may move between statuses.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Metadata is free-form detail stored with a notification.
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

// Notification is one in-app message for an editor or admin. The metadata
// carries the action fields (actionRequired, actionUrl, actionText) when the
// event type calls for one.
type Notification struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	EventType     EventType  `json:"event_type" db:"event_type"`
	Title         string     `json:"title" db:"title"`
	Message       string     `json:"message" db:"message"`
	Priority      Priority   `json:"priority" db:"priority"`
	RecipientID   string     `json:"recipient_id" db:"recipient_id"`
	RecipientRole string     `json:"recipient_role" db:"recipient_role"`
	Status        Status     `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty" db:"read_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Metadata      Metadata   `json:"metadata,omitempty" db:"metadata"`
}

// ActionURL returns the action link stored in the metadata, if any.
func (n Notification) ActionURL() string {
	if s, ok := n.Metadata["actionUrl"].(string); ok {
		return s
	}
	return ""
}

// ActionText returns the action label stored in the metadata, if any.
func (n Notification) ActionText() string {
	if s, ok := n.Metadata["actionText"].(string); ok {
		return s
	}
	return ""
}

// Preference holds one user's delivery settings. EmailEvents lists the
// event types the user wants mailed; everything still appears in-app.
type Preference struct {
	UserID      string   `json:"user_id" db:"user_id"`
	Role        string   `json:"role" db:"role"`
	Email       string   `json:"email" db:"email"`
	Timezone    string   `json:"timezone" db:"timezone"`
	QuietStart  string   `json:"quiet_start" db:"quiet_start"`
	QuietEnd    string   `json:"quiet_end" db:"quiet_end"`
	EmailEvents []string `json:"email_events" db:"-"`
}

// WantsEmail reports whether the user opted into email for the event type.
func (p Preference) WantsEmail(event EventType) bool {
	if p.Email == "" {
		return false
	}
	for _, e := range p.EmailEvents {
		if EventType(e) == event {
			return true
		}
	}
	return false
}

// Overrides replaces parts of the built-in content for one dispatch.
type Overrides struct {
	Title      string
	Message    string
	Priority   Priority
	ActionURL  string
	ActionText string
}

// contentSpec is the built-in content for one event type. ActionURL may be
// a template expanded with the dispatch data.
type contentSpec struct {
	Title           string
	MessageTemplate string
	Priority        Priority
	Roles           []string
	ActionRequired  bool
	ActionURL       string
	ActionText      string
}

// contentTable drives titles, default messages, priorities and recipient
// roles per event type.
var contentTable = map[EventType]contentSpec{
	EventDraftCreated: {
		Title:           "New draft ready for review",
		MessageTemplate: "An automated draft {{.title}} has been created and is waiting for review.",
		Priority:        PriorityMedium,
		Roles:           []string{"editor", "admin"},
		ActionRequired:  true,
		ActionURL:       "/admin/drafts/{{.draftId}}",
		ActionText:      "Review draft",
	},
	EventReviewNeeded: {
		Title:           "Draft needs your review",
		MessageTemplate: "Draft {{.title}} requires manual review before it can be published.",
		Priority:        PriorityHigh,
		Roles:           []string{"editor"},
		ActionRequired:  true,
		ActionURL:       "/admin/drafts/{{.draftId}}",
		ActionText:      "Open review",
	},
	EventAutomationError: {
		Title:           "Automation error",
		MessageTemplate: "Operation {{.operation}} failed: {{.error}}",
		Priority:        PriorityHigh,
		Roles:           []string{"admin"},
		ActionRequired:  true,
		ActionURL:       "/admin/automation/errors",
		ActionText:      "View errors",
	},
	EventValidationWarning: {
		Title:           "Validation warning",
		MessageTemplate: "Draft {{.title}} passed with warnings: {{.warnings}}",
		Priority:        PriorityMedium,
		Roles:           []string{"editor", "admin"},
		ActionRequired:  true,
		ActionURL:       "/admin/drafts/{{.draftId}}",
		ActionText:      "Fix warnings",
	},
	EventSystemAlert: {
		Title:           "System alert",
		MessageTemplate: "{{.message}}",
		Priority:        PriorityUrgent,
		Roles:           []string{"admin"},
	},
}
