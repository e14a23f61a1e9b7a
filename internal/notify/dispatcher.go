package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/errors"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

// Dispatcher creates in-app notifications and mails the recipients who
// opted in. Email delivery is best effort: a failed or deferred email never
// fails the dispatch, it is only logged and audited.
type Dispatcher struct {
	repo    Repository
	email   EmailSender
	audit   *audit.Logger
	metrics *metrics.Metrics
	log     *logging.Logger

	autoExpireDays int
	cleanupBatch   int

	now func() time.Time
}

// NewDispatcher creates a notification dispatcher. The email sender may be
// nil, in which case everything stays in-app.
func NewDispatcher(repo Repository, email EmailSender, auditLog *audit.Logger, m *metrics.Metrics, log *logging.Logger, retention config.RetentionConfig) *Dispatcher {
	autoExpire := retention.NotificationAutoDays
	if autoExpire <= 0 {
		autoExpire = 7
	}
	batch := retention.CleanupBatchSize
	if batch <= 0 {
		batch = 100
	}

	return &Dispatcher{
		repo:           repo,
		email:          email,
		audit:          auditLog,
		metrics:        m,
		log:            log,
		autoExpireDays: autoExpire,
		cleanupBatch:   batch,
		now:            time.Now,
	}
}

// Dispatch creates one notification per recipient whose role matches the
// event type. Overrides replace the built-in title, message or priority
// for this dispatch only.
func (d *Dispatcher) Dispatch(ctx context.Context, event EventType, overrides *Overrides, data map[string]interface{}) ([]Notification, error) {
	spec, ok := contentTable[event]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown notification event type: %s", event))
	}

	title := spec.Title
	message := renderMessage(spec.MessageTemplate, data)
	priority := spec.Priority
	actionURL := renderMessage(spec.ActionURL, data)
	actionText := spec.ActionText
	if overrides != nil {
		if overrides.Title != "" {
			title = overrides.Title
		}
		if overrides.Message != "" {
			message = overrides.Message
		}
		if overrides.Priority != "" {
			priority = overrides.Priority
		}
		if overrides.ActionURL != "" {
			actionURL = overrides.ActionURL
		}
		if overrides.ActionText != "" {
			actionText = overrides.ActionText
		}
	}

	metadata := make(Metadata, len(data)+3)
	for k, v := range data {
		metadata[k] = v
	}
	if spec.ActionRequired || actionURL != "" {
		metadata["actionRequired"] = true
		metadata["actionUrl"] = actionURL
		metadata["actionText"] = actionText
	}

	now := d.now().UTC()

	var expiresAt *time.Time
	if priority == PriorityLow || priority == PriorityMedium {
		t := now.AddDate(0, 0, d.autoExpireDays)
		expiresAt = &t
	}

	prefs, err := d.repo.PreferencesByRoles(ctx, spec.Roles)
	if err != nil {
		return nil, err
	}

	var created []Notification
	for _, pref := range prefs {
		n := Notification{
			ID:            uuid.New(),
			EventType:     event,
			Title:         title,
			Message:       message,
			Priority:      priority,
			RecipientID:   pref.UserID,
			RecipientRole: pref.Role,
			Status:        StatusUnread,
			CreatedAt:     now,
			ExpiresAt:     expiresAt,
			Metadata:      metadata,
		}

		if err := d.repo.Insert(ctx, &n); err != nil {
			d.metrics.RecordNotification(string(event), "failed")
			d.log.Error("notification not persisted",
				"event", string(event),
				"recipient", pref.UserID,
				"error", err.Error(),
			)
			continue
		}

		created = append(created, n)
		d.metrics.RecordNotification(string(event), "created")
		d.audit.Record(ctx, audit.Entry{
			Type:   audit.ActionNotificationSent,
			Status: audit.StatusSuccess,
			Metadata: audit.Metadata{
				"notification_id": n.ID.String(),
				"event":           string(event),
				"recipient":       pref.UserID,
				"channel":         "inapp",
				"priority":        string(priority),
			},
		})

		d.maybeEmail(ctx, pref, n, now)
	}

	return created, nil
}

// maybeEmail mails the notification unless the recipient opted out or is
// inside quiet hours. Urgent notifications ignore quiet hours. Failures are
// swallowed.
func (d *Dispatcher) maybeEmail(ctx context.Context, pref Preference, n Notification, now time.Time) {
	if d.email == nil || !pref.WantsEmail(n.EventType) {
		return
	}

	if n.Priority != PriorityUrgent && inQuietHours(pref, now) {
		d.metrics.RecordNotificationSuppressed(string(n.EventType))
		d.log.Info("notification email deferred by quiet hours",
			"notification_id", n.ID.String(),
			"recipient", pref.UserID,
			"timezone", pref.Timezone,
		)
		d.audit.Record(ctx, audit.Entry{
			Type:   audit.ActionNotificationDeferred,
			Status: audit.StatusWarning,
			Metadata: audit.Metadata{
				"notification_id": n.ID.String(),
				"recipient":       pref.UserID,
				"reason":          "quiet_hours",
			},
		})
		return
	}

	htmlBody, textBody := emailBodies(n)
	if err := d.email.Send(ctx, pref.Email, n.Title, htmlBody, textBody); err != nil {
		d.metrics.RecordNotification(string(n.EventType), "email_failed")
		d.log.Warn("notification email failed",
			"notification_id", n.ID.String(),
			"recipient", pref.UserID,
			"error", err.Error(),
		)
		d.audit.Record(ctx, audit.Entry{
			Type:   audit.ActionNotificationFailed,
			Status: audit.StatusFailed,
			Error:  err.Error(),
			Metadata: audit.Metadata{
				"notification_id": n.ID.String(),
				"recipient":       pref.UserID,
				"channel":         "email",
			},
		})
		return
	}

	d.metrics.RecordNotification(string(n.EventType), "email_sent")
	d.audit.Record(ctx, audit.Entry{
		Type:   audit.ActionNotificationSent,
		Status: audit.StatusSuccess,
		Metadata: audit.Metadata{
			"notification_id": n.ID.String(),
			"recipient":       pref.UserID,
			"channel":         "email",
		},
	})
}

// inQuietHours reports whether now falls inside the preference's quiet
// window. Windows that cross midnight wrap, e.g. 22:00 to 07:00.
func inQuietHours(pref Preference, now time.Time) bool {
	if pref.QuietStart == "" || pref.QuietEnd == "" || pref.QuietStart == pref.QuietEnd {
		return false
	}

	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	start, err := parseClock(pref.QuietStart)
	if err != nil {
		return false
	}
	end, err := parseClock(pref.QuietEnd)
	if err != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()

	if start < end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// UpdateStatus moves a notification through its lifecycle, enforcing the
// unread, read, dismissed, archived ordering.
func (d *Dispatcher) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) error {
	n, err := d.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if !CanTransition(n.Status, to) {
		return errors.NewValidationError(fmt.Sprintf("cannot move notification from %s to %s", n.Status, to))
	}

	var readAt *time.Time
	if to == StatusRead {
		t := d.now().UTC()
		readAt = &t
	}

	return d.repo.UpdateStatus(ctx, id, to, readAt)
}

// List returns a recipient's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, recipientID string, statuses []Status, limit int) ([]Notification, error) {
	return d.repo.ListByRecipient(ctx, recipientID, statuses, limit)
}

// CleanupExpired removes auto-expired notifications in batches.
func (d *Dispatcher) CleanupExpired(ctx context.Context) (int, error) {
	now := d.now().UTC()

	total := 0
	for {
		deleted, err := d.repo.DeleteExpired(ctx, now, d.cleanupBatch)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < d.cleanupBatch {
			break
		}
	}

	if total > 0 {
		d.log.Info("expired notifications removed", "count", total)
	}
	return total, nil
}

// NotifyUrgent satisfies the resilience layer's alert sink by raising a
// system alert notification. Errors are swallowed so an alerting problem
// never cascades into the caller.
func (d *Dispatcher) NotifyUrgent(ctx context.Context, title, message string, metadata map[string]interface{}) {
	_, err := d.Dispatch(ctx, EventSystemAlert, &Overrides{
		Title:    title,
		Message:  message,
		Priority: PriorityUrgent,
	}, metadata)
	if err != nil {
		d.log.Error("urgent notification dispatch failed",
			"title", title,
			"error", err.Error(),
		)
	}
}
