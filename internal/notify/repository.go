package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aviatorstc/autopilot/internal/database"
	"github.com/aviatorstc/autopilot/pkg/errors"
)

// Repository persists notifications and delivery preferences.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, readAt *time.Time) error
	ListByRecipient(ctx context.Context, recipientID string, statuses []Status, limit int) ([]Notification, error)
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int, error)

	PreferencesByRoles(ctx context.Context, roles []string) ([]Preference, error)
	UpsertPreference(ctx context.Context, p *Preference) error
}

type postgresRepository struct {
	db *database.DB
}

// NewPostgresRepository creates a PostgreSQL-backed notification repository.
func NewPostgresRepository(db *database.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO editor_notifications (id, event_type, title, message, priority, recipient_id, recipient_role, status, created_at, read_at, expires_at, metadata)
		VALUES (:id, :event_type, :title, :message, :priority, :recipient_id, :recipient_role, :status, :created_at, :read_at, :expires_at, :metadata)`

	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return errors.NewInternalError("failed to insert notification").WithCause(err)
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT id, event_type, title, message, priority, recipient_id, recipient_role, status, created_at, read_at, expires_at, metadata
		FROM editor_notifications
		WHERE id = $1`

	var n Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, errors.NewNotFoundError("notification").WithCause(err)
	}
	return &n, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, readAt *time.Time) error {
	query := `
		UPDATE editor_notifications
		SET status = $1, read_at = COALESCE($2, read_at)
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, readAt, id)
	if err != nil {
		return errors.NewInternalError("failed to update notification status").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to read updated row count").WithCause(err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("notification")
	}
	return nil
}

func (r *postgresRepository) ListByRecipient(ctx context.Context, recipientID string, statuses []Status, limit int) ([]Notification, error) {
	query := `
		SELECT id, event_type, title, message, priority, recipient_id, recipient_role, status, created_at, read_at, expires_at, metadata
		FROM editor_notifications
		WHERE recipient_id = ?`
	args := []interface{}{recipientID}

	if len(statuses) > 0 {
		query += " AND status IN (?)"
		args = append(args, statuses)
	}

	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to build notification query").WithCause(err)
	}
	query = r.db.Rebind(query)

	var notifications []Notification
	if err := r.db.SelectContext(ctx, &notifications, query, expanded...); err != nil {
		return nil, errors.NewInternalError("failed to list notifications").WithCause(err)
	}
	return notifications, nil
}

func (r *postgresRepository) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	query := `
		DELETE FROM editor_notifications
		WHERE id IN (
			SELECT id FROM editor_notifications
			WHERE expires_at IS NOT NULL AND expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)`

	result, err := r.db.ExecContext(ctx, query, now, batchSize)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete expired notifications").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to read deleted row count").WithCause(err)
	}
	return int(deleted), nil
}

type preferenceRow struct {
	UserID      string          `db:"user_id"`
	Role        string          `db:"role"`
	Email       string          `db:"email"`
	Timezone    string          `db:"timezone"`
	QuietStart  string          `db:"quiet_start"`
	QuietEnd    string          `db:"quiet_end"`
	EmailEvents json.RawMessage `db:"email_events"`
}

func (r *postgresRepository) PreferencesByRoles(ctx context.Context, roles []string) ([]Preference, error) {
	query, args, err := sqlx.In(`
		SELECT user_id, role, email, timezone, quiet_start, quiet_end, email_events
		FROM notification_preferences
		WHERE role IN (?)`, roles)
	if err != nil {
		return nil, errors.NewInternalError("failed to build preference query").WithCause(err)
	}
	query = r.db.Rebind(query)

	var rows []preferenceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.NewInternalError("failed to load notification preferences").WithCause(err)
	}

	prefs := make([]Preference, 0, len(rows))
	for _, row := range rows {
		p := Preference{
			UserID:     row.UserID,
			Role:       row.Role,
			Email:      row.Email,
			Timezone:   row.Timezone,
			QuietStart: row.QuietStart,
			QuietEnd:   row.QuietEnd,
		}
		if len(row.EmailEvents) > 0 {
			if err := json.Unmarshal(row.EmailEvents, &p.EmailEvents); err != nil {
				return nil, errors.NewInternalError("failed to decode email events").WithCause(err)
			}
		}
		prefs = append(prefs, p)
	}
	return prefs, nil
}

func (r *postgresRepository) UpsertPreference(ctx context.Context, p *Preference) error {
	events, err := json.Marshal(p.EmailEvents)
	if err != nil {
		return errors.NewInternalError("failed to encode email events").WithCause(err)
	}

	query := `
		INSERT INTO notification_preferences (user_id, role, email, timezone, quiet_start, quiet_end, email_events, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    email = EXCLUDED.email,
		    timezone = EXCLUDED.timezone,
		    quiet_start = EXCLUDED.quiet_start,
		    quiet_end = EXCLUDED.quiet_end,
		    email_events = EXCLUDED.email_events,
		    updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, p.UserID, p.Role, p.Email, p.Timezone, p.QuietStart, p.QuietEnd, events); err != nil {
		return errors.NewInternalError("failed to upsert notification preference").WithCause(err)
	}
	return nil
}
