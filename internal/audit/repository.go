package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aviatorstc/autopilot/internal/database"
	"github.com/aviatorstc/autopilot/pkg/errors"
)

// Repository persists audit entries.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, filter Filter) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

type postgresRepository struct {
	db *database.DB
}

// NewPostgresRepository creates a PostgreSQL-backed audit repository.
func NewPostgresRepository(db *database.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO audit_logs (id, type, automation_id, status, timestamp, error, metadata, user_id, session_id, duration_ms, retry_count)
		VALUES (:id, :type, :automation_id, :status, :timestamp, :error, :metadata, :user_id, :session_id, :duration_ms, :retry_count)`

	_, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return errors.NewInternalError("failed to insert audit entry").WithCause(err)
	}

	return nil
}

func buildFilterClause(filter Filter, args []interface{}) (string, []interface{}) {
	conditions := []string{}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.AutomationID != "" {
		args = append(args, filter.AutomationID)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}

	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *postgresRepository) Query(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	query := `
		SELECT id, type, automation_id, status, timestamp, error, metadata, user_id, session_id, duration_ms, retry_count
		FROM audit_logs`

	var args []interface{}
	clause, args := buildFilterClause(filter, args)
	query += clause

	// Newest first so recent activity is always on the first page.
	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var entries []Entry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, errors.NewInternalError("failed to query audit entries").WithCause(err)
	}

	return entries, nil
}

func (r *postgresRepository) Count(ctx context.Context, filter Filter) (int, error) {
	query := "SELECT COUNT(*) FROM audit_logs"

	var args []interface{}
	clause, args := buildFilterClause(filter, args)
	query += clause

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.NewInternalError("failed to count audit entries").WithCause(err)
	}

	return count, nil
}

func (r *postgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	query := `
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id FROM audit_logs
			WHERE timestamp < $1
			ORDER BY timestamp ASC
			LIMIT $2
		)`

	result, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete old audit entries").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to read deleted row count").WithCause(err)
	}

	return int(deleted), nil
}
