package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aviatorstc/autopilot/internal/database"
	"github.com/aviatorstc/autopilot/pkg/errors"
)

// Repository persists monitored errors so history survives restarts. The
// in-memory buffer stays authoritative for statistics and health checks.
type Repository interface {
	Insert(ctx context.Context, e *MonitoredError) error
	UpdateResolution(ctx context.Context, id string, status ResolutionStatus, resolvedAt *time.Time) error
	DeleteOlderThan(ctx context.Context, severity errors.Severity, cutoff time.Time, batchSize int) (int, error)
}

type postgresRepository struct {
	db *database.DB
}

// NewPostgresRepository creates a PostgreSQL-backed error repository.
func NewPostgresRepository(db *database.DB) Repository {
	return &postgresRepository{db: db}
}

type errorRow struct {
	ID               string           `db:"id"`
	Severity         string           `db:"severity"`
	Category         string           `db:"category"`
	Message          string           `db:"message"`
	OperationName    string           `db:"operation_name"`
	Timestamp        time.Time        `db:"timestamp"`
	Context          Context          `db:"context"`
	Impact           json.RawMessage  `db:"impact"`
	Recurrence       json.RawMessage  `db:"recurrence"`
	ResolutionStatus ResolutionStatus `db:"resolution_status"`
	ResolvedAt       *time.Time       `db:"resolved_at"`
}

func (r *postgresRepository) Insert(ctx context.Context, e *MonitoredError) error {
	impact, err := json.Marshal(e.Impact)
	if err != nil {
		return errors.NewInternalError("failed to encode error impact").WithCause(err)
	}
	recurrence, err := json.Marshal(e.Recurrence)
	if err != nil {
		return errors.NewInternalError("failed to encode error recurrence").WithCause(err)
	}

	row := errorRow{
		ID:               e.ID.String(),
		Severity:         string(e.Severity),
		Category:         string(e.Category),
		Message:          e.Message,
		OperationName:    e.OperationName,
		Timestamp:        e.Timestamp,
		Context:          e.Context,
		Impact:           impact,
		Recurrence:       recurrence,
		ResolutionStatus: e.ResolutionStatus,
		ResolvedAt:       e.ResolvedAt,
	}

	query := `
		INSERT INTO automation_errors (id, severity, category, message, operation_name, timestamp, context, impact, recurrence, resolution_status, resolved_at)
		VALUES (:id, :severity, :category, :message, :operation_name, :timestamp, :context, :impact, :recurrence, :resolution_status, :resolved_at)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.NewInternalError("failed to insert automation error").WithCause(err)
	}

	return nil
}

func (r *postgresRepository) UpdateResolution(ctx context.Context, id string, status ResolutionStatus, resolvedAt *time.Time) error {
	query := `
		UPDATE automation_errors
		SET resolution_status = $1, resolved_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, resolvedAt, id)
	if err != nil {
		return errors.NewInternalError("failed to update error resolution").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to read updated row count").WithCause(err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("automation error")
	}

	return nil
}

func (r *postgresRepository) DeleteOlderThan(ctx context.Context, severity errors.Severity, cutoff time.Time, batchSize int) (int, error) {
	query := `
		DELETE FROM automation_errors
		WHERE id IN (
			SELECT id FROM automation_errors
			WHERE severity = $1 AND timestamp < $2
			ORDER BY timestamp ASC
			LIMIT $3
		)`

	result, err := r.db.ExecContext(ctx, query, string(severity), cutoff, batchSize)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete old automation errors").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to read deleted row count").WithCause(err)
	}

	return int(deleted), nil
}
