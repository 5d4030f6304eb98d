package schedule

import (
	"context"
	"database/sql"

	"github.com/teranos/repost/db"
	"github.com/teranos/repost/errors"
)

// ExecutionRecorder persists run history
type ExecutionRecorder interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error)
}

// ExecutionStore handles persistence of job execution history
type ExecutionStore struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(conn *sql.DB, dialect db.Dialect) *ExecutionStore {
	return &ExecutionStore{db: conn, dialect: dialect}
}

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO post_executions (
			id, schedule_id, status, stage, artifact, error_message,
			scheduled_for, started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		exec.ID,
		exec.ScheduleID,
		exec.Status,
		nullString(exec.Stage),
		nullString(exec.Artifact),
		nullString(exec.ErrorMessage),
		exec.ScheduledFor.UnixMilli(),
		exec.StartedAt.UnixMilli(),
		completedMillis(exec),
		durationValue(exec),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// UpdateExecution updates an existing execution record
func (s *ExecutionStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	query := `
		UPDATE post_executions
		SET status = ?,
		    stage = ?,
		    artifact = ?,
		    error_message = ?,
		    completed_at = ?,
		    duration_ms = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		exec.Status,
		nullString(exec.Stage),
		nullString(exec.Artifact),
		nullString(exec.ErrorMessage),
		completedMillis(exec),
		durationValue(exec),
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("execution not found: %s", exec.ID)
	}
	return nil
}

// GetExecution retrieves a single execution by ID
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, schedule_id, status, stage, artifact, error_message,
		       scheduled_for, started_at, completed_at, duration_ms
		FROM post_executions
		WHERE id = ?
	`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("execution not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutions returns the most recent executions of a schedule, newest first.
// limit <= 0 means 50.
func (s *ExecutionStore) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, schedule_id, status, stage, artifact, error_message,
		       scheduled_for, started_at, completed_at, duration_ms
		FROM post_executions
		WHERE schedule_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), scheduleID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var stage, artifact, errorMessage sql.NullString
	var scheduledFor, startedAt int64
	var completedAt, durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.ScheduleID,
		&exec.Status,
		&stage,
		&artifact,
		&errorMessage,
		&scheduledFor,
		&startedAt,
		&completedAt,
		&durationMs,
	)
	if err != nil {
		return nil, err
	}

	exec.Stage = stage.String
	exec.Artifact = artifact.String
	exec.ErrorMessage = errorMessage.String
	exec.ScheduledFor = fromMillis(scheduledFor)
	exec.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		exec.DurationMs = &d
	}
	return &exec, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func completedMillis(exec *Execution) interface{} {
	if exec.CompletedAt == nil {
		return nil
	}
	return exec.CompletedAt.UnixMilli()
}

func durationValue(exec *Execution) interface{} {
	if exec.DurationMs == nil {
		return nil
	}
	return *exec.DurationMs
}

var _ ExecutionRecorder = (*ExecutionStore)(nil)
