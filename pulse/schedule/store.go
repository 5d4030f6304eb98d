package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/repost/db"
	"github.com/teranos/repost/errors"
)

// TriggerStore persists scheduled jobs. The scheduler serializes all
// mutations, so implementations need not guard against concurrent upserts
// of the same ID.
type TriggerStore interface {
	UpsertJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	ListJobsDue(ctx context.Context, now time.Time) ([]*Job, error)
	AdvanceJob(ctx context.Context, id string, next time.Time, lastRunAt *time.Time, executionID string) error
	SetState(ctx context.Context, id, state string, anchor, next time.Time) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
}

// Store handles persistence of scheduled jobs in SQLite or Postgres
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewStore creates a new schedule store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect, now: time.Now}
}

const jobColumns = `id, interval_ms, credential, listing, state,
	anchor_at, next_run_at, last_run_at, last_success_at,
	last_execution_id, created_at, updated_at`

// UpsertJob inserts the job or replaces the trigger of an existing ID.
// Run history columns and created_at survive a replace.
func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	cred, err := json.Marshal(job.Credential)
	if err != nil {
		return errors.Wrap(err, "encode credential")
	}
	listing, err := json.Marshal(job.Listing)
	if err != nil {
		return errors.Wrap(err, "encode listing")
	}

	query := `
		INSERT INTO scheduled_posts (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			interval_ms = excluded.interval_ms,
			credential = excluded.credential,
			listing = excluded.listing,
			state = excluded.state,
			anchor_at = excluded.anchor_at,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
		job.ID,
		job.Interval.Milliseconds(),
		string(cred),
		string(listing),
		job.State,
		job.AnchorAt.UnixMilli(),
		job.NextRunAt.UnixMilli(),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert scheduled job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a scheduled job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_posts WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("scheduled job not found: %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get scheduled job %s", id)
	}
	return job, nil
}

// DeleteJob removes the trigger. It reports whether a row existed.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM scheduled_posts WHERE id = ?`), id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete scheduled job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}

// ListJobs returns every trigger ordered by next_run_at
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_posts ORDER BY next_run_at ASC, id ASC`
	return s.queryJobs(ctx, query)
}

// ListJobsDue returns active triggers whose next_run_at has passed.
// Results are ordered by next_run_at ASC (oldest due jobs first) for deterministic dispatch.
// Limited to 100 jobs per batch.
func (s *Store) ListJobsDue(ctx context.Context, now time.Time) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM scheduled_posts
		WHERE state = ? AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC
		LIMIT 100`
	return s.queryJobs(ctx, query, StateActive, now.UnixMilli())
}

// AdvanceJob moves the trigger to its next slot. lastRunAt and executionID
// are only written when a run was launched.
func (s *Store) AdvanceJob(ctx context.Context, id string, next time.Time, lastRunAt *time.Time, executionID string) error {
	var query string
	var args []interface{}
	if lastRunAt != nil {
		query = `UPDATE scheduled_posts
			SET next_run_at = ?, last_run_at = ?, last_execution_id = ?, updated_at = ?
			WHERE id = ?`
		args = []interface{}{next.UnixMilli(), lastRunAt.UnixMilli(), executionID, s.now().UnixMilli(), id}
	} else {
		query = `UPDATE scheduled_posts SET next_run_at = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{next.UnixMilli(), s.now().UnixMilli(), id}
	}
	return s.updateOne(ctx, id, query, args...)
}

// SetState activates or deactivates a trigger and sets its anchor
func (s *Store) SetState(ctx context.Context, id, state string, anchor, next time.Time) error {
	query := `UPDATE scheduled_posts
		SET state = ?, anchor_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`
	return s.updateOne(ctx, id, query, state, anchor.UnixMilli(), next.UnixMilli(), s.now().UnixMilli(), id)
}

// RecordSuccess stamps the last successful publication time
func (s *Store) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE scheduled_posts SET last_success_at = ?, updated_at = ? WHERE id = ?`
	return s.updateOne(ctx, id, query, at.UnixMilli(), s.now().UnixMilli(), id)
}

func (s *Store) updateOne(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update scheduled job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.NewNotFoundError("scheduled job not found: %s", id)
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			return nil, errors.Wrap(db.ErrDatabaseClosed, "list scheduled jobs")
		}
		return nil, errors.Wrap(err, "failed to list scheduled jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scheduled jobs")
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var intervalMS, anchorAt, nextRunAt, createdAt, updatedAt int64
	var cred, listing string
	var lastRunAt, lastSuccessAt sql.NullInt64
	var lastExecutionID sql.NullString

	err := row.Scan(
		&job.ID,
		&intervalMS,
		&cred,
		&listing,
		&job.State,
		&anchorAt,
		&nextRunAt,
		&lastRunAt,
		&lastSuccessAt,
		&lastExecutionID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cred), &job.Credential); err != nil {
		return nil, errors.Wrapf(err, "failed to decode credential for job %s", job.ID)
	}
	if err := json.Unmarshal([]byte(listing), &job.Listing); err != nil {
		return nil, errors.Wrapf(err, "failed to decode listing for job %s", job.ID)
	}

	job.Interval = time.Duration(intervalMS) * time.Millisecond
	job.AnchorAt = fromMillis(anchorAt)
	job.NextRunAt = fromMillis(nextRunAt)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	if lastRunAt.Valid {
		t := fromMillis(lastRunAt.Int64)
		job.LastRunAt = &t
	}
	if lastSuccessAt.Valid {
		t := fromMillis(lastSuccessAt.Int64)
		job.LastSuccessAt = &t
	}
	if lastExecutionID.Valid {
		job.LastExecutionID = lastExecutionID.String
	}
	return &job, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// compile-time check
var _ TriggerStore = (*Store)(nil)
