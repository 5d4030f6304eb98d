// Package budget meters spend on the paid CAPTCHA solving service.
// Uses sliding windows (24h/7d/30d) over the captcha_usage table so limits
// cannot be gamed across midnight or month boundaries.
package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/repost/db"
	"github.com/teranos/repost/errors"
)

// Store reads and writes captcha_usage rows
type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewStore creates a new usage store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect}
}

// RecordUsage stores one paid solve
func (s *Store) RecordUsage(ctx context.Context, strategy string, cost float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO captcha_usage (id, strategy, cost, created_at)
		VALUES (?, ?, ?, ?)
	`), uuid.NewString(), strategy, cost, at.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "failed to record captcha usage")
	}
	return nil
}

// SpendSince sums cost and counts solves recorded at or after since
func (s *Store) SpendSince(ctx context.Context, since time.Time) (total float64, ops int, err error) {
	err = s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT COALESCE(SUM(cost), 0), COUNT(*)
		FROM captcha_usage
		WHERE created_at >= ?
	`), since.UnixMilli()).Scan(&total, &ops)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query spend since %s", since.Format(time.RFC3339))
	}
	return total, ops, nil
}
