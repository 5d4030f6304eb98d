package schedule

import (
	"database/sql"
	"testing"

	"github.com/teranos/repost/db"
	repotest "github.com/teranos/repost/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return repotest.CreateTestDB(t)
}

// newTestStores returns trigger and execution stores over one in-memory database
func newTestStores(t *testing.T) (*Store, *ExecutionStore) {
	conn := createTestDB(t)
	return NewStore(conn, db.SQLite), NewExecutionStore(conn, db.SQLite)
}
