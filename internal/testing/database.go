package testing

import (
	"database/sql"
	"testing"

	"github.com/teranos/repost/db"
)

// CreateTestDB creates a migrated in-memory SQLite database.
// The pool is pinned to one connection because every new connection to
// :memory: would otherwise see an empty database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, _, err := db.Open("sqlite3", ":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if err := db.Migrate(conn, db.SQLite, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
