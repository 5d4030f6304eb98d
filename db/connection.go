package db

import (
	"database/sql"
	"net/url"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/sym"
)

// Open opens the trigger store for the given driver.
// source is a file path for sqlite3 and a connection string for postgres.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(driver, source string, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case SQLite:
		db, err = openSQLite(source)
	case Postgres:
		db, err = openPostgres(source)
	}
	if err != nil {
		return nil, "", err
	}

	if logger != nil {
		logger.Infow("Database opened",
			"symbol", sym.DB,
			"driver", string(dialect),
		)
	}
	return db, dialect, nil
}

// OpenWithMigrations opens the database and applies pending migrations
func OpenWithMigrations(driver, source string, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	db, dialect, err := Open(driver, source, logger)
	if err != nil {
		return nil, "", err
	}
	if err := Migrate(db, dialect, logger); err != nil {
		db.Close()
		return nil, "", errors.Wrap(err, "migrate database")
	}
	return db, dialect, nil
}

// openSQLite opens a SQLite file with WAL, foreign keys and a busy timeout.
// Pragmas are passed in the DSN so every pooled connection gets them.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.NewInvalidRequestError("sqlite path is empty")
	}
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.NewInvalidRequestError("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to reach postgres"), errors.ErrServiceUnavailable)
	}
	return db, nil
}
