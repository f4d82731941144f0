package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the message store connection. Queries are written with `?`
// placeholders and rebound for the active driver.
type DB struct {
	*sqlx.DB
	driver string
}

// Open connects to the message store. driver is "sqlite3" or "postgres".
func Open(driver, dsn string) (*DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// OpenSQLite opens a file-backed SQLite store with WAL mode and recommended pragmas.
func OpenSQLite(path string) (*DB, error) {
	return Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.driver
}
