package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database holding the contact graph and sync checkpoints.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// Single writer: overlapping Apply calls queue on the pool.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// Statements returns the total number of stored statements.
func (db *DB) Statements() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM statements`).Scan(&count)
	return count, err
}
