package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SetCheckpoint records a sync checkpoint value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns a sync checkpoint value, or "" when none was recorded.
func (db *DB) Checkpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Checkpoints returns every checkpoint whose key starts with prefix, keyed by
// the remainder of the key.
func (db *DB) Checkpoints(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM sync_state WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(key, prefix)] = value
	}
	return out, rows.Err()
}
