package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is a file-backed Checkpointer using the pure-Go sqlite driver.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and ensures the
// checkpoint table exists. WAL mode keeps concurrent turn saves from blocking
// loads.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite checkpoint requires a file path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS dialogue_checkpoints (
	user_key   TEXT PRIMARY KEY,
	state      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Load implements Checkpointer.
func (s *SQLite) Load(ctx context.Context, userKey string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM dialogue_checkpoints WHERE user_key = ?", userKey,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return state, nil
}

// Save implements Checkpointer.
func (s *SQLite) Save(ctx context.Context, userKey string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dialogue_checkpoints (user_key, state, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(user_key) DO UPDATE SET
	state = excluded.state,
	updated_at = CURRENT_TIMESTAMP`,
		userKey, state)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Checkpointer.
func (s *SQLite) Delete(ctx context.Context, userKey string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM dialogue_checkpoints WHERE user_key = ?", userKey); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Checkpointer.
func (s *SQLite) Close() error {
	return s.db.Close()
}
