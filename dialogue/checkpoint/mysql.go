package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL is a Checkpointer backed by a MySQL or MariaDB server.
type MySQL struct {
	db *sql.DB
}

// NewMySQL connects with the given DSN and ensures the checkpoint table
// exists. The DSN follows go-sql-driver conventions, e.g.
// "user:pass@tcp(host:3306)/dbname?parseTime=true".
func NewMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql checkpoint requires a DSN")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS dialogue_checkpoints (
	user_key   VARCHAR(255) PRIMARY KEY,
	state      LONGBLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}

	return &MySQL{db: db}, nil
}

// Load implements Checkpointer.
func (m *MySQL) Load(ctx context.Context, userKey string) ([]byte, error) {
	var state []byte
	err := m.db.QueryRowContext(ctx,
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
func (m *MySQL) Save(ctx context.Context, userKey string, state []byte) error {
	_, err := m.db.ExecContext(ctx, `
INSERT INTO dialogue_checkpoints (user_key, state)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE state = VALUES(state)`,
		userKey, state)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Checkpointer.
func (m *MySQL) Delete(ctx context.Context, userKey string) error {
	if _, err := m.db.ExecContext(ctx,
		"DELETE FROM dialogue_checkpoints WHERE user_key = ?", userKey); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Checkpointer.
func (m *MySQL) Close() error {
	return m.db.Close()
}
