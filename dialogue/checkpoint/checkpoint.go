// Package checkpoint persists serialized dialogue state between turns.
//
// The runtime loads a user's checkpoint at the start of a turn and saves the
// final state at the end; nothing persists mid-turn. Stores treat the state
// as an opaque blob keyed by user key.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates no checkpoint exists for the user key. The runtime
// treats it as a fresh conversation.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpointer is the persistence contract.
//
// Save must be atomic per user key: a concurrent reader sees either the
// previous or the new state, never a partial write. Implementations must be
// safe for concurrent use across user keys.
type Checkpointer interface {
	// Load returns the stored state for userKey, or ErrNotFound.
	Load(ctx context.Context, userKey string) ([]byte, error)

	// Save stores state for userKey, replacing any previous checkpoint.
	Save(ctx context.Context, userKey string, state []byte) error

	// Delete removes the checkpoint for userKey. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, userKey string) error

	// Close releases underlying resources.
	Close() error
}

// New constructs the backend selected by the persistence settings.
// Recognized backends: memory (default), sqlite, mysql, postgres.
func New(ctx context.Context, backend, connection string) (Checkpointer, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(ctx, connection)
	case "mysql":
		return NewMySQL(ctx, connection)
	case "postgres":
		return NewPostgres(ctx, connection)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", backend)
	}
}
