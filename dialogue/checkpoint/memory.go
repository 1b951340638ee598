package checkpoint

import (
	"context"
	"sync"
)

// Memory is an in-process Checkpointer for tests and single-node deployments
// that accept losing conversations on restart.
type Memory struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string][]byte)}
}

// Load implements Checkpointer.
func (m *Memory) Load(ctx context.Context, userKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[userKey]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, nil
}

// Save implements Checkpointer.
func (m *Memory) Save(ctx context.Context, userKey string, state []byte) error {
	stored := make([]byte, len(state))
	copy(stored, state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userKey] = stored
	return nil
}

// Delete implements Checkpointer.
func (m *Memory) Delete(ctx context.Context, userKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userKey)
	return nil
}

// Close implements Checkpointer.
func (m *Memory) Close() error {
	return nil
}

// Len reports the number of stored checkpoints.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
