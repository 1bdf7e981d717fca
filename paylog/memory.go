package paylog

import (
	"context"
	"sync"
)

// MemoryStore keeps settlements in memory. It backs tests and single-process
// deployments that have no Redis.
type MemoryStore struct {
	mu          sync.Mutex
	settlements []Settlement
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends the settlement.
func (m *MemoryStore) Record(ctx context.Context, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, s)
	return nil
}

// Recent returns up to limit settlements, newest first.
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.settlements)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Settlement, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.settlements[i])
	}
	return out, nil
}
