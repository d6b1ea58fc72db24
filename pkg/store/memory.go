package store

import (
	"context"
	"sort"
	"sync"

	"distmaster/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo
// and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	clusters  map[string]model.Cluster
	ledger    model.DailyLedger
	hasLedger bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters: make(map[string]model.Cluster),
	}
}

func (m *MemoryStore) GetCluster(_ context.Context, id string) (model.Cluster, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	return c, ok, nil
}

func (m *MemoryStore) PutCluster(_ context.Context, c model.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[c.ID] = c
	return nil
}

func (m *MemoryStore) DeleteCluster(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, id)
	return nil
}

func (m *MemoryStore) ListClusterIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clusters))
	for id := range m.clusters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) GetLedger(_ context.Context) (model.DailyLedger, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger, m.hasLedger, nil
}

func (m *MemoryStore) PutLedger(_ context.Context, l model.DailyLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = l
	m.hasLedger = true
	return nil
}

// Ping reports readiness for the health endpoint.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }
