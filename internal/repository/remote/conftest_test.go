package remote

import (
	"context"
	"strings"
	"sync"

	"github.com/kailas-cloud/hyrag/internal/db"
)

// mockStore is a hand-rolled in-memory stand-in for the shared store.
type mockStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	indexes map[string]*db.IndexDefinition

	searchFn    func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	createErr   error
	existsErr   error
	createCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

func (m *mockStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		fields := make(map[string]string, len(item.Fields))
		for k, v := range item.Fields {
			fields[k] = v
		}
		m.hashes[item.Key] = fields
	}
	return nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	m.indexes[def.Name] = def
	return nil
}

func (m *mockStore) IndexExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	return nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
