package chi

import (
	"context"
	"strings"
	"sync"

	"github.com/kailas-cloud/hyrag/internal/db"
)

// memStore is an in-memory store backing a real cache in handler tests.
// Scan supports only the "prefix*" patterns the cache uses.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type mockIndex struct {
	mu      sync.Mutex
	cleared int
}

func (m *mockIndex) Clear(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
}

func (m *mockIndex) clearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared
}

type mockLoader struct {
	done chan struct{}
}

func newMockLoader() *mockLoader {
	return &mockLoader{done: make(chan struct{}, 1)}
}

func (m *mockLoader) LoadAll(context.Context) (int, error) {
	select {
	case m.done <- struct{}{}:
	default:
	}
	return 3, nil
}
