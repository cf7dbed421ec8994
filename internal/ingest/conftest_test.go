package ingest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/hyrag/internal/db"
	"github.com/kailas-cloud/hyrag/internal/index"
	"github.com/kailas-cloud/hyrag/internal/storage"
)

// memStore backs the chunk cache in tests.
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

// memBlobs is an in-memory blob store.
type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string][]byte)}
}

func (m *memBlobs) put(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = content
}

func (m *memBlobs) List(_ context.Context) ([]storage.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]storage.BlobInfo, 0, len(m.files))
	for name, data := range m.files {
		infos = append(infos, storage.BlobInfo{
			Name:     name,
			Size:     int64(len(data)),
			Modified: time.Now(),
		})
	}
	return infos, nil
}

func (m *memBlobs) Upload(_ context.Context, name string, r io.Reader) (storage.BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	m.put(name, data)
	return storage.BlobInfo{Name: name, Size: int64(len(data)), Modified: time.Now()}, nil
}

func (m *memBlobs) Download(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

// mockIndex records added entries.
type mockIndex struct {
	mu      sync.Mutex
	entries []index.Entry
}

func (m *mockIndex) Add(_ context.Context, entries []index.Entry) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.entries)
	m.entries = append(m.entries, entries...)
	positions := make([]int, len(entries))
	for i := range positions {
		positions[i] = start + i
	}
	return positions, nil
}

func (m *mockIndex) added() []index.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]index.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// mockEmbedder counts provider calls; block, when set, stalls the call
// until released.
type mockEmbedder struct {
	calls atomic.Int64
	dim   int
	block chan struct{}
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	dim := m.dim
	if dim == 0 {
		dim = 4
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		v := make([]float32, dim)
		v[0] = float32(i + 1)
		vectors[i] = v
	}
	return vectors, nil
}

func (m *mockEmbedder) Dimensions() int {
	if m.dim == 0 {
		return 4
	}
	return m.dim
}
