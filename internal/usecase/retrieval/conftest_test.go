package retrieval

import (
	"context"
	"sync/atomic"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/index"
)

// mockLocal implements LocalIndex for tests.
type mockLocal struct {
	searchFn func(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
	stats    index.Stats
}

func (m *mockLocal) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, vector, k)
	}
	return nil, nil
}

func (m *mockLocal) Stats() index.Stats { return m.stats }

// mockRemote implements domain.RemoteSearcher for tests.
type mockRemote struct {
	queryFn func(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error)
	ready   bool
}

func (m *mockRemote) Upsert(_ context.Context, _ []domain.Datapoint) error { return nil }

func (m *mockRemote) Query(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, vector, k)
	}
	return nil, nil
}

func (m *mockRemote) Ready(_ context.Context) bool { return m.ready }

// mockEmbedder implements domain.BatchEmbedder, counting provider calls.
type mockEmbedder struct {
	dim     int
	calls   atomic.Int64
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	dim := m.dim
	if dim == 0 {
		dim = 4
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		v := make([]float32, dim)
		v[0] = 1
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
