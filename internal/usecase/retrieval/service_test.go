package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/index"
)

var errPath = errors.New("path down")

func newTestService(local *mockLocal, remote *mockRemote) *Service {
	cfg := domain.DefaultRetrievalConfig()
	cfg.MaxParallelTimeout = time.Second
	var rs domain.RemoteSearcher
	if remote != nil {
		rs = remote
	}
	return NewService(local, rs, &mockEmbedder{}, cfg, 4, zap.NewNop())
}

func localHits(hits ...index.Hit) *mockLocal {
	return &mockLocal{
		searchFn: func(context.Context, []float32, int) ([]index.Hit, error) {
			return hits, nil
		},
	}
}

func remoteNeighbors(ns ...domain.Neighbor) *mockRemote {
	return &mockRemote{
		ready: true,
		queryFn: func(context.Context, []float32, int) ([]domain.Neighbor, error) {
			return ns, nil
		},
	}
}

func TestSearch_LocalOnly(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Text: "hello", Score: 0.9}),
		remoteNeighbors(domain.Neighbor{ID: "r1", Distance: 0.1}),
	)

	results, err := svc.Search(context.Background(), "query", domain.StrategyLocalOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("expected local hit c1, got %+v", results)
	}
	if results[0].RetrievalSource != domain.SourceLocal {
		t.Errorf("expected source local, got %s", results[0].RetrievalSource)
	}
}

func TestSearch_RemoteOnly(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Score: 0.9}),
		remoteNeighbors(domain.Neighbor{ID: "r1", Distance: 0.2, Text: "remote"}),
	)

	results, err := svc.Search(context.Background(), "query", domain.StrategyRemoteOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "r1" {
		t.Fatalf("expected remote hit r1, got %+v", results)
	}
	if results[0].Similarity < 0.79 || results[0].Similarity > 0.81 {
		t.Errorf("similarity must be 1-distance, got %f", results[0].Similarity)
	}
}

func TestSearch_HybridFusesBothPaths(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Text: "one", Score: 0.9}),
		remoteNeighbors(
			domain.Neighbor{ID: "c1", Distance: 0.3, Text: "one"},
			domain.Neighbor{ID: "c2", Distance: 0.5, Text: "two"},
		),
	)

	results, err := svc.Search(context.Background(), "query", domain.StrategyHybridParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("cross-path chunk must rank first, got %s", results[0].ChunkID)
	}
}

func TestSearch_HybridOnePathFailing(t *testing.T) {
	local := &mockLocal{
		searchFn: func(context.Context, []float32, int) ([]index.Hit, error) {
			return nil, errPath
		},
	}
	svc := newTestService(local, remoteNeighbors(domain.Neighbor{ID: "r1", Distance: 0.1}))

	results, err := svc.Search(context.Background(), "query", domain.StrategyHybridParallel)
	if err != nil {
		t.Fatalf("one failing path must not fail the query: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "r1" {
		t.Fatalf("expected the surviving path's results, got %+v", results)
	}
}

func TestSearch_HybridBothPathsFailing(t *testing.T) {
	local := &mockLocal{
		searchFn: func(context.Context, []float32, int) ([]index.Hit, error) {
			return nil, errPath
		},
	}
	remote := &mockRemote{
		ready: true,
		queryFn: func(context.Context, []float32, int) ([]domain.Neighbor, error) {
			return nil, errPath
		},
	}
	svc := newTestService(local, remote)

	_, err := svc.Search(context.Background(), "query", domain.StrategyHybridParallel)
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestSearch_HybridEmptyIsNotFailure(t *testing.T) {
	svc := newTestService(localHits(), remoteNeighbors())

	results, err := svc.Search(context.Background(), "query", domain.StrategyHybridParallel)
	if err != nil {
		t.Fatalf("zero results is not a failure: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %d", len(results))
	}
}

func TestSearch_FallbackPrefersLocal(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Score: 0.9}),
		remoteNeighbors(domain.Neighbor{ID: "r1", Distance: 0.1}),
	)

	results, err := svc.Search(context.Background(), "query", domain.StrategyFallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("fallback must return local results when non-empty, got %+v", results)
	}
}

func TestSearch_FallbackUsesRemoteWhenLocalRaises(t *testing.T) {
	local := &mockLocal{
		searchFn: func(context.Context, []float32, int) ([]index.Hit, error) {
			return nil, errPath
		},
	}
	svc := newTestService(local, remoteNeighbors(domain.Neighbor{ID: "r1", Distance: 0.1, Text: "remote"}))

	results, err := svc.Search(context.Background(), "query", domain.StrategyFallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "r1" {
		t.Fatalf("expected remote results after local failure, got %+v", results)
	}
	if results[0].RetrievalSource != domain.SourceRemote {
		t.Errorf("expected source remote, got %s", results[0].RetrievalSource)
	}
}

func TestSearch_FallbackBothEmptyReturnsEmpty(t *testing.T) {
	svc := newTestService(localHits(), remoteNeighbors())

	results, err := svc.Search(context.Background(), "query", domain.StrategyFallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %d", len(results))
	}
}

func TestSearch_FallbackCountsSuccesses(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Score: 0.9}),
		remoteNeighbors(),
	)
	ctx := context.Background()

	// Served from the local leg: a fallback success without the remote
	// leg ever being forced.
	if _, err := svc.Search(ctx, "query", domain.StrategyFallback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := svc.Stats(ctx)
	if stats.FallbackSuccess != 1 {
		t.Errorf("expected FallbackSuccess=1, got %d", stats.FallbackSuccess)
	}
	if stats.FallbackUsed != 0 {
		t.Errorf("local-served fallback must not count as FallbackUsed, got %d", stats.FallbackUsed)
	}
}

func TestSearch_AdaptivePicksLocalForShortQueries(t *testing.T) {
	remoteCalled := false
	remote := &mockRemote{
		ready: true,
		queryFn: func(context.Context, []float32, int) ([]domain.Neighbor, error) {
			remoteCalled = true
			return nil, nil
		},
	}
	svc := newTestService(localHits(index.Hit{ChunkID: "c1", Score: 0.9}), remote)

	// 5 chars, below the default 20-char threshold.
	if _, err := svc.Search(context.Background(), "short", domain.StrategyAdaptive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remoteCalled {
		t.Fatal("short query must not touch the remote path")
	}

	long := "this query is comfortably longer than twenty characters"
	if _, err := svc.Search(context.Background(), long, domain.StrategyAdaptive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !remoteCalled {
		t.Fatal("long query must run the hybrid path")
	}
}

func TestSearch_MinSimilarityFiltersPerPath(t *testing.T) {
	svc := newTestService(
		localHits(
			index.Hit{ChunkID: "strong", Score: 0.8},
			index.Hit{ChunkID: "weak", Score: 0.1},
		),
		nil,
	)

	results, err := svc.Search(context.Background(), "query", domain.StrategyLocalOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "strong" {
		t.Fatalf("results below min_similarity must be dropped, got %+v", results)
	}
}

func TestSearch_EmbedFailureFailsQuery(t *testing.T) {
	svc := newTestService(localHits(), nil)
	svc.embedder = &mockEmbedder{
		embedFn: func(context.Context, []string) ([][]float32, error) {
			return nil, domain.ErrEmbeddingProvider
		},
	}

	if _, err := svc.Search(context.Background(), "query", domain.StrategyLocalOnly); err == nil {
		t.Fatal("expected error when the query cannot be embedded")
	}
}

func TestUpdateConfig_Validates(t *testing.T) {
	svc := newTestService(localHits(), nil)

	bad := svc.Config()
	bad.LocalWeight = -1
	if err := svc.UpdateConfig(bad); err == nil {
		t.Fatal("expected validation error for negative weight")
	}

	good := svc.Config()
	good.FinalResults = 7
	if err := svc.UpdateConfig(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Config().FinalResults != 7 {
		t.Fatal("config update not applied")
	}
}

func TestStatsAndHealth(t *testing.T) {
	svc := newTestService(
		localHits(index.Hit{ChunkID: "c1", Score: 0.9}),
		&mockRemote{ready: true},
	)
	ctx := context.Background()

	if _, err := svc.Search(ctx, "query", domain.StrategyLocalOnly); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := svc.Stats(ctx)
	if stats.TotalQueries != 1 || stats.LocalSuccess != 1 {
		t.Errorf("counter mismatch: %+v", stats)
	}

	health := svc.Health(ctx)
	if !health.LocalAvailable || !health.RemoteAvailable || !health.HybridAvailable {
		t.Errorf("expected all paths available, got %+v", health)
	}
}

func TestHealth_HybridNeedsOnePath(t *testing.T) {
	svc := newTestService(localHits(), &mockRemote{ready: false})

	health := svc.Health(context.Background())
	if !health.HybridAvailable {
		t.Fatal("hybrid must be available while the local path is")
	}
	if health.RemoteAvailable {
		t.Fatal("remote path must report unavailable")
	}
}
