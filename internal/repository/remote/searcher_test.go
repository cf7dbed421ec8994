package remote

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/db"
	"github.com/kailas-cloud/hyrag/internal/domain"
)

func testConfig() Config {
	return Config{
		IndexName:       "test-index",
		KeyPrefix:       "dp:",
		Dimensions:      4,
		HNSWM:           32,
		HNSWEFConstruct: 400,
	}
}

func newTestSearcher() (*Searcher, *mockStore) {
	store := newMockStore()
	return New(store, testConfig(), zap.NewNop()), store
}

func TestEnsureIndex_CreatesOnce(t *testing.T) {
	s, store := newTestSearcher()
	ctx := context.Background()

	if err := s.EnsureIndex(ctx); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureIndex(ctx); err != nil {
		t.Fatalf("ensure must tolerate an existing index: %v", err)
	}
	if store.createCalls != 2 {
		t.Errorf("expected 2 create attempts, got %d", store.createCalls)
	}

	def := store.indexes["test-index"]
	if def == nil {
		t.Fatal("index definition not stored")
	}
	var vector *db.IndexField
	for i := range def.Fields {
		if def.Fields[i].Type == db.IndexFieldVector {
			vector = &def.Fields[i]
		}
	}
	if vector == nil {
		t.Fatal("definition must carry a vector field")
	}
	if vector.VectorDim != 4 || vector.VectorDistance != db.DistanceCosine {
		t.Errorf("vector field mismatch: %+v", vector)
	}
}

func TestUpsert_SkipsEmptyVectors(t *testing.T) {
	s, store := newTestSearcher()

	err := s.Upsert(context.Background(), []domain.Datapoint{
		{ID: "file_doc_chunk_0", Vector: []float32{1, 0, 0, 0}, Text: "alpha", Source: "doc.txt"},
		{ID: "file_doc_chunk_1", Vector: []float32{}, Text: "beta", Source: "doc.txt"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, ok := store.hashes["dp:file_doc_chunk_0"]; !ok {
		t.Error("real vector must be written")
	}
	if _, ok := store.hashes["dp:file_doc_chunk_1"]; ok {
		t.Error("empty placeholder vector must be skipped")
	}

	fields := store.hashes["dp:file_doc_chunk_0"]
	if fields["text"] != "alpha" || fields["source"] != "doc.txt" {
		t.Errorf("payload fields mismatch: %+v", fields)
	}
	if len(fields["vector"]) != 16 {
		t.Errorf("expected 16 vector bytes for 4 float32s, got %d", len(fields["vector"]))
	}
}

func TestQuery_MapsScoreToDistance(t *testing.T) {
	s, store := newTestSearcher()
	store.searchFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "test-index" || q.K != 3 {
			t.Errorf("unexpected query: %+v", q)
		}
		return &db.SearchResult{
			Total: 1,
			Entries: []db.SearchEntry{
				{Key: "dp:file_doc_chunk_0", Score: 0.9, Fields: map[string]string{"text": "alpha", "source": "doc.txt"}},
			},
		}, nil
	}

	neighbors, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("expected 1 neighbor, got %d", len(neighbors))
	}
	n := neighbors[0]
	if n.ID != "file_doc_chunk_0" {
		t.Errorf("id must drop the key prefix, got %s", n.ID)
	}
	if n.Distance < 0.099 || n.Distance > 0.101 {
		t.Errorf("distance must be 1-score, got %f", n.Distance)
	}
	if n.Text != "alpha" || n.Source != "doc.txt" {
		t.Errorf("payload mismatch: %+v", n)
	}
}

func TestQuery_MissingIndexIsUnavailable(t *testing.T) {
	s, store := newTestSearcher()
	store.searchFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, db.ErrIndexNotFound
	}

	_, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
	if !errors.Is(err, domain.ErrRemoteSearchUnavailable) {
		t.Fatalf("expected ErrRemoteSearchUnavailable, got %v", err)
	}
}

func TestReady(t *testing.T) {
	s, store := newTestSearcher()
	ctx := context.Background()

	if s.Ready(ctx) {
		t.Fatal("searcher must not be ready before the index exists")
	}
	if err := s.EnsureIndex(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !s.Ready(ctx) {
		t.Fatal("searcher must be ready once the index exists")
	}

	store.existsErr = errors.New("probe failed")
	if s.Ready(ctx) {
		t.Fatal("probe failure must read as not ready")
	}
}

func TestRemove_DocumentScope(t *testing.T) {
	s, store := newTestSearcher()
	ctx := context.Background()

	err := s.Upsert(ctx, []domain.Datapoint{
		{ID: "file_doc1_chunk_0", Vector: []float32{1, 0, 0, 0}},
		{ID: "file_doc1_chunk_1", Vector: []float32{0, 1, 0, 0}},
		{ID: "file_doc2_chunk_0", Vector: []float32{0, 0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	removed, err := s.Remove(ctx, domain.ChunkKeyPrefix("doc1"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed datapoints, got %d", removed)
	}
	if _, ok := store.hashes["dp:file_doc2_chunk_0"]; !ok {
		t.Error("other document's datapoints must survive")
	}
}
