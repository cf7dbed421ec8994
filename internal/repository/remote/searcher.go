// Package remote implements the remote vector search service on top of
// the shared store's FT vector index (HNSW, cosine). Datapoints are
// hashes under a key prefix; queries run as KNN searches against the
// index. The service is eventually consistent from the caller's point of
// view: an index that is not ready yet is reported as unavailable, never
// as a fatal error.
package remote

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/db"
	"github.com/kailas-cloud/hyrag/internal/domain"
)

// store is the consumer interface for the remote searcher (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Config holds the remote searcher settings.
type Config struct {
	IndexName       string
	KeyPrefix       string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
}

// Searcher implements domain.RemoteSearcher over the shared store.
type Searcher struct {
	store  store
	cfg    Config
	logger *zap.Logger
}

var _ domain.RemoteSearcher = (*Searcher)(nil)

// New creates a remote searcher. Call EnsureIndex before serving queries.
func New(s store, cfg Config, logger *zap.Logger) *Searcher {
	return &Searcher{store: s, cfg: cfg, logger: logger}
}

// EnsureIndex creates the HNSW vector index if it does not exist yet.
func (s *Searcher) EnsureIndex(ctx context.Context) error {
	def := &db.IndexDefinition{
		Name:     s.cfg.IndexName,
		Prefixes: []string{s.cfg.KeyPrefix},
		Fields: []db.IndexField{
			{Name: "text", Type: db.IndexFieldText},
			{Name: "source", Type: db.IndexFieldTag},
			{
				Name:              "vector",
				Type:              db.IndexFieldVector,
				VectorDim:         s.cfg.Dimensions,
				VectorDistance:    db.DistanceCosine,
				VectorM:           s.cfg.HNSWM,
				VectorEFConstruct: s.cfg.HNSWEFConstruct,
			},
		},
	}
	if err := s.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create remote index: %w", err)
	}
	s.logger.Info("Remote vector index created",
		zap.String("index", s.cfg.IndexName), zap.Int("dimensions", s.cfg.Dimensions))
	return nil
}

// Upsert implements domain.RemoteSearcher. Points with empty vectors are
// skipped; everything else is written in one pipelined call.
func (s *Searcher) Upsert(ctx context.Context, points []domain.Datapoint) error {
	items := make([]db.HashSetItem, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			continue
		}
		items = append(items, db.HashSetItem{
			Key: s.cfg.KeyPrefix + p.ID,
			Fields: map[string]string{
				"text":   p.Text,
				"source": p.Source,
				"vector": vectorToBytes(p.Vector),
			},
		})
	}
	if len(items) == 0 {
		return nil
	}
	if err := s.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert datapoints: %w", err)
	}
	return nil
}

// Query implements domain.RemoteSearcher. Distance is 1 - cosine
// similarity. A missing index maps to ErrRemoteSearchUnavailable so the
// orchestrator treats it as a failed path.
func (s *Searcher) Query(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	res, err := s.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    s.cfg.IndexName,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{"text", "source"},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("%w: index %s not found", domain.ErrRemoteSearchUnavailable, s.cfg.IndexName)
		}
		return nil, fmt.Errorf("remote query: %w", err)
	}

	neighbors := make([]domain.Neighbor, 0, len(res.Entries))
	for _, e := range res.Entries {
		neighbors = append(neighbors, domain.Neighbor{
			ID:       e.Key[len(s.cfg.KeyPrefix):],
			Distance: 1.0 - e.Score,
			Text:     e.Fields["text"],
			Source:   e.Fields["source"],
		})
	}
	return neighbors, nil
}

// Ready implements domain.RemoteSearcher.
func (s *Searcher) Ready(ctx context.Context) bool {
	exists, err := s.store.IndexExists(ctx, s.cfg.IndexName)
	if err != nil {
		s.logger.Warn("Remote index readiness probe failed", zap.Error(err))
		return false
	}
	return exists
}

// Remove deletes all datapoints whose IDs start with idPrefix, e.g. every
// chunk of one document.
func (s *Searcher) Remove(ctx context.Context, idPrefix string) (int, error) {
	keys, err := s.store.Scan(ctx, s.cfg.KeyPrefix+idPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan datapoints: %w", err)
	}
	removed := 0
	for _, key := range keys {
		if err := s.store.Del(ctx, key); err != nil {
			s.logger.Warn("Failed to delete datapoint", zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
