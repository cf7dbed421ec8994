// Package retrieval is the hybrid retrieval orchestrator: it embeds the
// query, dispatches it to the local index and the remote search service
// according to a strategy, and fuses the paths into one ranked list.
package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/domain"
	"github.com/kailas-cloud/hyrag/internal/metrics"
)

// pathResult carries one retrieval path's outcome. An error and an empty
// list are different things: an empty list is a valid contribution of
// zero results, an error marks the path as failed.
type pathResult struct {
	candidates []Candidate
	err        error
}

// Service orchestrates hybrid retrieval. Safe for concurrent use.
type Service struct {
	local    LocalIndex
	remote   domain.RemoteSearcher
	embedder domain.BatchEmbedder
	sem      chan struct{} // bounds concurrent path searches
	logger   *zap.Logger

	cfgMu sync.RWMutex
	cfg   domain.RetrievalConfig

	statsMu sync.Mutex
	stats   domain.RetrievalStats
}

// NewService creates the orchestrator. workers bounds the path search
// pool (default 4).
func NewService(
	local LocalIndex,
	remote domain.RemoteSearcher,
	embedder domain.BatchEmbedder,
	cfg domain.RetrievalConfig,
	workers int,
	logger *zap.Logger,
) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		local:    local,
		remote:   remote,
		embedder: embedder,
		sem:      make(chan struct{}, workers),
		cfg:      cfg,
		logger:   logger,
	}
}

// Config returns a snapshot of the current retrieval config.
func (s *Service) Config() domain.RetrievalConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// UpdateConfig replaces the retrieval config after validation.
func (s *Service) UpdateConfig(cfg domain.RetrievalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.logger.Info("Retrieval config updated",
		zap.Float64("local_weight", cfg.LocalWeight),
		zap.Float64("remote_weight", cfg.RemoteWeight),
		zap.Int("final_results", cfg.FinalResults))
	return nil
}

// Search runs a query through the given strategy and returns at most
// config.final_results passages, sorted by descending confidence.
func (s *Service) Search(ctx context.Context, query string, strategy domain.Strategy) ([]domain.RetrievalResult, error) {
	cfg := s.Config()
	start := time.Now()

	results, err := s.dispatch(ctx, query, strategy, cfg)

	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RetrievalQueriesTotal.WithLabelValues(string(strategy), status).Inc()
	metrics.RetrievalQueryDuration.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())
	s.record(strategy, elapsed, err)

	return results, err
}

func (s *Service) dispatch(ctx context.Context, query string, strategy domain.Strategy, cfg domain.RetrievalConfig) ([]domain.RetrievalResult, error) {
	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case domain.StrategyLocalOnly:
		res := s.searchLocal(ctx, vector, cfg)
		if res.err != nil {
			return nil, res.err
		}
		return singlePath(res.candidates, domain.SourceLocal, cfg.FinalResults), nil

	case domain.StrategyRemoteOnly:
		res := s.searchRemote(ctx, vector, cfg)
		if res.err != nil {
			return nil, res.err
		}
		return singlePath(res.candidates, domain.SourceRemote, cfg.FinalResults), nil

	case domain.StrategyHybridParallel:
		return s.searchHybrid(ctx, query, vector, cfg)

	case domain.StrategyAdaptive:
		if len([]rune(query)) < cfg.AdaptiveThreshold {
			res := s.searchLocal(ctx, vector, cfg)
			if res.err != nil {
				return nil, res.err
			}
			return singlePath(res.candidates, domain.SourceLocal, cfg.FinalResults), nil
		}
		return s.searchHybrid(ctx, query, vector, cfg)

	case domain.StrategyFallback:
		return s.searchFallback(ctx, vector, cfg)

	default:
		return nil, fmt.Errorf("unknown retrieval strategy %q", strategy)
	}
}

// searchHybrid runs both paths concurrently on the bounded pool, each
// with its own timeout. A failed or timed-out path contributes zero
// results; the query fails only when both paths fail.
func (s *Service) searchHybrid(ctx context.Context, query string, vector []float32, cfg domain.RetrievalConfig) ([]domain.RetrievalResult, error) {
	localCh := make(chan pathResult, 1)
	remoteCh := make(chan pathResult, 1)

	go func() { localCh <- s.onPool(ctx, func(pctx context.Context) pathResult { return s.searchLocal(pctx, vector, cfg) }) }()
	go func() { remoteCh <- s.onPool(ctx, func(pctx context.Context) pathResult { return s.searchRemote(pctx, vector, cfg) }) }()

	localRes := <-localCh
	remoteRes := <-remoteCh

	if localRes.err != nil && remoteRes.err != nil {
		return nil, fmt.Errorf("%w: local: %v; remote: %v",
			domain.ErrRetrievalUnavailable, localRes.err, remoteRes.err)
	}
	if localRes.err != nil {
		s.logger.Warn("Local path failed, fusing remote only", zap.Error(localRes.err))
		localRes.candidates = nil
	}
	if remoteRes.err != nil {
		s.logger.Warn("Remote path failed, fusing local only", zap.Error(remoteRes.err))
		remoteRes.candidates = nil
	}

	metrics.FusionCandidatesTotal.WithLabelValues("local").Add(float64(len(localRes.candidates)))
	metrics.FusionCandidatesTotal.WithLabelValues("remote").Add(float64(len(remoteRes.candidates)))

	return fuse(localRes.candidates, remoteRes.candidates, query, cfg), nil
}

// searchFallback tries the local path first and falls back to remote when
// it yields nothing. Errors count as empty here; both paths erroring is
// the one fatal case.
func (s *Service) searchFallback(ctx context.Context, vector []float32, cfg domain.RetrievalConfig) ([]domain.RetrievalResult, error) {
	localRes := s.searchLocal(ctx, vector, cfg)
	if localRes.err == nil && len(localRes.candidates) > 0 {
		return singlePath(localRes.candidates, domain.SourceLocal, cfg.FinalResults), nil
	}
	if localRes.err != nil {
		s.logger.Warn("Local path failed, falling back to remote", zap.Error(localRes.err))
	}

	s.statsMu.Lock()
	s.stats.FallbackUsed++
	s.statsMu.Unlock()

	remoteRes := s.searchRemote(ctx, vector, cfg)
	if remoteRes.err != nil {
		if localRes.err != nil {
			return nil, fmt.Errorf("%w: local: %v; remote: %v",
				domain.ErrRetrievalUnavailable, localRes.err, remoteRes.err)
		}
		s.logger.Warn("Remote fallback failed, returning empty", zap.Error(remoteRes.err))
		return nil, nil
	}
	return singlePath(remoteRes.candidates, domain.SourceRemote, cfg.FinalResults), nil
}

// onPool runs fn on the bounded worker pool with the per-path timeout.
// Cancellation is cooperative: the path function receives a context that
// expires at the timeout.
func (s *Service) onPool(ctx context.Context, fn func(context.Context) pathResult) pathResult {
	cfg := s.Config()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return pathResult{err: ctx.Err()}
	}
	defer func() { <-s.sem }()

	pctx, cancel := context.WithTimeout(ctx, cfg.MaxParallelTimeout)
	defer cancel()

	done := make(chan pathResult, 1)
	go func() { done <- fn(pctx) }()

	select {
	case res := <-done:
		return res
	case <-pctx.Done():
		return pathResult{err: pctx.Err()}
	}
}

func (s *Service) searchLocal(ctx context.Context, vector []float32, cfg domain.RetrievalConfig) pathResult {
	hits, err := s.local.Search(ctx, vector, cfg.NumCandidates)
	if err != nil {
		return pathResult{err: fmt.Errorf("local search: %w", err)}
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < cfg.MinSimilarity {
			continue
		}
		candidates = append(candidates, Candidate{
			ChunkID:    h.ChunkID,
			Text:       h.Text,
			Source:     h.Source,
			Similarity: h.Score,
		})
	}
	return pathResult{candidates: candidates}
}

func (s *Service) searchRemote(ctx context.Context, vector []float32, cfg domain.RetrievalConfig) pathResult {
	if s.remote == nil {
		return pathResult{err: domain.ErrRemoteSearchUnavailable}
	}
	neighbors, err := s.remote.Query(ctx, vector, cfg.NumCandidates)
	if err != nil {
		return pathResult{err: fmt.Errorf("remote search: %w", err)}
	}

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		similarity := 1.0 - n.Distance
		if similarity < cfg.MinSimilarity {
			continue
		}
		candidates = append(candidates, Candidate{
			ChunkID:    n.ID,
			Text:       n.Text,
			Source:     n.Source,
			Similarity: similarity,
		})
	}
	return pathResult{candidates: candidates}
}

// embedQuery turns the query into a vector via the provider. A placeholder
// (empty) vector from a failed batch is an error here, not a silent miss.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embed query: %w", domain.ErrEmbeddingProvider)
	}
	return vectors[0], nil
}

// singlePath finalizes one path's candidates without fusion.
func singlePath(candidates []Candidate, source domain.RetrievalSource, limit int) []domain.RetrievalResult {
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]domain.RetrievalResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.RetrievalResult{
			ChunkID:         c.ChunkID,
			Text:            c.Text,
			Source:          c.Source,
			Similarity:      c.Similarity,
			Distance:        1.0 - c.Similarity,
			Rank:            i + 1,
			RetrievalSource: source,
			Confidence:      confidence(c.Similarity),
		}
	}
	return results
}

func (s *Service) record(strategy domain.Strategy, elapsed time.Duration, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.TotalQueries++
	s.stats.TotalLatency += elapsed
	s.stats.AverageLatency = s.stats.TotalLatency / time.Duration(s.stats.TotalQueries)
	s.stats.LastQueryAt = time.Now()

	if err != nil {
		s.stats.FailedQueries++
		return
	}
	switch strategy {
	case domain.StrategyLocalOnly:
		s.stats.LocalSuccess++
	case domain.StrategyRemoteOnly:
		s.stats.RemoteSuccess++
	case domain.StrategyHybridParallel, domain.StrategyAdaptive:
		s.stats.HybridSuccess++
	case domain.StrategyFallback:
		s.stats.FallbackSuccess++
	}
}

// Stats returns a snapshot of the running counters.
func (s *Service) Stats(ctx context.Context) domain.RetrievalStats {
	s.statsMu.Lock()
	snapshot := s.stats
	s.statsMu.Unlock()

	health := s.Health(ctx)
	snapshot.LocalAvailable = health.LocalAvailable
	snapshot.RemoteAvailable = health.RemoteAvailable
	return snapshot
}

// Health reports path availability; hybrid is available when either is.
func (s *Service) Health(ctx context.Context) domain.RetrievalHealth {
	h := domain.RetrievalHealth{
		LocalAvailable: s.local != nil,
	}
	if s.remote != nil {
		h.RemoteAvailable = s.remote.Ready(ctx)
	}
	h.HybridAvailable = h.LocalAvailable || h.RemoteAvailable
	return h
}
