package domain

import (
	"fmt"
	"time"
)

// Strategy selects how retrieval paths are combined for a query.
// Closed set; every switch over it must be exhaustive.
type Strategy string

const (
	// StrategyLocalOnly queries only the local vector index.
	StrategyLocalOnly Strategy = "local_only"
	// StrategyRemoteOnly queries only the remote vector search service.
	StrategyRemoteOnly Strategy = "remote_only"
	// StrategyHybridParallel queries both paths concurrently and fuses.
	StrategyHybridParallel Strategy = "hybrid_parallel"
	// StrategyAdaptive picks LocalOnly for short queries, HybridParallel otherwise.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyFallback tries local first, then remote, then gives up empty.
	StrategyFallback Strategy = "fallback"
)

// ParseStrategy validates a strategy name from the wire.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocalOnly, StrategyRemoteOnly, StrategyHybridParallel,
		StrategyAdaptive, StrategyFallback:
		return Strategy(s), nil
	case "":
		return StrategyHybridParallel, nil
	default:
		return "", fmt.Errorf("unknown retrieval strategy %q", s)
	}
}

// RetrievalSource marks which path produced a result.
type RetrievalSource string

const (
	// SourceLocal marks results from the local vector index.
	SourceLocal RetrievalSource = "local"
	// SourceRemote marks results from the remote vector search service.
	SourceRemote RetrievalSource = "remote"
	// SourceHybrid marks fused results.
	SourceHybrid RetrievalSource = "hybrid"
)

// RetrievalResult is one ranked passage. Produced fresh per query, never
// persisted.
type RetrievalResult struct {
	ChunkID         string          `json:"id"`
	Text            string          `json:"text"`
	Source          string          `json:"source"`
	Similarity      float64         `json:"similarity"`
	Distance        float64         `json:"distance"` // 1 - similarity
	Rank            int             `json:"rank"`
	RetrievalSource RetrievalSource `json:"retrieval_source"`
	Confidence      float64         `json:"confidence"`
}

// RetrievalConfig tunes candidate counts, fusion weights and timeouts.
// Process-wide and mutable at runtime; weights need not sum to 1 but must
// both be non-negative.
type RetrievalConfig struct {
	NumCandidates      int           `json:"num_candidates" yaml:"num_candidates"`
	FinalResults       int           `json:"final_results" yaml:"final_results"`
	LocalWeight        float64       `json:"local_weight" yaml:"local_weight"`
	RemoteWeight       float64       `json:"remote_weight" yaml:"remote_weight"`
	MinSimilarity      float64       `json:"min_similarity" yaml:"min_similarity"`
	RRFK               int           `json:"rrf_k" yaml:"rrf_k"`
	EnableReranking    bool          `json:"enable_reranking" yaml:"enable_reranking"`
	AdaptiveThreshold  int           `json:"adaptive_threshold" yaml:"adaptive_threshold"`
	MaxParallelTimeout time.Duration `json:"max_parallel_timeout" yaml:"max_parallel_timeout"`
	// CoreTerms are domain concept terms granted an extra keyword-boost
	// bonus during fusion. Configuration, not a constant.
	CoreTerms []string `json:"core_terms" yaml:"core_terms"`
}

// DefaultRetrievalConfig mirrors the defaults the service ships with.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		NumCandidates:      10,
		FinalResults:       5,
		LocalWeight:        0.6,
		RemoteWeight:       0.4,
		MinSimilarity:      0.3,
		RRFK:               60,
		EnableReranking:    true,
		AdaptiveThreshold:  20,
		MaxParallelTimeout: 5 * time.Second,
	}
}

// Validate rejects configs the orchestrator cannot run with.
func (c RetrievalConfig) Validate() error {
	if c.LocalWeight < 0 || c.RemoteWeight < 0 {
		return fmt.Errorf("%w: weights must be >= 0", ErrInvalidConfig)
	}
	if c.NumCandidates <= 0 {
		return fmt.Errorf("%w: num_candidates must be positive", ErrInvalidConfig)
	}
	if c.FinalResults <= 0 {
		return fmt.Errorf("%w: final_results must be positive", ErrInvalidConfig)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("%w: rrf_k must be positive", ErrInvalidConfig)
	}
	if c.MaxParallelTimeout <= 0 {
		return fmt.Errorf("%w: max_parallel_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// RetrievalStats is a snapshot of the orchestrator's running counters.
type RetrievalStats struct {
	TotalQueries    int64         `json:"total_queries"`
	LocalSuccess    int64         `json:"local_success"`
	RemoteSuccess   int64         `json:"remote_success"`
	HybridSuccess   int64         `json:"hybrid_success"`
	FallbackSuccess int64         `json:"fallback_success"`
	// FallbackUsed counts fallback queries whose local path came up
	// empty or failed, forcing the remote leg.
	FallbackUsed int64 `json:"fallback_used"`
	TotalLatency    time.Duration `json:"total_latency"`
	AverageLatency  time.Duration `json:"average_latency"`
	FailedQueries   int64         `json:"failed_queries"`
	LastQueryAt     time.Time     `json:"last_query_at"`
	LocalAvailable  bool          `json:"local_available"`
	RemoteAvailable bool          `json:"remote_available"`
}

// RetrievalHealth reports path availability. Hybrid is available when
// either path is.
type RetrievalHealth struct {
	LocalAvailable  bool `json:"local_available"`
	RemoteAvailable bool `json:"remote_available"`
	HybridAvailable bool `json:"hybrid_available"`
}
