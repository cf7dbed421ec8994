package chi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/hyrag/internal/domain"
)

type searchRequest struct {
	Query    string `json:"query"`
	Strategy string `json:"strategy"`
	TopK     *int   `json:"top_k"`
}

// SearchChunks handles POST /v1/search.
func (s *Server) SearchChunks(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	strategy, err := domain.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	if req.TopK != nil && *req.TopK <= 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "top_k must be positive")
		return
	}

	results, err := s.retrieval.Search(r.Context(), req.Query, strategy)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	// top_k narrows below the configured final_results; it never widens.
	if req.TopK != nil && *req.TopK < len(results) {
		results = results[:*req.TopK]
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"total":    len(results),
		"strategy": strategy,
	})
}

// RetrievalStats handles GET /v1/retrieval/stats.
func (s *Server) RetrievalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.retrieval.Stats(r.Context()))
}

// GetRetrievalConfig handles GET /v1/retrieval/config.
func (s *Server) GetRetrievalConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configToWire(s.retrieval.Config()))
}

// configPatch carries the mutable retrieval settings; nil means "keep".
type configPatch struct {
	NumCandidates        *int     `json:"num_candidates"`
	FinalResults         *int     `json:"final_results"`
	LocalWeight          *float64 `json:"local_weight"`
	RemoteWeight         *float64 `json:"remote_weight"`
	MinSimilarity        *float64 `json:"min_similarity"`
	RRFK                 *int     `json:"rrf_k"`
	EnableReranking      *bool    `json:"enable_reranking"`
	AdaptiveThreshold    *int     `json:"adaptive_threshold"`
	MaxParallelTimeoutMS *int64   `json:"max_parallel_timeout_ms"`
	CoreTerms            []string `json:"core_terms"`
}

// PatchRetrievalConfig handles PATCH /v1/retrieval/config: applies the
// provided fields over the current config, validating the merged result.
func (s *Server) PatchRetrievalConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := s.retrieval.Config()
	if patch.NumCandidates != nil {
		cfg.NumCandidates = *patch.NumCandidates
	}
	if patch.FinalResults != nil {
		cfg.FinalResults = *patch.FinalResults
	}
	if patch.LocalWeight != nil {
		cfg.LocalWeight = *patch.LocalWeight
	}
	if patch.RemoteWeight != nil {
		cfg.RemoteWeight = *patch.RemoteWeight
	}
	if patch.MinSimilarity != nil {
		cfg.MinSimilarity = *patch.MinSimilarity
	}
	if patch.RRFK != nil {
		cfg.RRFK = *patch.RRFK
	}
	if patch.EnableReranking != nil {
		cfg.EnableReranking = *patch.EnableReranking
	}
	if patch.AdaptiveThreshold != nil {
		cfg.AdaptiveThreshold = *patch.AdaptiveThreshold
	}
	if patch.MaxParallelTimeoutMS != nil {
		cfg.MaxParallelTimeout = time.Duration(*patch.MaxParallelTimeoutMS) * time.Millisecond
	}
	if patch.CoreTerms != nil {
		cfg.CoreTerms = patch.CoreTerms
	}

	if err := s.retrieval.UpdateConfig(cfg); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, configToWire(cfg))
}

// configToWire flattens the config for the API, expressing the timeout in
// milliseconds instead of Go duration encoding.
func configToWire(cfg domain.RetrievalConfig) map[string]any {
	return map[string]any{
		"num_candidates":          cfg.NumCandidates,
		"final_results":           cfg.FinalResults,
		"local_weight":            cfg.LocalWeight,
		"remote_weight":           cfg.RemoteWeight,
		"min_similarity":          cfg.MinSimilarity,
		"rrf_k":                   cfg.RRFK,
		"enable_reranking":        cfg.EnableReranking,
		"adaptive_threshold":      cfg.AdaptiveThreshold,
		"max_parallel_timeout_ms": cfg.MaxParallelTimeout.Milliseconds(),
		"core_terms":              cfg.CoreTerms,
	}
}
