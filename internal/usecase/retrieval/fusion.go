package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kailas-cloud/hyrag/internal/domain"
)

// fuse merges the local and remote candidate lists via weighted Reciprocal
// Rank Fusion with keyword boosting. Deterministic: duplicates keep their
// first occurrence (local list precedes remote), ties keep concatenation
// order via a stable sort.
func fuse(local, remote []Candidate, query string, cfg domain.RetrievalConfig) []domain.RetrievalResult {
	type fused struct {
		cand  Candidate
		score float64
		order int // position in the concatenated lists, for tie stability
	}

	merged := make(map[string]*fused)
	var ordered []*fused

	// Every occurrence contributes its full per-path score (RRF term plus,
	// when reranking, keyword and similarity boosts); a chunk on both paths
	// accumulates both contributions. Dedup only picks which payload is
	// returned: the first occurrence's.
	addPath := func(cands []Candidate, weight float64) {
		for rank, c := range cands {
			score := weight / float64(cfg.RRFK+rank+1)
			if cfg.EnableReranking {
				score += keywordBoost(c.Text, query, cfg.CoreTerms)
				score += 0.3 * c.Similarity
			}
			if existing, ok := merged[c.ChunkID]; ok {
				existing.score += score
				continue
			}
			f := &fused{cand: c, score: score, order: len(ordered)}
			merged[c.ChunkID] = f
			ordered = append(ordered, f)
		}
	}
	addPath(local, cfg.LocalWeight)
	addPath(remote, cfg.RemoteWeight)

	if !cfg.EnableReranking {
		// Plain similarity ranking: first-occurrence similarity scaled by
		// its path weight.
		for _, f := range ordered {
			weight := cfg.LocalWeight
			if f.order >= len(local) {
				weight = cfg.RemoteWeight
			}
			f.score = f.cand.Similarity * weight
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })

	if len(ordered) > cfg.FinalResults {
		ordered = ordered[:cfg.FinalResults]
	}

	results := make([]domain.RetrievalResult, len(ordered))
	for i, f := range ordered {
		results[i] = domain.RetrievalResult{
			ChunkID:         f.cand.ChunkID,
			Text:            f.cand.Text,
			Source:          f.cand.Source,
			Similarity:      f.cand.Similarity,
			Distance:        1.0 - f.cand.Similarity,
			Rank:            i + 1,
			RetrievalSource: domain.SourceHybrid,
			Confidence:      confidence(f.score),
		}
	}
	return results
}

// keywordBoost scores lexical overlap between a chunk and the query:
// 0.6 per substring-match fraction, 0.8 per whole-word-match fraction,
// plus 0.3 per configured core-concept term found (capped at 0.9).
func keywordBoost(text, query string, coreTerms []string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}

	lowerText := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lowerText, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	var substring, wholeWord int
	for _, term := range terms {
		if strings.Contains(lowerText, term) {
			substring++
		}
		if _, ok := words[term]; ok {
			wholeWord++
		}
	}

	boost := 0.6*float64(substring)/float64(len(terms)) +
		0.8*float64(wholeWord)/float64(len(terms))

	var coreMatches int
	for _, term := range coreTerms {
		if term != "" && strings.Contains(lowerText, strings.ToLower(term)) {
			coreMatches++
		}
	}
	coreBoost := 0.3 * float64(coreMatches)
	if coreBoost > 0.9 {
		coreBoost = 0.9
	}

	return boost + coreBoost
}

// confidence normalizes a fused score into [0,1].
func confidence(score float64) float64 {
	c := 0.5 * score
	if c > 1.0 {
		c = 1.0
	}
	if c < 0 {
		c = 0
	}
	return c
}
