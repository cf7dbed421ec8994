package retrieval

import (
	"context"

	"github.com/kailas-cloud/hyrag/internal/index"
)

// LocalIndex is the orchestrator's view of the local vector index.
type LocalIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
	Stats() index.Stats
}

// Candidate is one per-path result entering fusion.
type Candidate struct {
	ChunkID    string
	Text       string
	Source     string
	Similarity float64
}
