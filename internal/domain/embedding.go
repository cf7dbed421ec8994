package domain

import "context"

// BatchEmbedder turns texts into fixed-dimension vectors.
//
// Implementations call the provider in fixed-size sub-batches. A failed
// sub-batch yields an empty placeholder vector per text instead of an
// error for the whole call; callers must check vector length before
// caching or indexing.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Datapoint is one vector to upsert into the remote search service.
type Datapoint struct {
	ID     string
	Vector []float32
	Text   string
	Source string
}

// Neighbor is one remote query hit. Distance is 1 - cosine similarity.
type Neighbor struct {
	ID       string
	Distance float64
	Text     string
	Source   string
}

// RemoteSearcher is the remote vector search service: bulk upsert plus KNN
// query. Eventually consistent; "not yet ready" surfaces as
// ErrRemoteSearchUnavailable and is an ordinary failed path, not fatal.
type RemoteSearcher interface {
	Upsert(ctx context.Context, points []Datapoint) error
	Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	Ready(ctx context.Context) bool
}

// HealthChecker is implemented by components that can verify their
// upstream dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
