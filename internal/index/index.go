// Package index implements the local approximate-nearest-neighbor index
// over normalized embedding vectors. It starts as an exact flat structure
// and upgrades itself to an IVF clustering structure once the corpus
// crosses a size threshold; a failed training run downgrades it back to
// flat so no vector is ever lost.
package index

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hyrag/internal/db"
)

// Kind names the underlying index structure.
type Kind string

const (
	// KindFlat is exact brute-force search.
	KindFlat Kind = "flat"
	// KindIVF is approximate clustered search.
	KindIVF Kind = "ivf"
)

// Entry is one vector to insert.
type Entry struct {
	ID     string
	Vector []float32
	Source string
	Text   string
}

// Hit is one ranked search result. Score is cosine similarity.
type Hit struct {
	Position int
	Score    float64
	ChunkID  string
	Source   string
	Text     string
}

// Stats is a snapshot of the index state.
type Stats struct {
	Count      int    `json:"count"`
	Dimension  int    `json:"dimension"`
	Trained    bool   `json:"trained"`
	Kind       string `json:"kind"`
	Generation int    `json:"generation"`
}

// Meta is the per-position sidecar record.
type Meta struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Options tune upgrade and training behavior.
type Options struct {
	UpgradeThreshold int // flat → IVF at this vector count (default 500)
	NProbe           int // IVF clusters probed per search (default 8)
	TrainIterations  int // k-means iterations (default 20)
}

func (o *Options) applyDefaults() {
	if o.UpgradeThreshold <= 0 {
		o.UpgradeThreshold = 500
	}
	if o.NProbe <= 0 {
		o.NProbe = 8
	}
	if o.TrainIterations <= 0 {
		o.TrainIterations = 20
	}
}

// store is the consumer interface for persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

// Index is the local vector index. Safe for concurrent use; the
// upgrade/downgrade rebuild holds the write lock for its whole duration
// since it replaces the underlying structure.
type Index struct {
	mu sync.RWMutex

	flat *flatIndex
	ivf  *ivfIndex
	kind Kind

	dim        int
	meta       map[int]Meta
	generation int

	opts      Options
	store     store
	prefix    string
	sizeGauge prometheus.Gauge // may be nil
	logger    *zap.Logger
}

// New creates the index, restoring persisted state if present. Corrupt or
// unreadable state is replaced by an empty flat index; startup never
// fails on a bad store.
func New(ctx context.Context, s store, prefix string, opts Options, sizeGauge prometheus.Gauge, logger *zap.Logger) *Index {
	opts.applyDefaults()
	ix := &Index{
		flat:      newFlatIndex(0),
		kind:      KindFlat,
		meta:      make(map[int]Meta),
		opts:      opts,
		store:     s,
		prefix:    prefix,
		sizeGauge: sizeGauge,
		logger:    logger,
	}
	if err := ix.load(ctx); err != nil {
		logger.Warn("Failed to load local index, starting empty", zap.Error(err))
		ix.flat = newFlatIndex(0)
		ix.ivf = nil
		ix.kind = KindFlat
		ix.meta = make(map[int]Meta)
		ix.dim = 0
	}
	ix.updateGauge()
	return ix
}

// Add normalizes and inserts a batch, returning the assigned positions.
// Crossing the upgrade threshold while flat triggers a stop-the-world
// rebuild into an IVF structure before the batch is inserted.
func (ix *Index) Add(ctx context.Context, entries []Entry) ([]int, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	vectors := make([][]float32, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("entry %s has an empty vector", e.ID)
		}
		if ix.dim == 0 {
			ix.dim = len(e.Vector)
			ix.flat = newFlatIndex(ix.dim)
		}
		if len(e.Vector) != ix.dim {
			return nil, fmt.Errorf("entry %s: dimension %d, index expects %d", e.ID, len(e.Vector), ix.dim)
		}
		vectors = append(vectors, NormalizeL2(e.Vector))
	}

	if ix.kind == KindFlat && ix.countLocked()+len(vectors) >= ix.opts.UpgradeThreshold {
		if err := ix.upgradeLocked(); err != nil {
			ix.logger.Warn("IVF upgrade failed, staying flat", zap.Error(err))
		}
	}

	start := ix.countLocked()
	switch ix.kind {
	case KindFlat:
		ix.flat.add(vectors)
	case KindIVF:
		ix.ivf.add(vectors)
	}

	positions := make([]int, len(entries))
	for i, e := range entries {
		pos := start + i
		positions[i] = pos
		ix.meta[pos] = Meta{ID: e.ID, Source: e.Source, Text: e.Text}
	}

	ix.persistLocked(ctx)
	ix.updateGauge()
	return positions, nil
}

// Search returns the top-k entries by cosine similarity, highest first.
// An empty index returns an empty list, not an error.
func (ix *Index) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.countLocked() == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d, index expects %d", len(query), ix.dim)
	}

	q := NormalizeL2(query)
	var raw []rawHit
	switch ix.kind {
	case KindFlat:
		raw = ix.flat.search(q, k)
	case KindIVF:
		raw = ix.ivf.search(q, k)
	}

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		m := ix.meta[r.pos]
		hits = append(hits, Hit{
			Position: r.pos,
			Score:    float64(r.score),
			ChunkID:  m.ID,
			Source:   m.Source,
			Text:     m.Text,
		})
	}
	return hits, nil
}

// Clear resets the index to an empty flat structure and removes the
// persisted state.
func (ix *Index) Clear(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.flat = newFlatIndex(ix.dim)
	ix.ivf = nil
	ix.kind = KindFlat
	ix.meta = make(map[int]Meta)
	ix.generation++

	if err := ix.store.Del(ctx, ix.vectorsKey()); err != nil {
		ix.logger.Warn("Failed to delete index vectors", zap.Error(err))
	}
	if err := ix.store.Del(ctx, ix.metaKey()); err != nil {
		ix.logger.Warn("Failed to delete index sidecar", zap.Error(err))
	}
	ix.updateGauge()
}

// Stats reports the current index state.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	trained := true
	if ix.kind == KindIVF {
		trained = ix.ivf.trained
	}
	return Stats{
		Count:      ix.countLocked(),
		Dimension:  ix.dim,
		Trained:    trained,
		Kind:       string(ix.kind),
		Generation: ix.generation,
	}
}

func (ix *Index) countLocked() int {
	switch ix.kind {
	case KindIVF:
		return ix.ivf.ntotal()
	default:
		return ix.flat.ntotal()
	}
}

func (ix *Index) reconstructAllLocked() [][]float32 {
	n := ix.countLocked()
	vectors := make([][]float32, n)
	for pos := 0; pos < n; pos++ {
		switch ix.kind {
		case KindIVF:
			vectors[pos] = ix.ivf.reconstruct(pos)
		default:
			vectors[pos] = ix.flat.reconstruct(pos)
		}
	}
	return vectors
}

// upgradeLocked rebuilds the flat structure into a trained IVF one.
// Cluster count is clamp(sqrt(N), 10, 256). On training failure the index
// falls back to flat via downgradeLocked.
func (ix *Index) upgradeLocked() error {
	vectors := ix.reconstructAllLocked()
	if len(vectors) == 0 {
		return nil
	}

	nlist := clusterCount(len(vectors))
	ivf := newIVFIndex(ix.dim, nlist, ix.opts.NProbe)
	if err := ivf.train(vectors, ix.opts.TrainIterations); err != nil {
		ix.downgradeLocked()
		return err
	}
	ivf.add(vectors)

	ix.ivf = ivf
	ix.flat = nil
	ix.kind = KindIVF
	ix.generation++
	ix.logger.Info("Local index upgraded to IVF",
		zap.Int("vectors", len(vectors)), zap.Int("clusters", nlist))
	return nil
}

// downgradeLocked rebuilds whatever structure is current into a fresh
// flat index. Correctness over speed: every vector is carried over.
func (ix *Index) downgradeLocked() {
	vectors := ix.reconstructAllLocked()
	flat := newFlatIndex(ix.dim)
	flat.add(vectors)

	ix.flat = flat
	ix.ivf = nil
	ix.kind = KindFlat
	ix.generation++
	ix.logger.Info("Local index downgraded to flat", zap.Int("vectors", len(vectors)))
}

func clusterCount(n int) int {
	nlist := int(math.Sqrt(float64(n)))
	if nlist < 10 {
		nlist = 10
	}
	if nlist > 256 {
		nlist = 256
	}
	return nlist
}

// --- Persistence ---

type sidecar struct {
	Generation int             `json:"generation"`
	Kind       Kind            `json:"kind"`
	Dimension  int             `json:"dimension"`
	Entries    map[string]Meta `json:"entries"`
}

func (ix *Index) vectorsKey() string { return ix.prefix + "index:vectors" }
func (ix *Index) metaKey() string    { return ix.prefix + "index:meta" }

// persistLocked writes the vector blob and JSON sidecar. Failures are
// logged, not propagated: the in-memory index stays authoritative and is
// rebuilt from the cache on the next startup if persistence lagged.
func (ix *Index) persistLocked(ctx context.Context) {
	vectors := ix.reconstructAllLocked()
	if err := ix.store.Set(ctx, ix.vectorsKey(), encodeVectors(ix.dim, vectors)); err != nil {
		ix.logger.Warn("Failed to persist index vectors", zap.Error(err))
	}

	sc := sidecar{
		Generation: ix.generation,
		Kind:       ix.kind,
		Dimension:  ix.dim,
		Entries:    make(map[string]Meta, len(ix.meta)),
	}
	for pos, m := range ix.meta {
		sc.Entries[strconv.Itoa(pos)] = m
	}
	data, err := json.Marshal(sc)
	if err != nil {
		ix.logger.Warn("Failed to encode index sidecar", zap.Error(err))
		return
	}
	if err := ix.store.Set(ctx, ix.metaKey(), data); err != nil {
		ix.logger.Warn("Failed to persist index sidecar", zap.Error(err))
	}
}

func (ix *Index) load(ctx context.Context) error {
	blob, err := ix.store.Get(ctx, ix.vectorsKey())
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil // fresh start
		}
		return fmt.Errorf("read index vectors: %w", err)
	}

	dim, vectors, err := decodeVectors(blob)
	if err != nil {
		return fmt.Errorf("decode index vectors: %w", err)
	}

	metaBlob, err := ix.store.Get(ctx, ix.metaKey())
	if err != nil {
		return fmt.Errorf("read index sidecar: %w", err)
	}
	var sc sidecar
	if err := json.Unmarshal(metaBlob, &sc); err != nil {
		return fmt.Errorf("decode index sidecar: %w", err)
	}
	if len(sc.Entries) != len(vectors) {
		return fmt.Errorf("sidecar has %d entries for %d vectors", len(sc.Entries), len(vectors))
	}

	meta := make(map[int]Meta, len(sc.Entries))
	for posStr, m := range sc.Entries {
		pos, err := strconv.Atoi(posStr)
		if err != nil || pos < 0 || pos >= len(vectors) {
			return fmt.Errorf("sidecar has invalid position %q", posStr)
		}
		meta[pos] = m
	}

	ix.dim = dim
	ix.meta = meta
	ix.generation = sc.Generation

	// IVF structures are retrained from the restored vectors rather than
	// persisted; a failed retrain falls back to flat.
	if sc.Kind == KindIVF && len(vectors) > 0 {
		ivf := newIVFIndex(dim, clusterCount(len(vectors)), ix.opts.NProbe)
		if err := ivf.train(vectors, ix.opts.TrainIterations); err == nil {
			ivf.add(vectors)
			ix.ivf = ivf
			ix.flat = nil
			ix.kind = KindIVF
			return nil
		}
		ix.logger.Warn("IVF retrain on load failed, using flat index")
	}

	flat := newFlatIndex(dim)
	flat.add(vectors)
	ix.flat = flat
	ix.ivf = nil
	ix.kind = KindFlat
	return nil
}

func (ix *Index) updateGauge() {
	if ix.sizeGauge != nil {
		ix.sizeGauge.Set(float64(ix.countLocked()))
	}
}

// encodeVectors packs vectors as [u32 dim][u32 count][count*dim f32 LE].
func encodeVectors(dim int, vectors [][]float32) []byte {
	buf := make([]byte, 8+len(vectors)*dim*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(dim))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(vectors)))
	off := 8
	for _, v := range vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	return buf
}

func decodeVectors(data []byte) (int, [][]float32, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("blob too short: %d bytes", len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:]))
	count := int(binary.LittleEndian.Uint32(data[4:]))
	if dim <= 0 || count < 0 {
		return 0, nil, fmt.Errorf("invalid header: dim=%d count=%d", dim, count)
	}
	if len(data) != 8+count*dim*4 {
		return 0, nil, fmt.Errorf("blob size %d does not match dim=%d count=%d", len(data), dim, count)
	}

	vectors := make([][]float32, count)
	off := 8
	for i := range vectors {
		v := make([]float32, dim)
		for d := range v {
			v[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return dim, vectors, nil
}
