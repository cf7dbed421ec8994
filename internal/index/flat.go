package index

import "sort"

// flatIndex is the exact brute-force inner-product structure. Vectors are
// stored densely by position.
type flatIndex struct {
	dim     int
	vectors [][]float32
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

func (f *flatIndex) ntotal() int { return len(f.vectors) }

func (f *flatIndex) add(vectors [][]float32) {
	f.vectors = append(f.vectors, vectors...)
}

func (f *flatIndex) reconstruct(pos int) []float32 {
	return f.vectors[pos]
}

// search scans every stored vector. Highest inner product first; ties
// keep insertion order.
func (f *flatIndex) search(query []float32, k int) []rawHit {
	hits := make([]rawHit, 0, len(f.vectors))
	for pos, v := range f.vectors {
		hits = append(hits, rawHit{pos: pos, score: dot(query, v)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// rawHit is an internal search hit before metadata resolution.
type rawHit struct {
	pos   int
	score float32
}
