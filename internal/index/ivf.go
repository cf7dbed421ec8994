package index

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/hyrag/internal/domain"
)

// ivfIndex partitions vectors into nlist clusters and probes only the
// nprobe nearest clusters per query. Faster than flat at some recall
// cost. Must be trained before vectors are added.
type ivfIndex struct {
	dim       int
	nlist     int
	nprobe    int
	centroids [][]float32
	lists     [][]int     // cluster → positions
	vectors   [][]float32 // dense by position, for reconstruct
	trained   bool
}

func newIVFIndex(dim, nlist, nprobe int) *ivfIndex {
	if nprobe > nlist {
		nprobe = nlist
	}
	return &ivfIndex{dim: dim, nlist: nlist, nprobe: nprobe}
}

func (ix *ivfIndex) ntotal() int { return len(ix.vectors) }

// train runs k-means over the training set. Deterministic: seeds are
// evenly spaced over the input, assignment iterates in input order.
func (ix *ivfIndex) train(vectors [][]float32, iterations int) error {
	if len(vectors) < ix.nlist {
		return fmt.Errorf("%w: %d training vectors for %d clusters",
			domain.ErrIndexTraining, len(vectors), ix.nlist)
	}

	centroids := make([][]float32, ix.nlist)
	for c := range centroids {
		seed := vectors[c*len(vectors)/ix.nlist]
		centroids[c] = append([]float32(nil), seed...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(centroids, v)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([][]float64, ix.nlist)
		counts := make([]int, ix.nlist)
		for c := range sums {
			sums[c] = make([]float64, ix.dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // empty cluster keeps its previous centroid
			}
			mean := make([]float32, ix.dim)
			for d := range mean {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = NormalizeL2(mean)
		}

		if !changed && iter > 0 {
			break
		}
	}

	ix.centroids = centroids
	ix.lists = make([][]int, ix.nlist)
	ix.trained = true
	return nil
}

func (ix *ivfIndex) add(vectors [][]float32) {
	for _, v := range vectors {
		pos := len(ix.vectors)
		ix.vectors = append(ix.vectors, v)
		c := nearestCentroid(ix.centroids, v)
		ix.lists[c] = append(ix.lists[c], pos)
	}
}

func (ix *ivfIndex) reconstruct(pos int) []float32 {
	return ix.vectors[pos]
}

func (ix *ivfIndex) search(query []float32, k int) []rawHit {
	if !ix.trained || len(ix.vectors) == 0 {
		return nil
	}

	type centroidDist struct {
		cluster int
		score   float32
	}
	dists := make([]centroidDist, len(ix.centroids))
	for c, centroid := range ix.centroids {
		dists[c] = centroidDist{cluster: c, score: dot(query, centroid)}
	}
	sort.SliceStable(dists, func(i, j int) bool { return dists[i].score > dists[j].score })

	probes := ix.nprobe
	if probes > len(dists) {
		probes = len(dists)
	}

	var hits []rawHit
	for _, cd := range dists[:probes] {
		for _, pos := range ix.lists[cd.cluster] {
			hits = append(hits, rawHit{pos: pos, score: dot(query, ix.vectors[pos])})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best := 0
	bestScore := dot(centroids[0], v)
	for c := 1; c < len(centroids); c++ {
		if s := dot(centroids[c], v); s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best
}
