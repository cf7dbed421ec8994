package index

import "math"

// NormalizeL2 returns a unit-length copy of v, so that inner-product
// search over stored vectors equals cosine similarity. A zero vector is
// returned unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
