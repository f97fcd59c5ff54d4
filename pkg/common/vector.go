package common

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or one of them is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MeanEmbedding averages the embeddings of all sources that have one. The
// result does not depend on the order of the sources beyond float rounding.
func MeanEmbedding(sources []Source) []float32 {
	var sum []float64
	n := 0
	for _, s := range sources {
		if len(s.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(s.Embedding))
		}
		if len(s.Embedding) != len(sum) {
			continue
		}
		for i, v := range s.Embedding {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, v := range sum {
		out[i] = float32(v / float64(n))
	}
	return out
}
