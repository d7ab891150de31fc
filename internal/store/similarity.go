package store

import (
	"math"

	"github.com/docurag/docurag/pkg/types"
)

// CosineSimilarity returns the cosine of the angle between two vectors,
// in [-1, 1]. Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b types.Vector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// Magnitude returns the L2 norm of a vector.
func Magnitude(v types.Vector) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// Normalize returns a unit-length copy of v. A zero vector normalizes
// to a zero vector of the same length.
func Normalize(v types.Vector) types.Vector {
	mag := Magnitude(v)
	out := make(types.Vector, len(v))
	if mag == 0 {
		return out
	}
	for i, val := range v {
		out[i] = val / mag
	}
	return out
}

// BatchCosineSimilarity scores one query against many vectors,
// precomputing the query norm once. Vectors of mismatched length score
// 0 at their position.
func BatchCosineSimilarity(query types.Vector, vectors []types.Vector) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	scores := make([]float32, len(vectors))

	var queryNorm float32
	for _, val := range query {
		queryNorm += val * val
	}
	queryNorm = float32(math.Sqrt(float64(queryNorm)))
	if queryNorm == 0 {
		return scores
	}

	for i, vec := range vectors {
		if len(vec) != len(query) {
			continue
		}
		var dot, vecNorm float32
		for j := 0; j < len(query); j++ {
			dot += query[j] * vec[j]
			vecNorm += vec[j] * vec[j]
		}
		vecNorm = float32(math.Sqrt(float64(vecNorm)))
		if vecNorm != 0 {
			scores[i] = dot / (queryNorm * vecNorm)
		}
	}
	return scores
}
