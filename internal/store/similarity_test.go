package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docurag/docurag/pkg/types"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Vector
		want float32
	}{
		{"identical", types.Vector{1, 2, 3}, types.Vector{1, 2, 3}, 1},
		{"orthogonal", types.Vector{1, 0}, types.Vector{0, 1}, 0},
		{"opposite", types.Vector{1, 0}, types.Vector{-1, 0}, -1},
		{"mismatched length", types.Vector{1, 0}, types.Vector{1, 0, 0}, 0},
		{"zero vector", types.Vector{0, 0}, types.Vector{1, 1}, 0},
		{"empty", types.Vector{}, types.Vector{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := types.Vector{0.3, 0.7, 0.1}
	scaled := types.Vector{3, 7, 1}
	assert.InDelta(t, 1.0, CosineSimilarity(a, scaled), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := Normalize(types.Vector{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Magnitude(v), 1e-6)

	zero := Normalize(types.Vector{0, 0, 0})
	assert.Equal(t, types.Vector{0, 0, 0}, zero)
}

func TestBatchCosineSimilarity(t *testing.T) {
	query := types.Vector{1, 0}
	vectors := []types.Vector{
		{1, 0},
		{0, 1},
		{1, 0, 0}, // mismatched length scores zero
	}
	scores := BatchCosineSimilarity(query, vectors)
	assert.InDelta(t, 1, scores[0], 1e-6)
	assert.InDelta(t, 0, scores[1], 1e-6)
	assert.InDelta(t, 0, scores[2], 1e-6)

	assert.Nil(t, BatchCosineSimilarity(query, nil))
}

func TestBatchCosineSimilarityMatchesPairwise(t *testing.T) {
	query := types.Vector{0.2, 0.5, 0.9}
	vectors := []types.Vector{
		{0.1, 0.4, 0.8},
		{0.9, 0.1, 0.2},
		{0.5, 0.5, 0.5},
	}
	batch := BatchCosineSimilarity(query, vectors)
	for i, v := range vectors {
		assert.InDelta(t, CosineSimilarity(query, v), batch[i], 1e-6)
	}
}
