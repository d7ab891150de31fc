package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/internal/store"
	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

func defaultRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:             5,
		SemanticWeight:   0.8,
		LexicalWeight:    0.2,
		ScoreThreshold:   0.25,
		MaxContextTokens: 4000,
	}
}

func newTestRetriever(t *testing.T, chunks []types.DocumentChunk, queryVec types.Vector) *Retriever {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.UpsertChunks(context.Background(), chunks))

	e := &stubEmbedder{vecFor: func(string) types.Vector { return queryVec }}
	return NewRetriever(e, s, defaultRetrievalConfig(), nil)
}

func retrievalChunk(id, docID string, index int, content string, embedding types.Vector) types.DocumentChunk {
	return types.DocumentChunk{
		ID:         id,
		DocumentID: docID,
		Index:      index,
		Content:    content,
		Embedding:  embedding,
		Dimension:  len(embedding),
		SourceType: types.SourceTypeDocument,
	}
}

func TestRetrieveSemanticOrdering(t *testing.T) {
	chunks := []types.DocumentChunk{
		retrievalChunk("c1", "doc-a", 0, "completely unrelated text", types.Vector{0, 1}),
		retrievalChunk("c2", "doc-a", 1, "somewhat related text", types.Vector{0.7, 0.7}),
		retrievalChunk("c3", "doc-b", 0, "the closest match of all", types.Vector{1, 0}),
	}
	r := newTestRetriever(t, chunks, types.Vector{1, 0})

	result, err := r.Retrieve(context.Background(), "unmatched query words", 3)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 3)
	assert.Equal(t, "c3", result.Chunks[0].Chunk.ID)
	assert.Equal(t, "c2", result.Chunks[1].Chunk.ID)
	assert.Equal(t, "c1", result.Chunks[2].Chunk.ID)
	for i := 1; i < len(result.Chunks); i++ {
		assert.GreaterOrEqual(t, result.Chunks[i-1].Score, result.Chunks[i].Score)
	}
}

func TestRetrieveLexicalBoost(t *testing.T) {
	// Equal semantic similarity; the chunk containing the query phrase
	// must win on the lexical component.
	chunks := []types.DocumentChunk{
		retrievalChunk("plain", "doc-a", 0, "nothing of interest here", types.Vector{1, 0}),
		retrievalChunk("match", "doc-b", 0, "the eiffel tower was finished in 1889", types.Vector{1, 0}),
	}
	r := newTestRetriever(t, chunks, types.Vector{1, 0})

	result, err := r.Retrieve(context.Background(), "eiffel tower", 2)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "match", result.Chunks[0].Chunk.ID)
	assert.Greater(t, result.Chunks[0].LexicalScore, result.Chunks[1].LexicalScore)
	assert.Equal(t, result.Chunks[0].SemanticScore, result.Chunks[1].SemanticScore)
}

func TestRetrieveDeterministicTieBreak(t *testing.T) {
	// Identical vectors and no lexical signal: ranking falls back to
	// (document ID, chunk index).
	chunks := []types.DocumentChunk{
		retrievalChunk("x", "doc-b", 0, "zzz", types.Vector{1, 0}),
		retrievalChunk("y", "doc-a", 1, "zzz", types.Vector{1, 0}),
		retrievalChunk("z", "doc-a", 0, "zzz", types.Vector{1, 0}),
	}
	r := newTestRetriever(t, chunks, types.Vector{1, 0})

	for run := 0; run < 3; run++ {
		result, err := r.Retrieve(context.Background(), "unrelated", 3)
		require.NoError(t, err)
		require.Len(t, result.Chunks, 3)
		assert.Equal(t, "z", result.Chunks[0].Chunk.ID)
		assert.Equal(t, "y", result.Chunks[1].Chunk.ID)
		assert.Equal(t, "x", result.Chunks[2].Chunk.ID)
	}
}

func TestRetrieveTopKLimit(t *testing.T) {
	var chunks []types.DocumentChunk
	for i := 0; i < 8; i++ {
		chunks = append(chunks, retrievalChunk(
			fmt.Sprintf("c%d", i), "doc-a", i, fmt.Sprintf("chunk %d", i), types.Vector{1, 0}))
	}
	r := newTestRetriever(t, chunks, types.Vector{1, 0})

	result, err := r.Retrieve(context.Background(), "query", 3)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 3)

	// topK <= 0 falls back to the configured default.
	result, err = r.Retrieve(context.Background(), "query", 0)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 5)
}

func TestRetrieveValidation(t *testing.T) {
	r := newTestRetriever(t, nil, types.Vector{1, 0})

	_, err := r.Retrieve(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, ErrQueryEmpty)

	bare := NewRetriever(&stubEmbedder{}, store.NewMemoryStore(), config.RetrievalConfig{}, nil)
	_, err = bare.Retrieve(context.Background(), "query", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestRetrieveCancellation(t *testing.T) {
	r := newTestRetriever(t, []types.DocumentChunk{
		retrievalChunk("c1", "doc-a", 0, "text", types.Vector{1, 0}),
	}, types.Vector{1, 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Retrieve(ctx, "query", 3)
	require.Error(t, err)
	assert.Nil(t, result, "no partial results after cancellation")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveSkipsUnembeddedChunks(t *testing.T) {
	chunks := []types.DocumentChunk{
		retrievalChunk("embedded", "doc-a", 0, "has a vector", types.Vector{1, 0}),
		retrievalChunk("pending", "doc-a", 1, "awaiting embedding", nil),
	}
	r := newTestRetriever(t, chunks, types.Vector{1, 0})

	result, err := r.Retrieve(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "embedded", result.Chunks[0].Chunk.ID)
}

func TestAssembleContextCapsDominantDocument(t *testing.T) {
	// doc-a would contribute 4 of k=4; with another document present it
	// is capped at ⌈k/2⌉ and sources are interleaved.
	var scored []types.ScoredChunk
	for i := 0; i < 4; i++ {
		scored = append(scored, types.ScoredChunk{
			Chunk: retrievalChunk(fmt.Sprintf("a%d", i), "doc-a", i, "aaaa", nil),
			Score: float32(10 - i),
		})
	}
	scored = append(scored, types.ScoredChunk{
		Chunk: retrievalChunk("b0", "doc-b", 0, "bbbb", nil),
		Score: 1,
	})

	out := AssembleContext(scored, 4, 0)
	require.Len(t, out, 3)
	assert.Equal(t, "a0", out[0].Chunk.ID)
	assert.Equal(t, "b0", out[1].Chunk.ID)
	assert.Equal(t, "a1", out[2].Chunk.ID)
}

func TestAssembleContextSingleDocumentUncapped(t *testing.T) {
	var scored []types.ScoredChunk
	for i := 0; i < 4; i++ {
		scored = append(scored, types.ScoredChunk{
			Chunk: retrievalChunk(fmt.Sprintf("a%d", i), "doc-a", i, "aaaa", nil),
			Score: float32(10 - i),
		})
	}
	out := AssembleContext(scored, 4, 0)
	assert.Len(t, out, 4)
}

func TestAssembleContextTokenBudget(t *testing.T) {
	long := make([]byte, 400) // ~100 tokens
	for i := range long {
		long[i] = 'x'
	}
	var scored []types.ScoredChunk
	for i := 0; i < 4; i++ {
		scored = append(scored, types.ScoredChunk{
			Chunk: retrievalChunk(fmt.Sprintf("a%d", i), fmt.Sprintf("doc-%d", i), 0, string(long), nil),
			Score: float32(10 - i),
		})
	}

	out := AssembleContext(scored, 4, 250)
	assert.Len(t, out, 2, "budget of 250 tokens fits two 100-token chunks")

	// The first chunk is always included even when over budget.
	out = AssembleContext(scored, 4, 10)
	assert.Len(t, out, 1)
}

func TestAssembleContextEmpty(t *testing.T) {
	assert.Nil(t, AssembleContext(nil, 5, 100))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"eiffel", "tower", "1889"}, tokenize("The Eiffel Tower, 1889!"))
	assert.Empty(t, tokenize("a . ,"))
}
