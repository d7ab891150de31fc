package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/internal/store"
	"github.com/docurag/docurag/pkg/config"
)

func newTestRegistry(t *testing.T, e *stubEmbedder) (*Registry, store.ChunkStore) {
	t.Helper()
	chunks := store.NewMemoryStore()
	t.Cleanup(func() { chunks.Close() })

	chunker := NewChunker(config.ChunkingConfig{MaxChunkSize: 50, MinChunkSize: 10, ChunkOverlap: 10})
	batcher := newTestBatcher(e, config.EmbeddingConfig{BatchSize: 10, Workers: 2})
	return NewRegistry(NewMemoryDocumentStore(), chunks, chunker, batcher, 0, nil), chunks
}

const testDocText = "The tower was finished in 1889. It stands in Paris. " +
	"Visitors climb it every day. It was the tallest structure for decades."

func TestRegistryUploadAndGet(t *testing.T) {
	ctx := context.Background()
	reg, chunks := newTestRegistry(t, &stubEmbedder{})

	doc, err := reg.Upload(ctx, strings.NewReader(testDocText), "tower.txt", "text/plain", "owner-a", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.NotEmpty(t, doc.ContentHash)
	require.NotEmpty(t, doc.ChunkIDs)

	got, err := reg.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "tower.txt", got.FileName)

	stored, err := chunks.GetChunks(ctx, doc.ChunkIDs)
	require.NoError(t, err)
	require.Len(t, stored, len(doc.ChunkIDs))
	for i, c := range stored {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestRegistryUploadDeduplicates(t *testing.T) {
	ctx := context.Background()
	reg, chunks := newTestRegistry(t, &stubEmbedder{})

	first, err := reg.Upload(ctx, strings.NewReader(testDocText), "a.txt", "text/plain", "owner-a", nil)
	require.NoError(t, err)
	second, err := reg.Upload(ctx, strings.NewReader(testDocText), "b.txt", "text/plain", "owner-a", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "identical content by the same owner reuses the document")

	docs, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	total, _, err := chunks.Count(ctx)
	require.NoError(t, err)
	assert.Len(t, first.ChunkIDs, total)

	// A different owner gets their own document.
	third, err := reg.Upload(ctx, strings.NewReader(testDocText), "c.txt", "text/plain", "owner-b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestRegistryUploadRejectsEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t, &stubEmbedder{})
	_, err := reg.Upload(context.Background(), strings.NewReader("  \n\t "), "empty.txt", "text/plain", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentEmpty)
}

func TestRegistryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	reg, chunks := newTestRegistry(t, &stubEmbedder{})

	doc, err := reg.Upload(ctx, strings.NewReader(testDocText), "a.txt", "text/plain", "", nil)
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, doc.ID))

	_, err = reg.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	total, _, err := chunks.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	var ragErr *Error
	err = reg.Delete(ctx, "no-such-doc")
	require.Error(t, err)
	require.True(t, errors.As(err, &ragErr))
	assert.Equal(t, ErrorTypeNotFound, ragErr.Type)
}

func TestRegistryRegenerateEmbeddingsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, &stubEmbedder{})

	_, err := reg.Upload(ctx, strings.NewReader(testDocText), "a.txt", "text/plain", "", nil)
	require.NoError(t, err)

	// Everything already embedded: nothing to do.
	updated, err := reg.RegenerateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, updated)

	require.NoError(t, reg.ClearEmbeddings(ctx))
	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EmbeddingCoverage)

	updated, err = reg.RegenerateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Positive(t, updated)

	stats, err = reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(100), stats.EmbeddingCoverage)

	updated, err = reg.RegenerateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestRegistryStats(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, &stubEmbedder{})

	doc, err := reg.Upload(ctx, strings.NewReader(testDocText), "a.txt", "text/plain", "", nil)
	require.NoError(t, err)

	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, len(doc.ChunkIDs), stats.ChunkCount)
	assert.Equal(t, float64(100), stats.EmbeddingCoverage)
}

func TestRegistryClearDocuments(t *testing.T) {
	ctx := context.Background()
	reg, chunks := newTestRegistry(t, &stubEmbedder{})

	_, err := reg.Upload(ctx, strings.NewReader(testDocText), "a.txt", "text/plain", "", nil)
	require.NoError(t, err)

	require.NoError(t, reg.ClearDocuments(ctx))
	docs, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	total, _, err := chunks.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}
