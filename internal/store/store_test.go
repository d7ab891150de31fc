package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// newTestStores builds one instance of every backend that can run
// without external services.
func newTestStores(t *testing.T) map[string]ChunkStore {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)

	fs, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), config.StorageConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)

	stores := map[string]ChunkStore{
		"memory":     NewMemoryStore(),
		"sqlite":     sqlite,
		"filesystem": fs,
		"redis":      rs,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func testChunk(id, docID string, index int, content string, embedding types.Vector) types.DocumentChunk {
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

func TestChunkStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			chunks := []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "alpha", types.Vector{1, 0, 0}),
				testChunk("22222222-2222-2222-2222-222222222222", "doc-a", 1, "beta", types.Vector{0, 1, 0}),
				testChunk("33333333-3333-3333-3333-333333333333", "doc-b", 0, "gamma", nil),
			}
			require.NoError(t, s.UpsertChunks(ctx, chunks))

			got, err := s.GetChunks(ctx, []string{
				"22222222-2222-2222-2222-222222222222",
				"11111111-1111-1111-1111-111111111111",
				"99999999-9999-9999-9999-999999999999",
			})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "beta", got[0].Content)
			assert.Equal(t, "alpha", got[1].Content)
			assert.Equal(t, types.Vector{0, 1, 0}, got[0].Embedding)

			total, embedded, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Equal(t, 2, embedded)
		})
	}
}

func TestChunkStoreUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			id := "11111111-1111-1111-1111-111111111111"
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk(id, "doc-a", 0, "before", nil),
			}))
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk(id, "doc-a", 0, "after", types.Vector{1, 2, 3}),
			}))

			got, err := s.GetChunks(ctx, []string{id})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "after", got[0].Content)

			total, embedded, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			assert.Equal(t, 1, embedded)
		})
	}
}

func TestChunkStoreDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "alpha", types.Vector{1, 0}),
				testChunk("22222222-2222-2222-2222-222222222222", "doc-b", 0, "beta", types.Vector{0, 1}),
			}))

			require.NoError(t, s.DeleteByDocument(ctx, "doc-a"))
			// Unknown document is a no-op, not an error.
			require.NoError(t, s.DeleteByDocument(ctx, "doc-missing"))

			all, err := s.All(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "doc-b", all[0].DocumentID)
		})
	}
}

func TestChunkStoreSearchOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-b", 1, "far", types.Vector{0, 1, 0}),
				testChunk("22222222-2222-2222-2222-222222222222", "doc-a", 0, "exact", types.Vector{1, 0, 0}),
				testChunk("33333333-3333-3333-3333-333333333333", "doc-c", 0, "close", types.Vector{0.9, 0.1, 0}),
				testChunk("44444444-4444-4444-4444-444444444444", "doc-d", 0, "no embedding", nil),
			}))

			hits, err := s.Search(ctx, types.Vector{1, 0, 0}, 10, 0.25)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "exact", hits[0].Chunk.Content)
			assert.Equal(t, "close", hits[1].Chunk.Content)
			assert.Greater(t, hits[0].Score, hits[1].Score)
		})
	}
}

func TestChunkStoreSearchTieBreak(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			// Identical embeddings produce identical scores; order must
			// fall back to (document ID, chunk index) ascending.
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-b", 0, "b0", types.Vector{1, 0}),
				testChunk("22222222-2222-2222-2222-222222222222", "doc-a", 1, "a1", types.Vector{1, 0}),
				testChunk("33333333-3333-3333-3333-333333333333", "doc-a", 0, "a0", types.Vector{1, 0}),
			}))

			hits, err := s.Search(ctx, types.Vector{1, 0}, 3, 0)
			require.NoError(t, err)
			require.Len(t, hits, 3)
			assert.Equal(t, "a0", hits[0].Chunk.Content)
			assert.Equal(t, "a1", hits[1].Chunk.Content)
			assert.Equal(t, "b0", hits[2].Chunk.Content)
		})
	}
}

func TestChunkStoreSearchTopKLimit(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "one", types.Vector{1, 0}),
				testChunk("22222222-2222-2222-2222-222222222222", "doc-a", 1, "two", types.Vector{0.9, 0.1}),
				testChunk("33333333-3333-3333-3333-333333333333", "doc-a", 2, "three", types.Vector{0.8, 0.2}),
			}))

			hits, err := s.Search(ctx, types.Vector{1, 0}, 2, 0)
			require.NoError(t, err)
			assert.Len(t, hits, 2)
		})
	}
}

func TestChunkStoreClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
				testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "alpha", types.Vector{1, 0}),
			}))
			require.NoError(t, s.Clear(ctx))

			total, _, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
		testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "persisted", types.Vector{0.5, 0.5}),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persisted", all[0].Content)
	assert.Equal(t, types.Vector{0.5, 0.5}, all[0].Embedding)
}

func TestFileSystemStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileSystemStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.UpsertChunks(ctx, []types.DocumentChunk{
		testChunk("11111111-1111-1111-1111-111111111111", "doc-a", 0, "persisted", types.Vector{0.5, 0.5}),
	}))

	s2, err := NewFileSystemStore(dir)
	require.NoError(t, err)
	all, err := s2.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persisted", all[0].Content)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StorageProvider = config.StorageInMemory
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	cfg.StorageProvider = "Bogus"
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}
