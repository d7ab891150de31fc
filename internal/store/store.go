// Package store persists document chunks and their embeddings and
// serves top-K similarity search over them.
//
// Five backends implement the same ChunkStore interface: an in-memory
// map for tests and small corpora, SQLite and the filesystem for
// single-node persistence, Redis for shared deployments, and Qdrant
// when the corpus outgrows exhaustive scans. Every backend returns
// hits in the same deterministic order: score descending, ties broken
// by (document ID, chunk index) ascending.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// ChunkStore is the persistence surface for chunks and vectors.
// Implementations are safe for concurrent use.
type ChunkStore interface {
	// UpsertChunks inserts or replaces chunks by ID. Chunks without an
	// embedding are stored and count against coverage until
	// re-embedded.
	UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error

	// DeleteByDocument removes every chunk belonging to the document.
	// Deleting an unknown document is a no-op.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Search returns up to topK chunks by cosine similarity against
	// query, excluding hits below minScore. Chunks without a valid
	// embedding for the store dimension are skipped.
	Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error)

	// GetChunks resolves chunk IDs, preserving input order. Unknown
	// IDs are omitted rather than failing the whole lookup.
	GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error)

	// All returns every stored chunk. The lexical scorer and embedding
	// regeneration walk the full corpus through this.
	All(ctx context.Context) ([]types.DocumentChunk, error)

	// Count reports the total number of chunks and how many carry a
	// valid embedding.
	Count(ctx context.Context) (total, embedded int, err error)

	// Clear removes all chunks.
	Clear(ctx context.Context) error

	Close() error
}

// SearchHit is one similarity match.
type SearchHit struct {
	Chunk types.DocumentChunk
	Score float32
}

// Error is the structured error for storage failures.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// sortHits orders hits score descending with the deterministic
// tie-break, then truncates to topK.
func sortHits(hits []SearchHit, topK int) []SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.DocumentID != hits[j].Chunk.DocumentID {
			return hits[i].Chunk.DocumentID < hits[j].Chunk.DocumentID
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// scanSearch is the exhaustive-scan search shared by the backends that
// hold chunks locally (memory, SQLite, Redis, filesystem).
func scanSearch(chunks []types.DocumentChunk, query types.Vector, topK int, minScore float32) []SearchHit {
	vectors := make([]types.Vector, 0, len(chunks))
	candidates := make([]types.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != len(query) || len(c.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, c.Embedding)
		candidates = append(candidates, c)
	}

	scores := BatchCosineSimilarity(query, vectors)
	hits := make([]SearchHit, 0, len(candidates))
	for i, c := range candidates {
		if scores[i] < minScore {
			continue
		}
		hits = append(hits, SearchHit{Chunk: c, Score: scores[i]})
	}
	return sortHits(hits, topK)
}

// New builds the configured chunk store backend.
func New(ctx context.Context, cfg *config.Config) (ChunkStore, error) {
	switch cfg.StorageProvider {
	case config.StorageInMemory:
		return NewMemoryStore(), nil
	case config.StorageSQLite:
		return NewSQLiteStore(cfg.Storage.SQLitePath)
	case config.StorageRedis:
		return NewRedisStore(ctx, cfg.Storage)
	case config.StorageQdrant:
		return NewQdrantStore(ctx, cfg.Storage)
	case config.StorageFileSystem:
		return NewFileSystemStore(cfg.Storage.FileSystemDir)
	}
	return nil, fmt.Errorf("store: unknown storage provider %q", cfg.StorageProvider)
}
