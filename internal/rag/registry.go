package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/store"
	"github.com/docurag/docurag/pkg/types"
)

// Registry owns the document lifecycle: ingestion (chunk, embed,
// persist), lookup, cascade deletion and corpus-wide embedding
// maintenance. It is the single resolver from chunk to document.
type Registry struct {
	docs    DocumentStore
	chunks  store.ChunkStore
	chunker *Chunker
	batcher *Batcher
	logger  hclog.Logger

	// dimension is the store's vector dimension. Zero means "adopt the
	// first embedding seen"; once set it never changes.
	mu        sync.Mutex
	dimension int
}

// NewRegistry wires the ingestion pipeline.
func NewRegistry(docs DocumentStore, chunks store.ChunkStore, chunker *Chunker, batcher *Batcher, dimension int, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		docs:      docs,
		chunks:    chunks,
		chunker:   chunker,
		batcher:   batcher,
		dimension: dimension,
		logger:    logger.Named("registry"),
	}
}

// Dimension returns the current store dimension, or zero when no
// embedding has been adopted yet.
func (r *Registry) Dimension() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dimension
}

func (r *Registry) adoptDimension(vectors []types.Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dimension != 0 {
		return
	}
	for _, v := range vectors {
		if len(v) > 0 {
			r.dimension = len(v)
			return
		}
	}
}

// Upload ingests one document: reads the stream, deduplicates by
// content hash within the owner scope, chunks, embeds and persists.
// Re-uploading identical bytes by the same owner returns the existing
// document without creating new chunks.
func (r *Registry) Upload(ctx context.Context, reader io.Reader, fileName, contentType, ownerID string, metadata map[string]string) (types.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return types.Document{}, NewError("reading upload stream failed", ErrorTypeValidation).
			WithOperation("upload").WithCause(err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return types.Document{}, ErrDocumentEmpty.WithOperation("upload")
	}

	hash := contentHash(content)
	if existing, ok, err := r.docs.FindByHash(ctx, ownerID, hash); err != nil {
		return types.Document{}, err
	} else if ok {
		r.logger.Info("duplicate upload, reusing indexed document",
			"file", fileName, "document_id", existing.ID)
		return existing, nil
	}

	doc := types.Document{
		ID:          uuid.NewString(),
		FileName:    fileName,
		ContentType: contentType,
		OwnerID:     ownerID,
		ContentHash: hash,
		Metadata:    metadata,
		UploadedAt:  time.Now().UTC(),
	}

	pieces := r.chunker.Split(content)
	if len(pieces) == 0 {
		return types.Document{}, ErrDocumentEmpty.WithOperation("upload")
	}
	vectors, err := r.batcher.EmbedAll(ctx, pieces)
	if err != nil {
		return types.Document{}, NewError("embedding failed", ErrorTypeCancelled).
			WithOperation("upload").WithCause(err)
	}
	r.adoptDimension(vectors)

	chunks := make([]types.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = types.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    piece,
			Embedding:  vectors[i],
			Dimension:  len(vectors[i]),
			SourceType: types.SourceTypeDocument,
		}
		doc.ChunkIDs = append(doc.ChunkIDs, chunks[i].ID)
	}
	if err := r.chunks.UpsertChunks(ctx, chunks); err != nil {
		return types.Document{}, NewError("persisting chunks failed", ErrorTypeStorage).
			WithOperation("upload").WithCause(err)
	}
	if err := r.docs.Put(ctx, doc); err != nil {
		return types.Document{}, err
	}

	r.logger.Info("document indexed",
		"file", fileName, "document_id", doc.ID, "chunks", len(chunks))
	return doc, nil
}

// Get returns a document by ID.
func (r *Registry) Get(ctx context.Context, id string) (types.Document, error) {
	doc, ok, err := r.docs.Get(ctx, id)
	if err != nil {
		return types.Document{}, err
	}
	if !ok {
		return types.Document{}, ErrDocumentNotFound.WithOperation("get").
			WithDetails(map[string]string{"document_id": id})
	}
	return doc, nil
}

// List returns every indexed document.
func (r *Registry) List(ctx context.Context) ([]types.Document, error) {
	return r.docs.List(ctx)
}

// Delete removes a document and cascades to its chunks.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.chunks.DeleteByDocument(ctx, id); err != nil {
		return NewError("deleting chunks failed", ErrorTypeStorage).
			WithOperation("delete").WithCause(err)
	}
	return r.docs.Delete(ctx, id)
}

// Stats summarizes the indexed corpus.
func (r *Registry) Stats(ctx context.Context) (types.StorageStats, error) {
	docs, err := r.docs.List(ctx)
	if err != nil {
		return types.StorageStats{}, err
	}
	total, embedded, err := r.chunks.Count(ctx)
	if err != nil {
		return types.StorageStats{}, err
	}
	stats := types.StorageStats{
		DocumentCount: len(docs),
		ChunkCount:    total,
	}
	if total > 0 {
		stats.EmbeddingCoverage = float64(embedded) / float64(total) * 100
	}
	return stats, nil
}

// RegenerateEmbeddings re-embeds every chunk whose vector is missing or
// has the wrong dimension. Chunks with valid current-dimension vectors
// are skipped, so the operation is idempotent.
func (r *Registry) RegenerateEmbeddings(ctx context.Context) (int, error) {
	all, err := r.chunks.All(ctx)
	if err != nil {
		return 0, NewError("loading chunks failed", ErrorTypeStorage).
			WithOperation("regenerate_embeddings").WithCause(err)
	}
	dim := r.Dimension()

	var stale []types.DocumentChunk
	for _, c := range all {
		if dim > 0 && c.HasValidEmbedding(dim) {
			continue
		}
		if dim == 0 && len(c.Embedding) > 0 {
			continue
		}
		stale = append(stale, c)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	texts := make([]string, len(stale))
	for i, c := range stale {
		texts[i] = c.Content
	}
	vectors, err := r.batcher.EmbedAll(ctx, texts)
	if err != nil {
		return 0, NewError("embedding failed", ErrorTypeCancelled).
			WithOperation("regenerate_embeddings").WithCause(err)
	}
	r.adoptDimension(vectors)

	updated := make([]types.DocumentChunk, 0, len(stale))
	for i, c := range stale {
		if len(vectors[i]) == 0 {
			continue
		}
		c.Embedding = vectors[i]
		c.Dimension = len(vectors[i])
		updated = append(updated, c)
	}
	if len(updated) == 0 {
		return 0, nil
	}
	if err := r.chunks.UpsertChunks(ctx, updated); err != nil {
		return 0, NewError("persisting chunks failed", ErrorTypeStorage).
			WithOperation("regenerate_embeddings").WithCause(err)
	}
	r.logger.Info("embeddings regenerated", "updated", len(updated), "skipped", len(all)-len(stale))
	return len(updated), nil
}

// ClearEmbeddings drops every vector while keeping chunk text, so a
// later regeneration can rebuild the index under a new model.
func (r *Registry) ClearEmbeddings(ctx context.Context) error {
	all, err := r.chunks.All(ctx)
	if err != nil {
		return NewError("loading chunks failed", ErrorTypeStorage).
			WithOperation("clear_embeddings").WithCause(err)
	}
	for i := range all {
		all[i].Embedding = nil
		all[i].Dimension = 0
	}
	if err := r.chunks.UpsertChunks(ctx, all); err != nil {
		return NewError("persisting chunks failed", ErrorTypeStorage).
			WithOperation("clear_embeddings").WithCause(err)
	}
	r.mu.Lock()
	r.dimension = 0
	r.mu.Unlock()
	return nil
}

// ClearDocuments removes every document and chunk.
func (r *Registry) ClearDocuments(ctx context.Context) error {
	if err := r.chunks.Clear(ctx); err != nil {
		return NewError("clearing chunks failed", ErrorTypeStorage).
			WithOperation("clear_documents").WithCause(err)
	}
	return r.docs.Clear(ctx)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
