package store

import (
	"context"
	"errors"
	"sync"

	"github.com/docurag/docurag/pkg/types"
)

var errStoreClosed = errors.New("store is closed")

// MemoryStore keeps chunks in a map guarded by a RWMutex. It is the
// default backend and the reference for the deterministic search
// contract the persistent backends must match.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]types.DocumentChunk
	byDoc  map[string]map[string]struct{}
	closed bool
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]types.DocumentChunk),
		byDoc:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "upsert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("memory", "upsert", errStoreClosed)
	}
	for _, c := range chunks {
		if old, ok := s.chunks[c.ID]; ok && old.DocumentID != c.DocumentID {
			delete(s.byDoc[old.DocumentID], c.ID)
		}
		s.chunks[c.ID] = c
		if s.byDoc[c.DocumentID] == nil {
			s.byDoc[c.DocumentID] = make(map[string]struct{})
		}
		s.byDoc[c.DocumentID][c.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "delete_by_document", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("memory", "delete_by_document", errStoreClosed)
	}
	for id := range s.byDoc[documentID] {
		delete(s.chunks, id)
	}
	delete(s.byDoc, documentID)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("memory", "search", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapErr("memory", "search", errStoreClosed)
	}
	all := make([]types.DocumentChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		all = append(all, c)
	}
	return scanSearch(all, query, topK, minScore), nil
}

func (s *MemoryStore) GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("memory", "get_chunks", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapErr("memory", "get_chunks", errStoreClosed)
	}
	out := make([]types.DocumentChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]types.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("memory", "all", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapErr("memory", "all", errStoreClosed)
	}
	out := make([]types.DocumentChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, wrapErr("memory", "count", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, wrapErr("memory", "count", errStoreClosed)
	}
	embedded := 0
	for _, c := range s.chunks {
		if len(c.Embedding) > 0 {
			embedded++
		}
	}
	return len(s.chunks), embedded, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "clear", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("memory", "clear", errStoreClosed)
	}
	s.chunks = make(map[string]types.DocumentChunk)
	s.byDoc = make(map[string]map[string]struct{})
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
