package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docurag/docurag/pkg/types"
)

// FileSystemStore persists one JSON file per document under a base
// directory. Writes go through a temp file and rename, so a crash never
// leaves a half-written document behind. Document IDs are UUIDs, which
// keeps the derived file names path-safe.
type FileSystemStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileSystemStore creates the base directory if needed.
func NewFileSystemStore(dir string) (*FileSystemStore, error) {
	if dir == "" {
		return nil, wrapErr("filesystem", "open", errors.New("file_system_dir is required"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("filesystem", "open", err)
	}
	return &FileSystemStore{dir: dir}, nil
}

func (s *FileSystemStore) docPath(documentID string) string {
	return filepath.Join(s.dir, documentID+".json")
}

func (s *FileSystemStore) UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "upsert", err)
	}
	byDoc := make(map[string][]types.DocumentChunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, incoming := range byDoc {
		existing, err := s.readDoc(docID)
		if err != nil {
			return err
		}
		merged := make(map[string]types.DocumentChunk, len(existing)+len(incoming))
		for _, c := range existing {
			merged[c.ID] = c
		}
		for _, c := range incoming {
			merged[c.ID] = c
		}
		out := make([]types.DocumentChunk, 0, len(merged))
		for _, c := range merged {
			out = append(out, c)
		}
		if err := s.writeDoc(docID, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSystemStore) readDoc(documentID string) ([]types.DocumentChunk, error) {
	data, err := os.ReadFile(s.docPath(documentID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("filesystem", "read", err)
	}
	var chunks []types.DocumentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, wrapErr("filesystem", "read", err)
	}
	return chunks, nil
}

func (s *FileSystemStore) writeDoc(documentID string, chunks []types.DocumentChunk) error {
	data, err := json.Marshal(chunks)
	if err != nil {
		return wrapErr("filesystem", "write", err)
	}
	tmp, err := os.CreateTemp(s.dir, documentID+".tmp-*")
	if err != nil {
		return wrapErr("filesystem", "write", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return wrapErr("filesystem", "write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return wrapErr("filesystem", "write", err)
	}
	if err := os.Rename(tmp.Name(), s.docPath(documentID)); err != nil {
		os.Remove(tmp.Name())
		return wrapErr("filesystem", "write", err)
	}
	return nil
}

func (s *FileSystemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "delete_by_document", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.docPath(documentID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapErr("filesystem", "delete_by_document", err)
	}
	return nil
}

func (s *FileSystemStore) Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return scanSearch(all, query, topK, minScore), nil
}

func (s *FileSystemStore) GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.DocumentChunk, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	out := make([]types.DocumentChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FileSystemStore) All(ctx context.Context) ([]types.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("filesystem", "all", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrapErr("filesystem", "all", err)
	}
	var out []types.DocumentChunk
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		chunks, err := s.readDoc(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func (s *FileSystemStore) Count(ctx context.Context) (int, int, error) {
	all, err := s.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	embedded := 0
	for _, c := range all {
		if len(c.Embedding) > 0 {
			embedded++
		}
	}
	return len(all), embedded, nil
}

func (s *FileSystemStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "clear", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return wrapErr("filesystem", "clear", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return wrapErr("filesystem", "clear", err)
		}
	}
	return nil
}

func (s *FileSystemStore) Close() error { return nil }

var _ ChunkStore = (*FileSystemStore)(nil)
