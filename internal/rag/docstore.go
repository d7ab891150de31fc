package rag

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/docurag/docurag/pkg/types"
)

// DocumentStore persists document records. Chunk payloads live in the
// chunk store; this holds the registry's metadata (filename, owner,
// content hash, chunk IDs).
type DocumentStore interface {
	Put(ctx context.Context, doc types.Document) error
	Get(ctx context.Context, id string) (types.Document, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]types.Document, error)
	FindByHash(ctx context.Context, ownerID, contentHash string) (types.Document, bool, error)
	Clear(ctx context.Context) error
}

// MemoryDocumentStore is the default, non-persistent document store.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]types.Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]types.Document)}
}

func (s *MemoryDocumentStore) Put(ctx context.Context, doc types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, id string) (types.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok, nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *MemoryDocumentStore) List(ctx context.Context) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryDocumentStore) FindByHash(ctx context.Context, ownerID, contentHash string) (types.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.OwnerID == ownerID && d.ContentHash == contentHash {
			return d, true, nil
		}
	}
	return types.Document{}, false, nil
}

func (s *MemoryDocumentStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]types.Document)
	return nil
}

// FileDocumentStore persists document records as one JSON object per
// document in a single file. Records are kept as raw JSON and only the
// known fields are overlaid on update, so fields written by a newer
// version survive read-write round-trips.
type FileDocumentStore struct {
	mu   sync.Mutex
	path string
	raw  map[string]json.RawMessage
}

func NewFileDocumentStore(path string) (*FileDocumentStore, error) {
	s := &FileDocumentStore{path: path, raw: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, ErrDocumentNotFound.WithOperation("open_document_store").WithCause(err)
	}
	if err := json.Unmarshal(data, &s.raw); err != nil {
		return nil, NewError("document store file is corrupted", ErrorTypeStorage).
			WithOperation("open_document_store").WithCause(err)
	}
	return s, nil
}

func (s *FileDocumentStore) Put(ctx context.Context, doc types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]any)
	if prev, ok := s.raw[doc.ID]; ok {
		if err := json.Unmarshal(prev, &merged); err != nil {
			merged = make(map[string]any)
		}
	}
	known, err := json.Marshal(doc)
	if err != nil {
		return NewError("document serialization failed", ErrorTypeStorage).WithCause(err)
	}
	var knownFields map[string]any
	if err := json.Unmarshal(known, &knownFields); err != nil {
		return NewError("document serialization failed", ErrorTypeStorage).WithCause(err)
	}
	for k, v := range knownFields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return NewError("document serialization failed", ErrorTypeStorage).WithCause(err)
	}
	s.raw[doc.ID] = raw
	return s.flush()
}

func (s *FileDocumentStore) Get(ctx context.Context, id string) (types.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raw[id]
	if !ok {
		return types.Document{}, false, nil
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.Document{}, false, NewError("document record is corrupted", ErrorTypeStorage).WithCause(err)
	}
	return doc, true, nil
}

func (s *FileDocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raw, id)
	return s.flush()
}

func (s *FileDocumentStore) List(ctx context.Context) ([]types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Document, 0, len(s.raw))
	for _, raw := range s.raw {
		var doc types.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, NewError("document record is corrupted", ErrorTypeStorage).WithCause(err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *FileDocumentStore) FindByHash(ctx context.Context, ownerID, contentHash string) (types.Document, bool, error) {
	docs, err := s.List(ctx)
	if err != nil {
		return types.Document{}, false, err
	}
	for _, d := range docs {
		if d.OwnerID == ownerID && d.ContentHash == contentHash {
			return d, true, nil
		}
	}
	return types.Document{}, false, nil
}

func (s *FileDocumentStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = make(map[string]json.RawMessage)
	return s.flush()
}

// flush writes atomically via temp file and rename. Callers hold s.mu.
func (s *FileDocumentStore) flush() error {
	data, err := json.Marshal(s.raw)
	if err != nil {
		return NewError("document store serialization failed", ErrorTypeStorage).WithCause(err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return NewError("document store write failed", ErrorTypeStorage).WithCause(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return NewError("document store write failed", ErrorTypeStorage).WithCause(err)
	}
	return nil
}

var (
	_ DocumentStore = (*MemoryDocumentStore)(nil)
	_ DocumentStore = (*FileDocumentStore)(nil)
)
