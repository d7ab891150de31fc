package rag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/types"
)

func newTestDocStores(t *testing.T) map[string]DocumentStore {
	t.Helper()
	fs, err := NewFileDocumentStore(filepath.Join(t.TempDir(), "documents.json"))
	require.NoError(t, err)
	return map[string]DocumentStore{
		"memory": NewMemoryDocumentStore(),
		"file":   fs,
	}
}

func TestDocumentStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestDocStores(t) {
		t.Run(name, func(t *testing.T) {
			doc := types.Document{
				ID:          "doc-1",
				FileName:    "notes.txt",
				ContentType: "text/plain",
				OwnerID:     "owner-a",
				ContentHash: "hash-1",
				UploadedAt:  time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.Put(ctx, doc))

			got, ok, err := s.Get(ctx, "doc-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, doc.FileName, got.FileName)

			list, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			byHash, ok, err := s.FindByHash(ctx, "owner-a", "hash-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "doc-1", byHash.ID)

			// Same hash under a different owner is not a duplicate.
			_, ok, err = s.FindByHash(ctx, "owner-b", "hash-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Delete(ctx, "doc-1"))
			_, ok, err = s.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileDocumentStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "documents.json")

	s, err := NewFileDocumentStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, types.Document{ID: "doc-1", FileName: "a.txt", ContentHash: "h"}))

	reopened, err := NewFileDocumentStore(path)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.txt", got.FileName)
}

func TestFileDocumentStoreKeepsUnknownFields(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "documents.json")

	// A record written by a newer version with a field this one does
	// not know about.
	seed := map[string]json.RawMessage{
		"doc-1": json.RawMessage(`{"id":"doc-1","file_name":"old.txt","content_hash":"h","uploaded_at":"2026-01-02T03:04:05Z","future_field":"keep me"}`),
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := NewFileDocumentStore(path)
	require.NoError(t, err)

	doc, ok, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	doc.FileName = "new.txt"
	require.NoError(t, s.Put(ctx, doc))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "keep me", onDisk["doc-1"]["future_field"])
	assert.Equal(t, "new.txt", onDisk["doc-1"]["file_name"])
}

func TestFileDocumentStoreCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileDocumentStore(path)
	require.Error(t, err)
}
