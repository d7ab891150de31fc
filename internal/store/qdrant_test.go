package store

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/types"
)

// Point payloads are the only place chunk fields survive in Qdrant, so
// the encode/decode pair must carry everything a chunk holds besides
// its vector, metadata included.
func TestQdrantPayloadRoundTrip(t *testing.T) {
	chunk := types.DocumentChunk{
		ID:         "44444444-4444-4444-4444-444444444444",
		DocumentID: "doc-a",
		Index:      3,
		Content:    "delta",
		SourceType: types.SourceTypeExternal,
		Metadata:   map[string]string{"server": "weather-srv", "tool": "forecast"},
	}

	payload := qdrant.NewValueMap(chunkPayload(chunk, false))
	got := chunkFromPayload(qdrant.NewIDUUID(chunk.ID), payload, nil)

	assert.Equal(t, chunk.ID, got.ID)
	assert.Equal(t, chunk.DocumentID, got.DocumentID)
	assert.Equal(t, chunk.Index, got.Index)
	assert.Equal(t, chunk.Content, got.Content)
	assert.Equal(t, chunk.SourceType, got.SourceType)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, chunk.Metadata, got.Metadata)
	assert.Empty(t, got.Embedding)
}

func TestQdrantPayloadWithoutMetadata(t *testing.T) {
	chunk := types.DocumentChunk{
		ID:         "55555555-5555-5555-5555-555555555555",
		DocumentID: "doc-b",
		Content:    "epsilon",
		SourceType: types.SourceTypeDocument,
	}

	payload := chunkPayload(chunk, true)
	_, ok := payload["metadata"]
	assert.False(t, ok, "empty metadata stays out of the payload")

	got := chunkFromPayload(qdrant.NewIDUUID(chunk.ID), qdrant.NewValueMap(payload), nil)
	assert.Nil(t, got.Metadata)
}
