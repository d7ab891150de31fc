package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/types"
)

func ctxItem(docID, fileName, content string, score float32) ContextItem {
	return ContextItem{
		Chunk: types.ScoredChunk{
			Chunk: types.DocumentChunk{DocumentID: docID, Content: content},
			Score: score,
		},
		FileName: fileName,
	}
}

func TestSynthesizeResolvesCitations(t *testing.T) {
	gen := &stubGenerator{reply: "The tower was completed in 1889. [1]"}
	s := NewSynthesizer(gen, 4000, nil)

	contexts := []ContextItem{
		ctxItem("doc-a", "tower.txt", "The tower was completed in 1889.", 0.9),
		ctxItem("doc-b", "paris.txt", "Paris hosts the tower.", 0.5),
	}
	answer, err := s.Synthesize(context.Background(), "when was it completed", contexts, nil)
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "1889")
	assert.False(t, answer.Extractive)

	require.Len(t, answer.Sources, 1)
	src := answer.Sources[0]
	assert.Equal(t, "doc-a", src.DocumentID)
	assert.Equal(t, "tower.txt", src.FileName)
	assert.Equal(t, "The tower was completed in 1889.", src.RelevantContent)
	assert.False(t, src.Inferred)
}

func TestSynthesizeInferredSourcesWhenUncited(t *testing.T) {
	gen := &stubGenerator{reply: "It was completed in 1889."}
	s := NewSynthesizer(gen, 4000, nil)

	contexts := []ContextItem{
		ctxItem("doc-a", "tower.txt", "Completed in 1889.", 0.9),
		ctxItem("doc-b", "paris.txt", "Paris hosts the tower.", 0.5),
	}
	answer, err := s.Synthesize(context.Background(), "when", contexts, nil)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 2)
	for _, src := range answer.Sources {
		assert.True(t, src.Inferred)
	}
}

func TestSynthesizeCitationDedupAndRange(t *testing.T) {
	gen := &stubGenerator{reply: "See [2], again [2], and the bogus [7]."}
	s := NewSynthesizer(gen, 4000, nil)

	contexts := []ContextItem{
		ctxItem("doc-a", "a.txt", "alpha", 0.9),
		ctxItem("doc-b", "b.txt", "beta", 0.5),
	}
	answer, err := s.Synthesize(context.Background(), "q", contexts, nil)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-b", answer.Sources[0].DocumentID)
}

func TestSynthesizeExtractiveFallback(t *testing.T) {
	gen := &stubGenerator{err: errors.New("every provider failed")}
	s := NewSynthesizer(gen, 4000, nil)

	contexts := []ContextItem{
		ctxItem("doc-a", "tower.txt", "The tower was completed in 1889.", 0.9),
		ctxItem("doc-b", "paris.txt", "Paris hosts the tower.", 0.5),
	}
	answer, err := s.Synthesize(context.Background(), "when", contexts, nil)
	require.NoError(t, err, "persistent generation failure degrades, not errors")
	assert.True(t, answer.Extractive)
	assert.Equal(t, "The tower was completed in 1889.", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-a", answer.Sources[0].DocumentID)
}

func TestSynthesizeFailsWithoutContext(t *testing.T) {
	gen := &stubGenerator{err: errors.New("every provider failed")}
	s := NewSynthesizer(gen, 4000, nil)

	_, err := s.Synthesize(context.Background(), "when", nil, nil)
	require.Error(t, err)
}

func TestSynthesizePromptShape(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	s := NewSynthesizer(gen, 4000, nil)

	contexts := []ContextItem{ctxItem("doc-a", "tower.txt", "Completed in 1889.", 0.9)}
	history := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	_, err := s.Synthesize(context.Background(), "when was it completed", contexts, history)
	require.NoError(t, err)

	messages := gen.lastChat()
	require.Len(t, messages, 4)
	assert.Equal(t, types.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Answer strictly using the provided context.")
	assert.Contains(t, messages[0].Content, "If the context is insufficient, say so.")

	last := messages[len(messages)-1]
	assert.Equal(t, types.RoleUser, last.Role)
	assert.Contains(t, last.Content, "[1] (tower.txt) Completed in 1889.")
	assert.Contains(t, last.Content, "Question: when was it completed")
}

func TestSynthesizeTrimsOldestHistory(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	// 100-token messages against a 150-token budget: only the newest
	// survives.
	s := NewSynthesizer(gen, 150, nil)

	long := strings.Repeat("x", 400)
	history := []types.Message{
		{Role: types.RoleUser, Content: "oldest " + long},
		{Role: types.RoleAssistant, Content: "middle " + long},
		{Role: types.RoleUser, Content: "newest " + long},
	}
	_, err := s.Synthesize(context.Background(), "q", []ContextItem{ctxItem("d", "f", "c", 1)}, history)
	require.NoError(t, err)

	messages := gen.lastChat()
	require.Len(t, messages, 3, "system + surviving history + user")
	assert.Contains(t, messages[1].Content, "newest")
}

func TestChat(t *testing.T) {
	gen := &stubGenerator{reply: "  hello back  "}
	s := NewSynthesizer(gen, 4000, nil)

	out, err := s.Chat(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)

	gen.err = errors.New("down")
	_, err = s.Chat(context.Background(), "hello", nil)
	require.Error(t, err)
}
