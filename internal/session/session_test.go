package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

func newTestBackends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	file, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rb, err := NewRedisBackend(context.Background(), config.StorageConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)

	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
		"file":   file,
		"redis":  rb,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func userMsg(content string) types.Message {
	return types.Message{Role: types.RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func assistantMsg(content string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			s := Session{
				ID:         "s1",
				Messages:   []types.Message{userMsg("hello"), assistantMsg("hi")},
				LastIntent: "Chat",
				CreatedAt:  time.Now().UTC().Truncate(time.Second),
				UpdatedAt:  time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, b.Put(ctx, s))

			got, ok, err := b.Get(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Chat", got.LastIntent)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "hello", got.Messages[0].Content)

			require.NoError(t, b.Delete(ctx, "s1"))
			_, ok, err = b.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting a missing session is a no-op.
			require.NoError(t, b.Delete(ctx, "s1"))

			require.NoError(t, b.Put(ctx, s))
			require.NoError(t, b.Clear(ctx))
			_, ok, err = b.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestManagerAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(), config.SessionConfig{MaxTurns: 20, MaxTokens: 4000}, nil)

	id := m.NewSessionID()
	require.NoError(t, m.AppendTurn(ctx, id, userMsg("when was it built"), assistantMsg("in 1889"), "DocumentRag"))
	require.NoError(t, m.AppendTurn(ctx, id, userMsg("how tall"), assistantMsg("300 meters"), "DocumentRag"))

	s, err := m.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)
	assert.Equal(t, "when was it built", s.Messages[0].Content)
	assert.Equal(t, "300 meters", s.Messages[3].Content)
	assert.Equal(t, "DocumentRag", s.LastIntent)
}

func TestManagerPrunesOldestTurnsFirst(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(), config.SessionConfig{MaxTurns: 2}, nil)

	id := "s1"
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendTurn(ctx, id,
			userMsg(fmt.Sprintf("q%d", i)), assistantMsg(fmt.Sprintf("a%d", i)), ""))
	}

	s, err := m.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)
	assert.Equal(t, "q3", s.Messages[0].Content)
	assert.Equal(t, "a4", s.Messages[3].Content)
}

func TestManagerPrunesByTokenBudget(t *testing.T) {
	ctx := context.Background()
	// ~100 tokens per message pair; budget fits roughly two turns.
	m := NewManager(NewMemoryBackend(), config.SessionConfig{MaxTurns: 100, MaxTokens: 220}, nil)

	long := strings.Repeat("x", 400)
	id := "s1"
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AppendTurn(ctx, id, userMsg(fmt.Sprintf("q%d", i)), assistantMsg(long), ""))
	}

	s, err := m.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, turnCount(s.Messages))
	assert.Equal(t, "q2", s.Messages[0].Content)
}

func TestManagerKeepsLatestTurnOverBudget(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(), config.SessionConfig{MaxTokens: 10}, nil)

	require.NoError(t, m.AppendTurn(ctx, "s1", userMsg(strings.Repeat("q", 200)), assistantMsg(strings.Repeat("a", 200)), ""))
	s, err := m.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 2, "the only turn survives even over budget")
}

func TestManagerReset(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(), config.SessionConfig{}, nil)

	require.NoError(t, m.AppendTurn(ctx, "s1", userMsg("hello"), assistantMsg("hi"), "Chat"))

	fresh, err := m.Reset(ctx, "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, "s1", fresh)

	old, err := m.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, old.Messages)
}

func TestManagerConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryBackend(), config.SessionConfig{MaxTurns: 100}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.AppendTurn(ctx, "shared", userMsg(fmt.Sprintf("q%d", i)), assistantMsg("a"), "")
		}(i)
	}
	wg.Wait()

	s, err := m.History(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 20, "turns never interleave or get lost")
}

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, Session{ID: "s1", Messages: []types.Message{userMsg("hello")}}))

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestFileBackendRejectsPathEscapingIDs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "store")

	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	escaping := filepath.Join("..", "..", "escaped")
	for _, id := range []string{escaping, "a/b", `a\b`, "..", ".", ""} {
		err := b.Put(ctx, Session{ID: id, Messages: []types.Message{userMsg("x")}})
		require.Error(t, err, "id %q", id)
		assert.True(t, errors.Is(err, ErrInvalidSessionID), "id %q", id)

		_, ok, err := b.Get(ctx, id)
		require.Error(t, err, "id %q", id)
		assert.False(t, ok)

		require.Error(t, b.Delete(ctx, id), "id %q", id)
	}

	// Nothing may land outside the sessions directory.
	_, err = os.Stat(filepath.Join(root, "escaped.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "escaped.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Ordinary ids still work.
	require.NoError(t, b.Put(ctx, Session{ID: "plain-id", Messages: []types.Message{userMsg("ok")}}))
	_, ok, err := b.Get(ctx, "plain-id")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRejectsQdrant(t *testing.T) {
	cfg := config.Default()
	cfg.ConversationStorageProvider = config.StorageQdrant
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}
