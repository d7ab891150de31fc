package session

import (
	"context"
	"sync"
)

// MemoryBackend is the default, non-persistent session backend.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]Session)}
}

func (b *MemoryBackend) Get(ctx context.Context, id string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, wrapErr("memory", "get", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return Session{}, false, nil
	}
	// Copy the slice so callers can't mutate stored history in place.
	s.Messages = append(s.Messages[:0:0], s.Messages...)
	return s, true, nil
}

func (b *MemoryBackend) Put(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "put", err)
	}
	s.Messages = append(s.Messages[:0:0], s.Messages...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = s
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "delete", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("memory", "clear", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]Session)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
