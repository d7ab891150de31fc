package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend stores one JSON file per session under a directory.
// Writes go through a temp file and rename so a crash never leaves a
// half-written session.
type FileBackend struct {
	mu  sync.Mutex
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, wrapErr("filesystem", "open", errors.New("file_system_dir is required"))
	}
	dir = filepath.Join(dir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("filesystem", "open", err)
	}
	return &FileBackend{dir: dir}, nil
}

// ErrInvalidSessionID rejects ids that cannot name a file inside the
// sessions directory.
var ErrInvalidSessionID = errors.New("session id must be a single path element")

// path maps a session id to its file. The id becomes part of a file
// name, so anything that could resolve outside b.dir is rejected
// before the join.
func (b *FileBackend) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." ||
		id != filepath.Base(id) || strings.ContainsAny(id, `/\`) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(b.dir, id+".json"), nil
}

func (b *FileBackend) Get(ctx context.Context, id string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, wrapErr("filesystem", "get", err)
	}
	p, err := b.path(id)
	if err != nil {
		return Session{}, false, wrapErr("filesystem", "get", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, wrapErr("filesystem", "get", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, wrapErr("filesystem", "get", err)
	}
	return s, true, nil
}

func (b *FileBackend) Put(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "put", err)
	}
	p, err := b.path(s.ID)
	if err != nil {
		return wrapErr("filesystem", "put", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return wrapErr("filesystem", "put", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return wrapErr("filesystem", "put", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return wrapErr("filesystem", "put", err)
	}
	return nil
}

func (b *FileBackend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "delete", err)
	}
	p, err := b.path(id)
	if err != nil {
		return wrapErr("filesystem", "delete", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return wrapErr("filesystem", "delete", err)
}

func (b *FileBackend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("filesystem", "clear", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return wrapErr("filesystem", "clear", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, entry.Name())); err != nil {
			return wrapErr("filesystem", "clear", err)
		}
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*RedisBackend)(nil)
	_ Backend = (*FileBackend)(nil)
)
