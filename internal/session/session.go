// Package session stores conversation history per session with bounded
// growth: history is pruned oldest-first against configured turn and
// token budgets, and every mutation on a session is serialized by a
// per-session lock so a turn is appended and pruned atomically.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// Session is one conversation: its messages in chronological order plus
// the intent of the most recent routed turn, which the router uses to
// resolve follow-up questions.
type Session struct {
	ID         string          `json:"id"`
	Messages   []types.Message `json:"messages"`
	LastIntent string          `json:"last_intent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Backend persists sessions. Implementations do not need to be
// transactional; the Manager serializes access per session.
type Backend interface {
	Get(ctx context.Context, id string) (Session, bool, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// Error wraps a backend failure with its origin.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// Manager is the conversation store: it owns per-session locks,
// pruning and session identity on top of a Backend.
type Manager struct {
	backend Backend
	cfg     config.SessionConfig
	logger  hclog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wraps a backend with turn/token budget enforcement.
func NewManager(backend Backend, cfg config.SessionConfig, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		backend: backend,
		cfg:     cfg,
		logger:  logger.Named("session"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// NewSessionID mints a fresh session identifier.
func (m *Manager) NewSessionID() string {
	return uuid.NewString()
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// AppendTurn records one completed exchange and the intent that served
// it, pruning the session to its budgets before persisting. The append
// and the prune are one atomic update: concurrent appends to the same
// session never interleave or observe an unpruned state.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, user, assistant types.Message, intent string) error {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, ok, err := m.backend.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !ok {
		s = Session{ID: sessionID, CreatedAt: now}
	}
	s.Messages = append(s.Messages, user, assistant)
	if intent != "" {
		s.LastIntent = intent
	}
	s.UpdatedAt = now

	if dropped := m.prune(&s); dropped > 0 {
		m.logger.Debug("pruned session history",
			"session_id", sessionID, "dropped_messages", dropped)
	}
	return m.backend.Put(ctx, s)
}

// History returns the session, or a zero-valued one when it does not
// exist yet.
func (m *Manager) History(ctx context.Context, sessionID string) (Session, error) {
	s, ok, err := m.backend.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{ID: sessionID}, nil
	}
	return s, nil
}

// Reset discards the session's history and returns a fresh session ID.
// The old ID is never reused.
func (m *Manager) Reset(ctx context.Context, sessionID string) (string, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	if err := m.backend.Delete(ctx, sessionID); err != nil {
		l.Unlock()
		return "", err
	}
	l.Unlock()

	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()

	fresh := m.NewSessionID()
	m.logger.Info("session reset", "old_session_id", sessionID, "new_session_id", fresh)
	return fresh, nil
}

// Clear removes every session.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.locks = make(map[string]*sync.Mutex)
	m.mu.Unlock()
	return m.backend.Clear(ctx)
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// prune drops whole turns from the front until the session fits both
// budgets. The most recent turn is always kept, even when it alone
// exceeds the token budget. Returns the number of dropped messages.
func (m *Manager) prune(s *Session) int {
	dropped := 0
	if m.cfg.MaxTurns > 0 {
		for turnCount(s.Messages) > m.cfg.MaxTurns {
			n := oldestTurnLen(s.Messages)
			s.Messages = s.Messages[n:]
			dropped += n
		}
	}
	if m.cfg.MaxTokens > 0 {
		for historyTokens(s.Messages) > m.cfg.MaxTokens && turnCount(s.Messages) > 1 {
			n := oldestTurnLen(s.Messages)
			s.Messages = s.Messages[n:]
			dropped += n
		}
	}
	return dropped
}

// turnCount counts user messages; each one opens a turn.
func turnCount(msgs []types.Message) int {
	n := 0
	for _, msg := range msgs {
		if msg.Role == types.RoleUser {
			n++
		}
	}
	return n
}

// oldestTurnLen is the number of leading messages forming the first
// turn: everything up to (excluding) the second user message.
func oldestTurnLen(msgs []types.Message) int {
	seenUser := false
	for i, msg := range msgs {
		if msg.Role != types.RoleUser {
			continue
		}
		if seenUser {
			return i
		}
		seenUser = true
	}
	return len(msgs)
}

func historyTokens(msgs []types.Message) int {
	total := 0
	for _, msg := range msgs {
		total += types.EstimateTokens(msg.Content)
	}
	return total
}

// New builds the configured conversation backend. The conversation
// store falls back to the chunk storage provider when no dedicated one
// is configured; Qdrant is rejected because a vector index cannot hold
// ordered history.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	name := cfg.ConversationStorageProvider
	if name == "" {
		name = cfg.StorageProvider
	}
	switch name {
	case config.StorageInMemory:
		return NewMemoryBackend(), nil
	case config.StorageSQLite:
		return NewSQLiteBackend(cfg.Storage.SQLitePath)
	case config.StorageRedis:
		return NewRedisBackend(ctx, cfg.Storage)
	case config.StorageFileSystem:
		return NewFileBackend(cfg.Storage.FileSystemDir)
	case config.StorageQdrant:
		return nil, wrapErr("qdrant", "open",
			fmt.Errorf("conversation storage does not support Qdrant"))
	}
	return nil, wrapErr(name, "open", fmt.Errorf("unknown storage provider"))
}
