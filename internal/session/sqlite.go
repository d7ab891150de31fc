package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteBackend persists sessions as JSON rows. It can share a database
// file with the SQLite chunk store; the tables do not overlap.
type SQLiteBackend struct {
	db *sqlx.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, wrapErr("sqlite", "open", errors.New("sqlite_path is required"))
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wrapErr("sqlite", "open", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSessionSchema); err != nil {
		db.Close()
		return nil, wrapErr("sqlite", "migrate", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (Session, bool, error) {
	var payload string
	err := b.db.GetContext(ctx, &payload, `SELECT payload FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, wrapErr("sqlite", "get", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Session{}, false, wrapErr("sqlite", "get", err)
	}
	return s, true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return wrapErr("sqlite", "put", err)
	}
	_, err = b.db.ExecContext(ctx, `INSERT INTO sessions (id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.ID, string(payload), s.UpdatedAt.Format(time.RFC3339Nano))
	return wrapErr("sqlite", "put", err)
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return wrapErr("sqlite", "delete", err)
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM sessions`)
	return wrapErr("sqlite", "clear", err)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
