package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/docurag/docurag/pkg/types"
)

const sqliteChunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB,
	dimension   INTEGER NOT NULL DEFAULT 0,
	source_type TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// SQLiteStore persists chunks in a single SQLite database file via the
// cgo-free modernc driver. Similarity search loads candidate vectors
// and scans them in memory; at the corpus sizes a single-file database
// serves, the scan is cheaper than maintaining an ANN index.
type SQLiteStore struct {
	db *sqlx.DB
}

type sqliteChunkRow struct {
	ID         string `db:"id"`
	DocumentID string `db:"document_id"`
	Idx        int    `db:"idx"`
	Content    string `db:"content"`
	Embedding  []byte `db:"embedding"`
	Dimension  int    `db:"dimension"`
	SourceType string `db:"source_type"`
	Metadata   string `db:"metadata"`
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, wrapErr("sqlite", "open", errors.New("sqlite_path is required"))
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wrapErr("sqlite", "open", err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteChunkSchema); err != nil {
		db.Close()
		return nil, wrapErr("sqlite", "migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("sqlite", "upsert", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO chunks (id, document_id, idx, content, embedding, dimension, source_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			idx         = excluded.idx,
			content     = excluded.content,
			embedding   = excluded.embedding,
			dimension   = excluded.dimension,
			source_type = excluded.source_type,
			metadata    = excluded.metadata`
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return wrapErr("sqlite", "upsert", err)
		}
		if _, err := tx.ExecContext(ctx, q,
			c.ID, c.DocumentID, c.Index, c.Content,
			encodeVector(c.Embedding), len(c.Embedding), c.SourceType, string(meta)); err != nil {
			return wrapErr("sqlite", "upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("sqlite", "upsert", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return wrapErr("sqlite", "delete_by_document", err)
}

func (s *SQLiteStore) Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return scanSearch(all, query, topK, minScore), nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT * FROM chunks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, wrapErr("sqlite", "get_chunks", err)
	}
	var rows []sqliteChunkRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, wrapErr("sqlite", "get_chunks", err)
	}

	byID := make(map[string]types.DocumentChunk, len(rows))
	for _, r := range rows {
		c, err := r.toChunk()
		if err != nil {
			return nil, wrapErr("sqlite", "get_chunks", err)
		}
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

func (s *SQLiteStore) All(ctx context.Context) ([]types.DocumentChunk, error) {
	var rows []sqliteChunkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM chunks ORDER BY document_id, idx`); err != nil {
		return nil, wrapErr("sqlite", "all", err)
	}
	out := make([]types.DocumentChunk, 0, len(rows))
	for _, r := range rows {
		c, err := r.toChunk()
		if err != nil {
			return nil, wrapErr("sqlite", "all", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, int, error) {
	var total, embedded int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM chunks`); err != nil {
		return 0, 0, wrapErr("sqlite", "count", err)
	}
	err := s.db.GetContext(ctx, &embedded,
		`SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL AND dimension > 0`)
	if err != nil {
		return 0, 0, wrapErr("sqlite", "count", err)
	}
	return total, embedded, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	return wrapErr("sqlite", "clear", err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r sqliteChunkRow) toChunk() (types.DocumentChunk, error) {
	var meta map[string]string
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return types.DocumentChunk{}, err
		}
	}
	return types.DocumentChunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Index:      r.Idx,
		Content:    r.Content,
		Embedding:  decodeVector(r.Embedding),
		Dimension:  r.Dimension,
		SourceType: r.SourceType,
		Metadata:   meta,
	}, nil
}

// encodeVector packs a vector as little-endian float32s. Nil and empty
// vectors encode as NULL so coverage queries can distinguish them.
func encodeVector(v types.Vector) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) types.Vector {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make(types.Vector, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

var (
	_ ChunkStore = (*SQLiteStore)(nil)
	_ ChunkStore = (*MemoryStore)(nil)
)
