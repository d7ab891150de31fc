// Package dbquery manages the relational databases available to the
// query router. Each connection carries a set of schema terms (the
// configured ones plus discovered table and column names); a query
// mentioning one of those terms routes to the database path. Executing
// generated SQL is intentionally out of scope here: the package exposes
// the connections and a row-map query helper.
package dbquery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hashicorp/go-hclog"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/docurag/docurag/pkg/config"
)

const defaultRefreshInterval = 60 * time.Minute

// Connection is one registered database.
type Connection struct {
	Name   string
	Driver string
	db     *sqlx.DB

	mu    sync.RWMutex
	terms map[string]bool
}

// Registry holds the configured connections and their schema terms.
type Registry struct {
	cfg    config.DatabaseConfig
	logger hclog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	order []string

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry opens every configured connection and, when enabled, runs
// the initial schema analysis. A connection that cannot be opened fails
// construction; a schema analysis failure only logs.
func NewRegistry(ctx context.Context, cfg config.DatabaseConfig, logger hclog.Logger) (*Registry, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Registry{
		cfg:    cfg,
		logger: logger.Named("dbquery"),
		conns:  make(map[string]*Connection),
		stop:   make(chan struct{}),
	}

	for _, cc := range cfg.Connections {
		db, err := sqlx.Open(cc.Driver, cc.DSN)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("dbquery open %s: %w", cc.Name, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			r.Close()
			return nil, fmt.Errorf("dbquery ping %s: %w", cc.Name, err)
		}
		conn := &Connection{Name: cc.Name, Driver: cc.Driver, db: db, terms: make(map[string]bool)}
		for _, term := range cc.SchemaTerms {
			conn.terms[strings.ToLower(term)] = true
		}
		r.conns[cc.Name] = conn
		r.order = append(r.order, cc.Name)
	}

	if cfg.EnableAutoSchemaAnalysis {
		r.refreshAll(ctx)
	}
	if cfg.EnablePeriodicSchemaRefresh && len(r.conns) > 0 {
		go r.refreshLoop()
	}
	return r, nil
}

// HasConnections reports whether any database is registered.
func (r *Registry) HasConnections() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) > 0
}

// Connections returns the registered names in configuration order.
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Terms returns the schema terms of a connection, sorted.
func (r *Registry) Terms(name string) []string {
	r.mu.RLock()
	conn, ok := r.conns[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	out := make([]string, 0, len(conn.terms))
	for term := range conn.terms {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// Match returns the first connection (in configuration order) whose
// schema terms appear in the query, and whether one matched.
func (r *Registry) Match(query string) (string, bool) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		conn := r.conns[name]
		conn.mu.RLock()
		hit := false
		for _, tok := range tokens {
			if conn.terms[tok] {
				hit = true
				break
			}
		}
		conn.mu.RUnlock()
		if hit {
			return name, true
		}
	}
	return "", false
}

// Query runs a statement on a connection and returns generic row maps.
func (r *Registry) Query(ctx context.Context, name, stmt string, args ...any) ([]map[string]any, error) {
	r.mu.RLock()
	conn, ok := r.conns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dbquery: unknown connection %q", name)
	}

	rows, err := conn.db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("dbquery %s: %w", name, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("dbquery %s: %w", name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Refresh re-runs schema analysis on every connection.
func (r *Registry) Refresh(ctx context.Context) {
	r.refreshAll(ctx)
}

// Close stops the refresh loop and closes every connection.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, conn := range r.conns {
		if err := conn.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.conns = make(map[string]*Connection)
	r.order = nil
	return firstErr
}

func (r *Registry) refreshLoop() {
	interval := time.Duration(r.cfg.DefaultSchemaRefreshIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			r.refreshAll(ctx)
			cancel()
		}
	}
}

func (r *Registry) refreshAll(ctx context.Context) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, name := range r.order {
		conns = append(conns, r.conns[name])
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		discovered, err := introspect(ctx, conn.db, conn.Driver)
		if err != nil {
			r.logger.Warn("schema analysis failed", "connection", conn.Name, "error", err)
			continue
		}
		conn.mu.Lock()
		for _, term := range discovered {
			conn.terms[term] = true
		}
		count := len(conn.terms)
		conn.mu.Unlock()
		r.logger.Debug("schema analyzed", "connection", conn.Name, "terms", count)
	}
}

// introspect lists table and column names in lower case.
func introspect(ctx context.Context, db *sqlx.DB, driver string) ([]string, error) {
	var stmt string
	switch driver {
	case "sqlite", "sqlite3":
		stmt = `SELECT m.name AS tbl, p.name AS col
			FROM sqlite_master m
			JOIN pragma_table_info(m.name) p
			WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'`
	case "postgres", "pgx":
		stmt = `SELECT table_name AS tbl, column_name AS col
			FROM information_schema.columns
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`
	case "mysql":
		stmt = `SELECT table_name AS tbl, column_name AS col
			FROM information_schema.columns
			WHERE table_schema = DATABASE()`
	default:
		return nil, fmt.Errorf("schema analysis not supported for driver %q", driver)
	}

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var tbl, col string
		if err := rows.Scan(&tbl, &col); err != nil {
			return nil, err
		}
		for _, term := range []string{strings.ToLower(tbl), strings.ToLower(col)} {
			if term != "" && !seen[term] {
				seen[term] = true
				out = append(out, term)
			}
		}
	}
	return out, rows.Err()
}

func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	var out []string
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
