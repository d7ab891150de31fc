package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/docurag/docurag/pkg/config"
)

// serverEntry is one registered server with its cached tool list.
type serverEntry struct {
	name     string
	client   Client
	keywords []string

	mu        sync.Mutex
	tools     []Tool
	fetchedAt time.Time
}

// Registry tracks tool servers and their discovered tools. Tool lists
// are cached per server and refetched after the TTL expires, so routine
// queries never wait on discovery.
type Registry struct {
	ttl time.Duration

	mu      sync.RWMutex
	servers map[string]*serverEntry
	order   []string
}

// NewRegistry builds an empty registry with the given tool cache TTL.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, servers: make(map[string]*serverEntry)}
}

// Register adds a server. Registering a duplicate name is an error.
func (r *Registry) Register(cfg config.MCPServerConfig, client Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[cfg.Name]; exists {
		return wrapErr("register", cfg.Name, fmt.Errorf("server already registered"))
	}
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	r.servers[cfg.Name] = &serverEntry{name: cfg.Name, client: client, keywords: keywords}
	r.order = append(r.order, cfg.Name)
	return nil
}

// Servers returns the registered server names in registration order.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Client returns the client for a server.
func (r *Registry) Client(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[name]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// Status reports connectivity per server.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := make(map[string]bool, len(r.servers))
	for name, entry := range r.servers {
		status[name] = entry.client.IsConnected()
	}
	return status
}

// InitializeAll connects every server. Servers that fail stay
// registered disconnected; the first error is returned after all
// attempts.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*serverEntry, 0, len(r.servers))
	for _, name := range r.order {
		entries = append(entries, r.servers[name])
	}
	r.mu.RUnlock()

	var firstErr error
	for _, entry := range entries {
		if err := entry.client.Initialize(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseAll closes every client.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, entry := range r.servers {
		if err := entry.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tools returns the server's tools, serving from cache within the TTL.
func (r *Registry) Tools(ctx context.Context, server string) ([]Tool, error) {
	r.mu.RLock()
	entry, ok := r.servers[server]
	r.mu.RUnlock()
	if !ok {
		return nil, wrapErr("tools", server, fmt.Errorf("server not registered"))
	}
	return entry.toolsCached(ctx, r.ttl)
}

func (e *serverEntry) toolsCached(ctx context.Context, ttl time.Duration) ([]Tool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tools != nil && time.Since(e.fetchedAt) < ttl {
		return append([]Tool(nil), e.tools...), nil
	}
	tools, err := e.client.ListTools(ctx)
	if err != nil {
		// Serve a stale list over nothing when discovery fails.
		if e.tools != nil {
			return append([]Tool(nil), e.tools...), nil
		}
		return nil, err
	}
	e.tools = tools
	e.fetchedAt = time.Now()
	return append([]Tool(nil), tools...), nil
}

// Invalidate drops the cached tool list of a server.
func (r *Registry) Invalidate(server string) {
	r.mu.RLock()
	entry, ok := r.servers[server]
	r.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.tools = nil
	entry.fetchedAt = time.Time{}
	entry.mu.Unlock()
}

// Candidate is a tool matched to a query.
type Candidate struct {
	Server string
	Tool   Tool
	Score  int
}

// Match scores every known tool against the query: one point per query
// token appearing in the tool name, description or the server's
// configured keywords. Results come back sorted by score descending,
// ties broken by (server, tool name) so selection is deterministic.
func (r *Registry) Match(ctx context.Context, query string) []Candidate {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	r.mu.RLock()
	entries := make([]*serverEntry, 0, len(r.servers))
	for _, name := range r.order {
		entries = append(entries, r.servers[name])
	}
	r.mu.RUnlock()

	var out []Candidate
	for _, entry := range entries {
		tools, err := entry.toolsCached(ctx, r.ttl)
		if err != nil {
			continue
		}
		for _, tool := range tools {
			score := scoreTool(tokens, entry.keywords, tool)
			if score > 0 {
				out = append(out, Candidate{Server: entry.name, Tool: tool, Score: score})
			}
		}
	}
	sortCandidates(out)
	return out
}

func scoreTool(tokens, serverKeywords []string, tool Tool) int {
	name := strings.ToLower(tool.Name)
	desc := strings.ToLower(tool.Description)
	score := 0
	for _, tok := range tokens {
		switch {
		case strings.Contains(name, tok):
			score += 2
		case containsKeyword(serverKeywords, tok):
			score += 2
		case strings.Contains(desc, tok):
			score++
		}
	}
	return score
}

func containsKeyword(keywords []string, tok string) bool {
	for _, k := range keywords {
		if strings.Contains(k, tok) || strings.Contains(tok, k) {
			return true
		}
	}
	return false
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool { return candidateLess(cs[i], cs[j]) })
}

func candidateLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Server != b.Server {
		return a.Server < b.Server
	}
	return a.Tool.Name < b.Tool.Name
}

func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
