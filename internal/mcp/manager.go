package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultCacheTTL = 5 * time.Minute
	// maxParallelCalls bounds concurrent tool invocations per query.
	maxParallelCalls = 3
	// maxToolsPerQuery caps how many matched tools one query fans out to.
	maxToolsPerQuery    = 3
	healthCheckInterval = 60 * time.Second
)

// Manager owns the tool server fleet: it builds clients from config,
// keeps them connected, matches queries to tools and fans invocations
// out in parallel. Tool results surface as externally sourced
// pseudo-chunks so the synthesizer treats them like retrieved context.
type Manager struct {
	registry *Registry
	logger   hclog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
}

// NewManager builds a manager from the tool configuration. Servers with
// transport "websocket" get a WebSocket client, everything else HTTP.
func NewManager(cfg config.MCPConfig, logger hclog.Logger) (*Manager, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ttl := time.Duration(cfg.CacheTTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	registry := NewRegistry(ttl)
	for _, server := range cfg.Servers {
		var client Client
		if server.Transport == "websocket" {
			client = NewWebSocketClient(server)
		} else {
			client = NewHTTPClient(server)
		}
		if err := registry.Register(server, client); err != nil {
			return nil, err
		}
	}
	return &Manager{registry: registry, logger: logger.Named("mcp")}, nil
}

// Start connects all servers and begins the reconnect loop. Individual
// connection failures are logged, not fatal: a server that comes up
// later is picked up by the health check.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if len(m.registry.Servers()) == 0 {
		return ErrNoServers
	}

	if err := m.registry.InitializeAll(ctx); err != nil {
		m.logger.Warn("some tool servers failed to connect", "error", err)
	}
	m.stop = make(chan struct{})
	m.started = true
	go m.healthCheckLoop()
	return nil
}

// Stop disconnects every server.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stop)
	m.started = false
	return m.registry.CloseAll()
}

// Matches reports whether any known tool scores against the query. The
// router uses this to decide if the external-tool path applies.
func (m *Manager) Matches(ctx context.Context, query string) bool {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return false
	}
	return len(m.registry.Match(ctx, query)) > 0
}

// Search invokes the best-matching tools in parallel and converts their
// results to pseudo-chunks. Failed invocations are logged and skipped;
// an empty result is not an error. Tool chunks carry a fixed score of 1
// so they rank alongside the strongest retrieved chunks.
func (m *Manager) Search(ctx context.Context, query string) ([]types.ScoredChunk, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil, nil
	}

	candidates := m.registry.Match(ctx, query)
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > maxToolsPerQuery {
		candidates = candidates[:maxToolsPerQuery]
	}

	results := make([]*ToolResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCalls)
	for i, cand := range candidates {
		g.Go(func() error {
			client, ok := m.registry.Client(cand.Server)
			if !ok {
				return nil
			}
			result, err := client.CallTool(gctx, cand.Tool.Name, map[string]any{"query": query})
			if err != nil {
				m.logger.Warn("tool call failed",
					"server", cand.Server, "tool", cand.Tool.Name, "error", err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("search", "manager", err)
	}

	var chunks []types.ScoredChunk
	for i, result := range results {
		if result == nil || result.IsError {
			continue
		}
		text := result.Text()
		if text == "" {
			continue
		}
		chunks = append(chunks, types.ScoredChunk{
			Chunk: types.DocumentChunk{
				ID:         uuid.NewString(),
				DocumentID: "tool:" + candidates[i].Server,
				Content:    text,
				SourceType: types.SourceTypeExternal,
				Metadata: map[string]string{
					"server": candidates[i].Server,
					"tool":   candidates[i].Tool.Name,
				},
			},
			Score: 1,
		})
	}
	m.logger.Debug("tool search complete",
		"candidates", len(candidates), "results", len(chunks))
	return chunks, nil
}

// Status reports connectivity per server.
func (m *Manager) Status() map[string]bool {
	return m.registry.Status()
}

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reconnectDisconnected()
		}
	}
}

func (m *Manager) reconnectDisconnected() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for name, connected := range m.registry.Status() {
		if connected {
			continue
		}
		client, ok := m.registry.Client(name)
		if !ok {
			continue
		}
		if err := client.Initialize(ctx); err != nil {
			m.logger.Debug("tool server still unreachable", "server", name, "error", err)
			continue
		}
		m.registry.Invalidate(name)
		m.logger.Info("tool server reconnected", "server", name)
	}
}
