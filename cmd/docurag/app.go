package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/agent"
	"github.com/docurag/docurag/internal/dbquery"
	"github.com/docurag/docurag/internal/mcp"
	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/internal/rag"
	"github.com/docurag/docurag/internal/session"
	"github.com/docurag/docurag/internal/store"
	"github.com/docurag/docurag/internal/watcher"
	"github.com/docurag/docurag/pkg/config"
)

// App owns the engine and every long-lived component behind it.
type App struct {
	cfg         *config.Config
	logger      hclog.Logger
	engine      *agent.Engine
	sessions    *session.Manager
	chunks      store.ChunkStore
	tools       *mcp.Manager
	databases   *dbquery.Registry
	watch       *watcher.Watcher
	interactive bool
}

// NewApp wires the engine from configuration.
func NewApp(ctx context.Context, cfg *config.Config, logger hclog.Logger, interactive bool) (*App, error) {
	caller, err := provider.NewCallerFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	chunks, err := store.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}

	docs, err := documentStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	providerCfg := cfg.Provider(cfg.AIProvider)
	cache := rag.NewEmbeddingCache(cfg.Embedding.CacheSize)
	batcher := rag.NewBatcher(caller, cache, providerCfg.EmbeddingModel, cfg.Embedding, logger)
	chunker := rag.NewChunker(cfg.Chunking)
	registry := rag.NewRegistry(docs, chunks, chunker, batcher, cfg.Storage.Dimension, logger)
	retriever := rag.NewRetriever(caller, chunks, cfg.Retrieval, logger)

	backend, err := session.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	sessions := session.NewManager(backend, cfg.Session, logger)

	app := &App{
		cfg:         cfg,
		logger:      logger,
		sessions:    sessions,
		chunks:      chunks,
		interactive: interactive,
	}

	opts := agent.Options{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Retriever: retriever,
		Sessions:  sessions,
		Generator: caller,
	}

	if cfg.MCP.Enable && len(cfg.MCP.Servers) > 0 {
		tools, err := mcp.NewManager(cfg.MCP, logger)
		if err != nil {
			return nil, fmt.Errorf("tool manager: %w", err)
		}
		app.tools = tools
		opts.Tools = tools
	}

	if len(cfg.Databases.Connections) > 0 {
		databases, err := dbquery.NewRegistry(ctx, cfg.Databases, logger)
		if err != nil {
			return nil, fmt.Errorf("databases: %w", err)
		}
		app.databases = databases
		opts.Databases = databases
	}

	engine, err := agent.NewEngine(opts)
	if err != nil {
		return nil, err
	}
	app.engine = engine

	if cfg.Watcher.Enable {
		w, err := watcher.New(cfg.Watcher, registry, logger)
		if err != nil {
			return nil, fmt.Errorf("watcher: %w", err)
		}
		app.watch = w
	}

	return app, nil
}

// Run starts the background components and either enters the prompt or
// waits for shutdown.
func (app *App) Run(ctx context.Context) error {
	if app.tools != nil {
		if err := app.tools.Start(ctx); err != nil {
			app.logger.Warn("tool manager unavailable", "error", err)
		}
	}
	if app.watch != nil {
		if err := app.watch.Start(ctx); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
	}

	if app.interactive {
		return runInteractive(ctx, app.engine)
	}
	<-ctx.Done()
	return nil
}

// Close releases every component. Safe after a partial startup.
func (app *App) Close() {
	if app.watch != nil {
		app.watch.Stop()
	}
	if app.tools != nil {
		app.tools.Stop()
	}
	if app.databases != nil {
		app.databases.Close()
	}
	if app.sessions != nil {
		app.sessions.Close()
	}
	if app.chunks != nil {
		app.chunks.Close()
	}
}

// documentStore picks the document metadata backend: file-backed when a
// filesystem directory is configured, in-memory otherwise.
func documentStore(cfg *config.Config) (rag.DocumentStore, error) {
	if cfg.StorageProvider == config.StorageFileSystem || cfg.Storage.FileSystemDir != "" {
		dir := cfg.Storage.FileSystemDir
		if dir == "" {
			dir = "."
		}
		return rag.NewFileDocumentStore(filepath.Join(dir, "documents.json"))
	}
	return rag.NewMemoryDocumentStore(), nil
}
