package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/internal/rag"
	"github.com/docurag/docurag/internal/session"
	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// DocumentRetriever is the retrieval side of the engine. The hybrid
// retriever satisfies this.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) (*types.RetrievalResult, error)
}

// SQLPlanner turns a natural-language question into a statement for a
// named connection. Statement generation is pluggable; without a
// planner the database path degrades to plain chat.
type SQLPlanner interface {
	Plan(ctx context.Context, connection, query string, terms []string) (string, error)
}

// Options wires an engine. Registry, Retriever, Sessions, Generator and
// Config are required; Tools, Databases and Planner are optional.
type Options struct {
	Config    *config.Config
	Logger    hclog.Logger
	Registry  *rag.Registry
	Retriever DocumentRetriever
	Sessions  *session.Manager
	Generator provider.Generator
	Tools     ToolSource
	Databases DatabaseSource
	Planner   SQLPlanner
}

// Engine is the query and ingestion front end: it routes a query to the
// right sources, assembles context, synthesizes the answer and records
// the turn in the conversation store.
type Engine struct {
	cfg       *config.Config
	logger    hclog.Logger
	registry  *rag.Registry
	retriever DocumentRetriever
	sessions  *session.Manager
	router    *Router
	synth     *Synthesizer
	tools     ToolSource
	databases DatabaseSource
	planner   SQLPlanner

	mu              sync.Mutex
	queriesByIntent map[string]int64
}

// EngineStats combines corpus statistics with query counters.
type EngineStats struct {
	Storage         types.StorageStats `json:"storage"`
	TotalQueries    int64              `json:"total_queries"`
	QueriesByIntent map[string]int64   `json:"queries_by_intent"`
}

// NewEngine validates the wiring and builds the engine.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("engine: config is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("engine: document registry is required")
	case opts.Retriever == nil:
		return nil, fmt.Errorf("engine: retriever is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("engine: session manager is required")
	case opts.Generator == nil:
		return nil, fmt.Errorf("engine: generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("engine")

	return &Engine{
		cfg:             opts.Config,
		logger:          logger,
		registry:        opts.Registry,
		retriever:       opts.Retriever,
		sessions:        opts.Sessions,
		router:          NewRouter(opts.Tools, opts.Databases, opts.Generator, logger),
		synth:           NewSynthesizer(opts.Generator, opts.Config.Session.MaxTokens, logger),
		tools:           opts.Tools,
		databases:       opts.Databases,
		planner:         opts.Planner,
		queriesByIntent: make(map[string]int64),
	}, nil
}

// Upload ingests a document through the registry.
func (e *Engine) Upload(ctx context.Context, r io.Reader, fileName, contentType, ownerID string, metadata map[string]string) (types.Document, error) {
	return e.registry.Upload(ctx, r, fileName, contentType, ownerID, metadata)
}

// Document returns one document by id.
func (e *Engine) Document(ctx context.Context, id string) (types.Document, error) {
	return e.registry.Get(ctx, id)
}

// Documents lists the indexed documents.
func (e *Engine) Documents(ctx context.Context) ([]types.Document, error) {
	return e.registry.List(ctx)
}

// DeleteDocument removes a document with its chunks and vectors.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	return e.registry.Delete(ctx, id)
}

// RegenerateEmbeddings re-embeds every chunk missing a valid embedding.
func (e *Engine) RegenerateEmbeddings(ctx context.Context) (int, error) {
	return e.registry.RegenerateEmbeddings(ctx)
}

// ClearEmbeddings drops every stored embedding, keeping the chunks.
func (e *Engine) ClearEmbeddings(ctx context.Context) error {
	return e.registry.ClearEmbeddings(ctx)
}

// ClearDocuments wipes the indexed corpus.
func (e *Engine) ClearDocuments(ctx context.Context) error {
	return e.registry.ClearDocuments(ctx)
}

// NewSessionID mints a session identifier.
func (e *Engine) NewSessionID() string {
	return e.sessions.NewSessionID()
}

// ResetSession discards a session and returns a fresh id.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) (string, error) {
	return e.sessions.Reset(ctx, sessionID)
}

// Stats reports corpus and query statistics.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	storage, err := e.registry.Stats(ctx)
	if err != nil {
		return EngineStats{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	byIntent := make(map[string]int64, len(e.queriesByIntent))
	var total int64
	for intent, n := range e.queriesByIntent {
		byIntent[intent] = n
		total += n
	}
	return EngineStats{Storage: storage, TotalQueries: total, QueriesByIntent: byIntent}, nil
}

// QueryRequest holds the parameters of one query call. MaxResults
// falls back to the configured TopK; StartNew resets the session before
// the query is processed.
type QueryRequest struct {
	Text       string
	SessionID  string
	MaxResults int
	StartNew   bool
}

// Query answers one user query within a session. An empty SessionID
// starts a new session; session-control commands reset it and return a
// fresh id without touching retrieval.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*types.RagResponse, error) {
	query := strings.TrimSpace(req.Text)
	if query == "" {
		return nil, rag.ErrQueryEmpty.WithOperation("query")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = e.sessions.NewSessionID()
	} else if req.StartNew {
		fresh, err := e.sessions.Reset(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sessionID = fresh
	}
	topK := req.MaxResults
	if topK <= 0 {
		topK = e.cfg.Retrieval.TopK
	}

	if types.IsSessionCommand(query) {
		fresh, err := e.sessions.Reset(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		e.countQuery(IntentSessionControl)
		return &types.RagResponse{
			Query:      query,
			Answer:     "Started a new conversation.",
			SessionID:  fresh,
			Intent:     IntentSessionControl,
			SearchedAt: time.Now(),
		}, nil
	}

	hist, err := e.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	storage, err := e.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}

	route := e.router.Classify(ctx, RouteInput{
		Query:        query,
		HasDocuments: storage.DocumentCount > 0,
		LastIntent:   hist.LastIntent,
	})
	e.logger.Debug("query routed", "intent", route.Intent, "session", sessionID)

	answer, intent, err := e.answer(ctx, query, topK, route, hist)
	if err != nil {
		return nil, err
	}

	if err := e.recordTurn(ctx, sessionID, query, answer.Text, intent); err != nil {
		e.logger.Warn("recording turn failed", "session", sessionID, "error", err)
	}
	e.countQuery(intent)

	return &types.RagResponse{
		Query:      query,
		Answer:     answer.Text,
		Sources:    answer.Sources,
		SessionID:  sessionID,
		Intent:     intent,
		Extractive: answer.Extractive,
		SearchedAt: time.Now(),
	}, nil
}

// answer executes the routed path and returns the final intent, which
// can differ from the routed one when retrieval comes back empty.
func (e *Engine) answer(ctx context.Context, query string, topK int, route Route, hist session.Session) (Answer, string, error) {
	switch route.Intent {
	case IntentChat:
		text, err := e.synth.Chat(ctx, query, hist.Messages)
		return Answer{Text: text}, IntentChat, err

	case IntentDatabaseQuery:
		return e.databaseAnswer(ctx, query, route.Connection, hist)

	default:
		return e.retrievalAnswer(ctx, query, topK, route, hist)
	}
}

// retrievalAnswer serves DocumentRag, ExternalTool and Mixed intents:
// document hits above the score threshold merged with tool results.
func (e *Engine) retrievalAnswer(ctx context.Context, query string, topK int, route Route, hist session.Session) (Answer, string, error) {
	var merged []types.ScoredChunk

	if route.WithTools {
		toolChunks, err := e.tools.Search(ctx, query)
		if err != nil {
			e.logger.Warn("tool search failed", "error", err)
		}
		merged = append(merged, toolChunks...)
	}

	if route.Intent == IntentDocumentRag || route.Intent == IntentMixed {
		result, err := e.retriever.Retrieve(ctx, query, topK)
		if err != nil {
			return Answer{}, "", err
		}
		for _, c := range result.Chunks {
			if c.Score >= e.cfg.Retrieval.ScoreThreshold {
				merged = append(merged, c)
			}
		}
	}

	if len(merged) == 0 {
		// Nothing above threshold. A follow-up keeps its previous
		// intent; otherwise the query falls back to plain chat.
		if intent, ok := e.router.Continuation(query, hist.LastIntent); ok {
			if intent == IntentDatabaseQuery && e.databases != nil && e.databases.HasConnections() {
				conns := e.databases.Connections()
				return e.databaseAnswer(ctx, query, conns[0], hist)
			}
			text, err := e.synth.Chat(ctx, query, hist.Messages)
			return Answer{Text: text}, intent, err
		}
		text, err := e.synth.Chat(ctx, query, hist.Messages)
		return Answer{Text: text}, IntentChat, err
	}

	assembled := rag.AssembleContext(merged, topK, e.cfg.Retrieval.MaxContextTokens)
	contexts, err := e.resolveContexts(ctx, assembled)
	if err != nil {
		return Answer{}, "", err
	}

	answer, err := e.synth.Synthesize(ctx, query, contexts, hist.Messages)
	return answer, route.Intent, err
}

// databaseAnswer plans a statement, runs it and synthesizes over the
// result rows. Without a planner, or when planning or execution fails,
// it degrades to chat.
func (e *Engine) databaseAnswer(ctx context.Context, query, connection string, hist session.Session) (Answer, string, error) {
	if e.planner == nil {
		e.logger.Debug("no SQL planner configured, answering database query as chat")
		text, err := e.synth.Chat(ctx, query, hist.Messages)
		return Answer{Text: text}, IntentDatabaseQuery, err
	}

	stmt, err := e.planner.Plan(ctx, connection, query, e.databases.Terms(connection))
	if err == nil {
		var rows []map[string]any
		rows, err = e.databases.Query(ctx, connection, stmt)
		if err == nil {
			item := ContextItem{
				Chunk: types.ScoredChunk{
					Chunk: types.DocumentChunk{
						DocumentID: "db:" + connection,
						Content:    formatRows(rows),
						SourceType: types.SourceTypeDatabase,
					},
					Score: 1,
				},
				FileName: connection,
			}
			answer, err := e.synth.Synthesize(ctx, query, []ContextItem{item}, hist.Messages)
			return answer, IntentDatabaseQuery, err
		}
	}

	e.logger.Warn("database path failed, answering as chat", "connection", connection, "error", err)
	text, err := e.synth.Chat(ctx, query, hist.Messages)
	return Answer{Text: text}, IntentDatabaseQuery, err
}

const maxRowsInContext = 50

func formatRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return "The query returned no rows."
	}
	truncated := false
	if len(rows) > maxRowsInContext {
		rows = rows[:maxRowsInContext]
		truncated = true
	}
	var b strings.Builder
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if truncated {
		b.WriteString("(additional rows omitted)\n")
	}
	return b.String()
}

// resolveContexts attaches a display name to each assembled chunk:
// the document file name, the tool server, or the database connection.
func (e *Engine) resolveContexts(ctx context.Context, chunks []types.ScoredChunk) ([]ContextItem, error) {
	names := make(map[string]string)
	out := make([]ContextItem, 0, len(chunks))
	for _, c := range chunks {
		name, ok := names[c.Chunk.DocumentID]
		if !ok {
			name = e.displayName(ctx, c.Chunk)
			names[c.Chunk.DocumentID] = name
		}
		out = append(out, ContextItem{Chunk: c, FileName: name})
	}
	return out, nil
}

func (e *Engine) displayName(ctx context.Context, chunk types.DocumentChunk) string {
	switch chunk.SourceType {
	case types.SourceTypeExternal:
		if server := chunk.Metadata["server"]; server != "" {
			return server
		}
		return chunk.DocumentID
	case types.SourceTypeDatabase:
		return strings.TrimPrefix(chunk.DocumentID, "db:")
	default:
		doc, err := e.registry.Get(ctx, chunk.DocumentID)
		if err != nil {
			return chunk.DocumentID
		}
		return doc.FileName
	}
}

func (e *Engine) recordTurn(ctx context.Context, sessionID, query, answer, intent string) error {
	now := time.Now()
	return e.sessions.AppendTurn(ctx, sessionID,
		types.Message{Role: types.RoleUser, Content: query, Timestamp: now},
		types.Message{Role: types.RoleAssistant, Content: answer, Timestamp: now},
		intent,
	)
}

func (e *Engine) countQuery(intent string) {
	e.mu.Lock()
	e.queriesByIntent[intent]++
	e.mu.Unlock()
}
