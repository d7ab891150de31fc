// Package agent orchestrates a query end to end: the router decides
// which sources a query should hit, the synthesizer turns retrieved
// context into a cited answer, and the engine wires both to the
// document registry, retrieval engine, conversation store, external
// tools and databases.
package agent

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/pkg/types"
)

// Intent values produced by the router.
const (
	IntentChat           = "Chat"
	IntentDocumentRag    = "DocumentRag"
	IntentDatabaseQuery  = "DatabaseQuery"
	IntentExternalTool   = "ExternalTool"
	IntentMixed          = "Mixed"
	IntentSessionControl = "SessionControl"
)

// ToolSource is the external-tool side of routing. The tool manager
// satisfies this.
type ToolSource interface {
	Matches(ctx context.Context, query string) bool
	Search(ctx context.Context, query string) ([]types.ScoredChunk, error)
}

// DatabaseSource is the relational side of routing. The database
// registry satisfies this.
type DatabaseSource interface {
	HasConnections() bool
	Connections() []string
	Terms(name string) []string
	Match(query string) (string, bool)
	Query(ctx context.Context, name, stmt string, args ...any) ([]map[string]any, error)
}

// RouteInput is what the router gets to look at.
type RouteInput struct {
	Query        string
	HasDocuments bool
	LastIntent   string
}

// Route is the router's decision. Connection is set for database
// intents; WithTools marks that tool results should be merged into the
// context.
type Route struct {
	Intent     string
	Connection string
	WithTools  bool
}

// Router classifies queries. Deterministic rules run first; the LLM is
// consulted only when a query is genuinely ambiguous between chat and a
// configured database.
type Router struct {
	tools     ToolSource
	databases DatabaseSource
	generator provider.Generator
	logger    hclog.Logger
}

// NewRouter builds a router. tools and databases may be nil when the
// corresponding source is not configured.
func NewRouter(tools ToolSource, databases DatabaseSource, generator provider.Generator, logger hclog.Logger) *Router {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Router{
		tools:     tools,
		databases: databases,
		generator: generator,
		logger:    logger.Named("router"),
	}
}

// Classify applies the routing rules in order. Session-control commands
// never reach the router; the engine intercepts them.
func (r *Router) Classify(ctx context.Context, in RouteInput) Route {
	query := strings.TrimSpace(in.Query)
	hasDB := r.databases != nil && r.databases.HasConnections()
	toolHit := r.tools != nil && r.tools.Matches(ctx, query)

	if !in.HasDocuments && !hasDB {
		if toolHit {
			return Route{Intent: IntentExternalTool, WithTools: true}
		}
		return Route{Intent: IntentChat}
	}

	if hasDB {
		if name, ok := r.databases.Match(query); ok {
			return Route{Intent: IntentDatabaseQuery, Connection: name}
		}
	}

	if toolHit {
		if in.HasDocuments {
			return Route{Intent: IntentMixed, WithTools: true}
		}
		return Route{Intent: IntentExternalTool, WithTools: true}
	}

	if in.HasDocuments {
		return Route{Intent: IntentDocumentRag}
	}

	// Databases are configured but no schema term matched and there is
	// nothing indexed to retrieve from: ask the LLM whether this is a
	// data question or plain conversation.
	return r.classifyAmbiguous(ctx, query)
}

const classifyPrompt = `Classify the user query into exactly one category.
Categories: Chat (general conversation), DatabaseQuery (asks about data stored in a relational database).
Reply with the single category word and nothing else.

Query: `

func (r *Router) classifyAmbiguous(ctx context.Context, query string) Route {
	out, err := r.generator.GenerateText(ctx, classifyPrompt+query)
	if err != nil {
		r.logger.Warn("intent classification failed, defaulting to chat", "error", err)
		return Route{Intent: IntentChat}
	}
	if strings.Contains(strings.ToLower(out), "databasequery") {
		conns := r.databases.Connections()
		if len(conns) > 0 {
			return Route{Intent: IntentDatabaseQuery, Connection: conns[0]}
		}
	}
	return Route{Intent: IntentChat}
}

// continuationWords are pronouns that signal a follow-up referring to
// the previous turn.
var continuationWords = map[string]bool{
	"it": true, "its": true, "that": true, "this": true,
	"they": true, "them": true, "those": true, "these": true,
	"their": true, "he": true, "she": true, "him": true, "her": true,
}

// looksLikeContinuation reports whether a query reads like a follow-up:
// a short utterance or one leaning on pronoun references.
func looksLikeContinuation(query string) bool {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return false
	}
	if len(fields) <= 4 {
		return true
	}
	for _, f := range fields {
		if continuationWords[strings.Trim(f, ".,!?")] {
			return true
		}
	}
	return false
}

// Continuation resolves a below-threshold retrieval against the session
// history: when the query looks like a follow-up and the previous turn
// had a non-chat intent, the previous intent carries over.
func (r *Router) Continuation(query, lastIntent string) (string, bool) {
	if lastIntent == "" || lastIntent == IntentChat || lastIntent == IntentSessionControl {
		return "", false
	}
	if !looksLikeContinuation(query) {
		return "", false
	}
	return lastIntent, true
}
