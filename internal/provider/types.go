// Package provider adapts the supported AI backends (OpenAI, Azure
// OpenAI, Anthropic, Gemini and OpenAI-compatible custom endpoints) to
// a uniform text-generation and embedding interface, and wraps them in
// a resilient caller that applies retry policies, provider fallback and
// per-provider request pacing.
package provider

import (
	"context"
	"time"

	"github.com/docurag/docurag/pkg/types"
)

// Kind identifies a backend family.
type Kind string

const (
	OpenAI      Kind = "OpenAI"
	Anthropic   Kind = "Anthropic"
	Gemini      Kind = "Gemini"
	AzureOpenAI Kind = "AzureOpenAI"
	Custom      Kind = "Custom"
)

// Adapter is the uniform surface over one backend. Implementations are
// safe for concurrent use; all methods honor context cancellation.
//
// EmbedBatch preserves positional correspondence: result[i] is the
// embedding of texts[i], and the slice lengths always match on success.
type Adapter interface {
	Kind() Kind

	// GenerateText produces a completion for a single prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateChat produces a completion for a multi-turn conversation.
	GenerateChat(ctx context.Context, messages []types.Message) (string, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) (types.Vector, error)

	// EmbedBatch embeds texts in one provider call where the backend
	// supports it, splitting into sub-batches when it enforces a cap.
	EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error)

	// MaxEmbedBatch is the largest batch the backend accepts per
	// embedding request, or 0 for no limit.
	MaxEmbedBatch() int

	// EmbedMinInterval is the backend-mandated minimum spacing between
	// embedding requests, or 0 when the backend imposes none. The
	// resilient caller uses the larger of this and the configured
	// per-provider interval.
	EmbedMinInterval() time.Duration
}

// Generator is the subset of Adapter the synthesizer and router need.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateChat(ctx context.Context, messages []types.Message) (string, error)
}

// Embedder is the subset of Adapter the batcher and retriever need.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) (types.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error)
}
