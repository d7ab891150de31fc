package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/pkg/types"
)

// systemPreamble anchors every synthesis prompt. The citation
// instruction is appended so sources can be resolved from the answer
// text afterwards.
const systemPreamble = "Answer strictly using the provided context. If the context is insufficient, say so."

const citationInstruction = " Cite the context entries you used by their numeric identifiers, like [1]."

// ContextItem is one entry of the synthesis context: a scored chunk
// plus the file name it resolves to for attribution.
type ContextItem struct {
	Chunk    types.ScoredChunk
	FileName string
}

// Answer is the synthesizer's output.
type Answer struct {
	Text       string
	Sources    []types.SearchSource
	Extractive bool
}

// Synthesizer turns a query plus retrieved context into a grounded
// answer with source attribution.
type Synthesizer struct {
	generator        provider.Generator
	maxHistoryTokens int
	logger           hclog.Logger
}

// NewSynthesizer builds a synthesizer. maxHistoryTokens bounds how much
// session history enters the prompt; zero or negative means no history.
func NewSynthesizer(generator provider.Generator, maxHistoryTokens int, logger hclog.Logger) *Synthesizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Synthesizer{
		generator:        generator,
		maxHistoryTokens: maxHistoryTokens,
		logger:           logger.Named("synthesizer"),
	}
}

// Synthesize generates an answer grounded in the given context. When
// the LLM fails after the caller's retries and fallbacks, it degrades
// to the top-scoring chunk verbatim instead of returning an error.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, contexts []ContextItem, history []types.Message) (Answer, error) {
	messages := make([]types.Message, 0, len(history)+2)
	messages = append(messages, types.Message{
		Role:    types.RoleSystem,
		Content: systemPreamble + citationInstruction,
	})
	messages = append(messages, trimHistory(history, s.maxHistoryTokens)...)
	messages = append(messages, types.Message{
		Role:    types.RoleUser,
		Content: buildUserPrompt(query, contexts),
	})

	out, err := s.generator.GenerateChat(ctx, messages)
	if err != nil {
		if len(contexts) == 0 {
			return Answer{}, fmt.Errorf("synthesize: %w", err)
		}
		s.logger.Warn("generation failed, returning extractive answer", "error", err)
		top := contexts[0]
		return Answer{
			Text:       top.Chunk.Chunk.Content,
			Sources:    []types.SearchSource{sourceFor(top, false)},
			Extractive: true,
		}, nil
	}

	sources := citedSources(out, contexts)
	if len(sources) == 0 && len(contexts) > 0 {
		for _, item := range contexts {
			sources = append(sources, sourceFor(item, true))
		}
	}
	return Answer{Text: strings.TrimSpace(out), Sources: sources}, nil
}

// Chat answers without retrieved context, using only the conversation.
func (s *Synthesizer) Chat(ctx context.Context, query string, history []types.Message) (string, error) {
	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, trimHistory(history, s.maxHistoryTokens)...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: query})
	out, err := s.generator.GenerateChat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func buildUserPrompt(query string, contexts []ContextItem) string {
	if len(contexts) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, item := range contexts {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, item.FileName, item.Chunk.Chunk.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// citedSources resolves [n] identifiers in the answer to sources, in
// first-citation order, each context at most once. Identifiers outside
// the context range are ignored.
func citedSources(answer string, contexts []ContextItem) []types.SearchSource {
	var sources []types.SearchSource
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(contexts) || seen[n] {
			continue
		}
		seen[n] = true
		sources = append(sources, sourceFor(contexts[n-1], false))
	}
	return sources
}

func sourceFor(item ContextItem, inferred bool) types.SearchSource {
	return types.SearchSource{
		DocumentID:      item.Chunk.Chunk.DocumentID,
		FileName:        item.FileName,
		RelevantContent: item.Chunk.Chunk.Content,
		RelevanceScore:  item.Chunk.Score,
		Inferred:        inferred,
	}
}

// trimHistory drops the oldest messages until the remainder fits the
// token budget.
func trimHistory(history []types.Message, budget int) []types.Message {
	if budget <= 0 {
		return nil
	}
	total := 0
	for _, m := range history {
		total += types.EstimateTokens(m.Content)
	}
	start := 0
	for start < len(history) && total > budget {
		total -= types.EstimateTokens(history[start].Content)
		start++
	}
	return history[start:]
}
