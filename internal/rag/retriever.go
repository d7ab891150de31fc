package rag

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/internal/store"
	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// candidatePoolFloor is the minimum Stage A candidate pool. Pulling
// more candidates than the final K gives the lexical stage enough
// material to reorder.
const candidatePoolFloor = 50

// Retriever is the two-stage hybrid scorer: semantic top-K' by cosine
// similarity from the chunk store, a lexical pass over those
// candidates, then weighted fusion.
type Retriever struct {
	embedder provider.Embedder
	chunks   store.ChunkStore
	cfg      config.RetrievalConfig
	logger   hclog.Logger
}

// NewRetriever builds the retrieval engine.
func NewRetriever(embedder provider.Embedder, chunks store.ChunkStore, cfg config.RetrievalConfig, logger hclog.Logger) *Retriever {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Retriever{
		embedder: embedder,
		chunks:   chunks,
		cfg:      cfg,
		logger:   logger.Named("retriever"),
	}
}

// Retrieve returns the fused top-K chunks for a query. Scores are in
// [0,1], ordered non-increasing with ties broken by (document ID,
// chunk index) ascending. The score threshold is not applied here: the
// router decides what "above threshold" means for intent fallback.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (*types.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryEmpty.WithOperation("retrieve")
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if topK <= 0 {
		return nil, ErrInvalidTopK.WithOperation("retrieve")
	}

	embedStart := time.Now()
	queryVec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, NewError("query embedding failed", ErrorTypeEmbedding).
			WithOperation("retrieve").WithCause(err)
	}
	embedElapsed := time.Since(embedStart)

	if err := ctx.Err(); err != nil {
		return nil, NewError("retrieval cancelled", ErrorTypeCancelled).
			WithOperation("retrieve").WithCause(err)
	}

	searchStart := time.Now()
	poolSize := topK
	if poolSize < candidatePoolFloor {
		poolSize = candidatePoolFloor
	}
	hits, err := r.chunks.Search(ctx, queryVec, poolSize, 0)
	if err != nil {
		return nil, NewError("similarity search failed", ErrorTypeStorage).
			WithOperation("retrieve").WithCause(err)
	}

	scored := fuseScores(query, hits, r.cfg.SemanticWeight, r.cfg.LexicalWeight)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	searchElapsed := time.Since(searchStart)

	if err := ctx.Err(); err != nil {
		return nil, NewError("retrieval cancelled", ErrorTypeCancelled).
			WithOperation("retrieve").WithCause(err)
	}

	r.logger.Debug("retrieval complete",
		"candidates", len(hits), "returned", len(scored),
		"embed_ms", embedElapsed.Milliseconds(), "search_ms", searchElapsed.Milliseconds())

	return &types.RetrievalResult{
		Query:         query,
		Chunks:        scored,
		EmbeddingTime: embedElapsed.Milliseconds(),
		SearchTime:    searchElapsed.Milliseconds(),
	}, nil
}

// fuseScores combines semantic and lexical scores. Cosine similarity
// is clamped to [0,1]; text embeddings rarely go negative and a
// negative similarity carries no ranking information here. The lexical
// score is already in [0,1].
func fuseScores(query string, hits []store.SearchHit, semanticWeight, lexicalWeight float32) []types.ScoredChunk {
	lexical := lexicalScores(query, hits)
	out := make([]types.ScoredChunk, 0, len(hits))
	for i, h := range hits {
		sem := clamp01(h.Score)
		lex := lexical[i]
		out = append(out, types.ScoredChunk{
			Chunk:         h.Chunk,
			Score:         semanticWeight*sem + lexicalWeight*lex,
			SemanticScore: sem,
			LexicalScore:  lex,
		})
	}
	sortScored(out)
	return out
}

// lexicalScores computes a keyword score per candidate: case-folded
// token overlap weighted by inverse document frequency approximated
// over the candidate pool, plus a contiguous-phrase bonus for
// multi-word queries.
func lexicalScores(query string, hits []store.SearchHit) []float32 {
	scores := make([]float32, len(hits))
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(hits) == 0 {
		return scores
	}

	docTokens := make([]map[string]bool, len(hits))
	for i, h := range hits {
		docTokens[i] = tokenSet(h.Chunk.Content)
	}

	// Document frequency per query token, over the retrieved pool.
	idf := make(map[string]float64, len(queryTokens))
	var idfSum float64
	n := float64(len(hits))
	for _, tok := range queryTokens {
		if _, seen := idf[tok]; seen {
			continue
		}
		df := 0
		for i := range hits {
			if docTokens[i][tok] {
				df++
			}
		}
		w := math.Log(1 + n/(1+float64(df)))
		idf[tok] = w
		idfSum += w
	}
	if idfSum == 0 {
		return scores
	}

	phrase := strings.ToLower(strings.TrimSpace(query))
	multiWord := len(queryTokens) > 1

	for i, h := range hits {
		var overlap float64
		for tok, w := range idf {
			if docTokens[i][tok] {
				overlap += w
			}
		}
		score := overlap / idfSum
		if multiWord && strings.Contains(strings.ToLower(h.Chunk.Content), phrase) {
			score += 0.25
		}
		if score > 1 {
			score = 1
		}
		scores[i] = float32(score)
	}
	return scores
}

// AssembleContext selects the chunks that go into the prompt. When a
// single document would contribute at least half of k its tail is
// dropped, and documents are interleaved in first-appearance order to
// diversify sources while keeping score order within each document.
// The result is truncated to the token budget; maxTokens <= 0 means
// unbounded.
func AssembleContext(chunks []types.ScoredChunk, k, maxTokens int) []types.ScoredChunk {
	if len(chunks) == 0 {
		return nil
	}
	if k <= 0 {
		k = len(chunks)
	}
	perDocCap := (k + 1) / 2

	// Group by document, preserving score order within each group.
	// docOrder follows first appearance, which is score order of each
	// document's best chunk.
	var docOrder []string
	grouped := make(map[string][]types.ScoredChunk)
	for _, c := range chunks {
		id := c.Chunk.DocumentID
		if _, ok := grouped[id]; !ok {
			docOrder = append(docOrder, id)
		}
		grouped[id] = append(grouped[id], c)
	}

	if len(docOrder) > 1 {
		for id, group := range grouped {
			if len(group) >= perDocCap {
				grouped[id] = group[:perDocCap]
			}
		}
	}

	var out []types.ScoredChunk
	budget := maxTokens
	for round := 0; len(out) < k; round++ {
		took := false
		for _, id := range docOrder {
			group := grouped[id]
			if round >= len(group) || len(out) >= k {
				continue
			}
			c := group[round]
			cost := types.EstimateTokens(c.Chunk.Content)
			if maxTokens > 0 && budget < cost && len(out) > 0 {
				return out
			}
			out = append(out, c)
			budget -= cost
			took = true
		}
		if !took {
			break
		}
	}
	return out
}

func sortScored(chunks []types.ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		return scoredLess(chunks[i], chunks[j])
	})
}

// scoredLess orders by fused score descending, then (document ID,
// chunk index) ascending so equal scores rank deterministically.
func scoredLess(a, b types.ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	}
	return a.Chunk.Index < b.Chunk.Index
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text) {
		set[tok] = true
	}
	return set
}
