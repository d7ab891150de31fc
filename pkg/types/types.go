// Package types holds the data structures shared across the engine's
// modules: documents and chunks, conversation messages, retrieval
// results and query responses.
//
// Keeping these in pkg/types avoids import cycles between the storage,
// retrieval and orchestration layers, and gives external callers a
// single import for the engine's wire-level shapes.
package types

import (
	"time"
)

// Vector is a dense embedding. All similarity math in the engine
// assumes float32 components.
type Vector []float32

// Document is an ingested source file. Documents are immutable after
// creation except for Metadata; deleting a document cascades to its
// chunks and vectors.
type Document struct {
	ID          string            `json:"id"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	OwnerID     string            `json:"owner_id,omitempty"`
	ContentHash string            `json:"content_hash"`
	RawContent  string            `json:"raw_content,omitempty"`
	ChunkIDs    []string          `json:"chunk_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

// DocumentChunk is a bounded segment of a document together with its
// embedding. Chunks reference their document weakly by ID; the document
// registry is the single resolver.
type DocumentChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Index      int               `json:"index"`
	Content    string            `json:"content"`
	Embedding  Vector            `json:"embedding,omitempty"`
	Dimension  int               `json:"dimension,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HasValidEmbedding reports whether the chunk carries an embedding of
// the given store dimension. A mismatched dimension counts as missing
// and should trigger re-embedding.
func (c *DocumentChunk) HasValidEmbedding(storeDim int) bool {
	return len(c.Embedding) > 0 && len(c.Embedding) == storeDim
}

// SourceType values for retrieved chunks.
const (
	SourceTypeDocument = "Document"
	SourceTypeExternal = "External"
	SourceTypeDatabase = "Database"
)

// ScoredChunk is one retrieval hit: a chunk reference plus its fused
// score and the components that produced it.
type ScoredChunk struct {
	Chunk         DocumentChunk `json:"chunk"`
	Score         float32       `json:"score"`
	SemanticScore float32       `json:"semantic_score"`
	LexicalScore  float32       `json:"lexical_score"`
}

// RetrievalResult is an ordered list of scored chunks. The engine
// guarantees scores are monotonically non-increasing, ties broken by
// (documentID, chunk index) ascending.
type RetrievalResult struct {
	Query         string        `json:"query"`
	Chunks        []ScoredChunk `json:"chunks"`
	EmbeddingTime int64         `json:"embedding_time_ms"`
	SearchTime    int64         `json:"search_time_ms"`
}

// SearchSource attributes part of an answer to a document chunk.
type SearchSource struct {
	DocumentID      string  `json:"document_id"`
	FileName        string  `json:"file_name"`
	RelevantContent string  `json:"relevant_content"`
	RelevanceScore  float32 `json:"relevance_score"`
	Inferred        bool    `json:"inferred,omitempty"`
}

// RagResponse is the user-visible result of a query. It either carries
// an answer with its sources or the query failed with a categorized
// error; a partially-constructed response is never returned.
type RagResponse struct {
	Query      string         `json:"query"`
	Answer     string         `json:"answer"`
	Sources    []SearchSource `json:"sources,omitempty"`
	SessionID  string         `json:"session_id"`
	Intent     string         `json:"intent,omitempty"`
	Extractive bool           `json:"extractive,omitempty"`
	SearchedAt time.Time      `json:"searched_at"`
}

// StorageStats summarizes the indexed corpus.
type StorageStats struct {
	DocumentCount     int     `json:"document_count"`
	ChunkCount        int     `json:"chunk_count"`
	EmbeddingCoverage float64 `json:"embedding_coverage_percent"`
}
