package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/docurag/docurag/pkg/config"
)

// Chunker splits document text into sentence-aligned chunks with a
// character-tail overlap between consecutive chunks. Splitting is fully
// deterministic: the same text and parameters produce byte-identical
// chunks, which keeps content-hash deduplication and re-ingestion
// stable.
type Chunker struct {
	maxSize int
	minSize int
	overlap int
}

var sentenceDelimRe = regexp.MustCompile(`[.!?]+\s+`)

// NewChunker builds a chunker from validated chunking options.
func NewChunker(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{
		maxSize: cfg.MaxChunkSize,
		minSize: cfg.MinChunkSize,
		overlap: cfg.ChunkOverlap,
	}
}

// Split breaks text into chunks. Sentences are accumulated greedily; a
// chunk is emitted when the next sentence would push the buffer past
// the maximum size, so a chunk may exceed it by at most one sentence
// tail when the buffer is still under the minimum size. The trailing
// buffer is emitted even below the minimum (last-chunk exception).
func (c *Chunker) Split(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var buf strings.Builder
	fresh := true // buffer holds only overlap carried from the previous chunk

	emit := func() {
		chunk := finishChunk(buf.String())
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		buf.Reset()
		if tail := overlapTail(chunk, c.overlap); tail != "" {
			buf.WriteString(tail)
		}
		fresh = true
	}

	for _, sentence := range sentences {
		projected := buf.Len() + len(sentence)
		if buf.Len() > 0 {
			projected++ // joining space
		}
		if !fresh && projected > c.maxSize && buf.Len() >= c.minSize {
			emit()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(sentence)
		fresh = false
	}
	if !fresh {
		if chunk := finishChunk(buf.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// splitSentences cuts on runs of sentence terminators followed by
// whitespace, keeping the terminators attached to their sentence.
func splitSentences(text string) []string {
	parts := sentenceDelimRe.Split(text, -1)
	delims := sentenceDelimRe.FindAllString(text, -1)

	var sentences []string
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i < len(delims) {
			part += strings.TrimSpace(delims[i])
		}
		sentences = append(sentences, part)
	}
	return sentences
}

// finishChunk trims the chunk and guarantees terminal punctuation.
func finishChunk(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s[len(s)-1:], ".!?") {
		s += "."
	}
	return s
}

// overlapTail returns the last n bytes of s, extended backwards to a
// rune boundary so the overlap never starts mid-character.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start > 0 && !utf8.RuneStart(s[start]) {
		start--
	}
	return s[start:]
}
