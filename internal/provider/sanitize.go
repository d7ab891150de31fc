package provider

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Embedding backends reject or mangle inputs containing NUL bytes, long
// filler-dot runs from PDF tables of contents, or stray control
// characters. sanitizeEmbedInput normalizes those away before the text
// is sent; generation prompts are passed through untouched.

const maxEmbedInputLen = 8000

var (
	dotRunRe     = regexp.MustCompile(`\.{3,}`)
	whitespaceRe = regexp.MustCompile(`[ \t]{2,}`)
)

func sanitizeEmbedInput(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = dotRunRe.ReplaceAllString(text, "...")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	text = whitespaceRe.ReplaceAllString(b.String(), " ")
	text = strings.TrimSpace(text)

	if len(text) > maxEmbedInputLen {
		// Avoid splitting a UTF-8 sequence at the cut point.
		cut := maxEmbedInputLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// splitEmbedBatch sanitizes every element and keeps only the entries
// that still carry text, recording their original positions. Inputs
// that sanitize to the empty string are rejected by the embedding
// APIs, so adapters skip them and leave an empty vector at that
// position instead of failing the whole batch.
func splitEmbedBatch(texts []string) (clean []string, pos []int) {
	for i, t := range texts {
		if s := sanitizeEmbedInput(t); s != "" {
			clean = append(clean, s)
			pos = append(pos, i)
		}
	}
	return clean, pos
}
