package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docurag/docurag/internal/agent"
)

// handleCommand executes local prompt commands. It returns false for
// input that should be routed to the engine, including the
// session-control commands.
func handleCommand(ctx context.Context, engine *agent.Engine, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		showCommands()
		return true, nil
	case "/stats":
		return true, showStats(ctx, engine)
	case "/docs":
		return true, showDocuments(ctx, engine)
	case "/upload":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /upload <path>")
		}
		return true, uploadFile(ctx, engine, strings.Join(fields[1:], " "))
	case "/reembed":
		n, err := engine.RegenerateEmbeddings(ctx)
		if err == nil {
			fmt.Printf("re-embedded %d chunks\n", n)
		}
		return true, err
	}
	return false, nil
}

func showCommands() {
	fmt.Println("  /new, /reset, /clear  start a fresh conversation")
	fmt.Println("  /upload <path>        ingest a document")
	fmt.Println("  /docs                 list indexed documents")
	fmt.Println("  /stats                corpus and query statistics")
	fmt.Println("  /reembed              regenerate missing embeddings")
	fmt.Println("  /quit                 leave")
}

func showStats(ctx context.Context, engine *agent.Engine) error {
	stats, err := engine.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d  chunks: %d  embedding coverage: %.1f%%\n",
		stats.Storage.DocumentCount, stats.Storage.ChunkCount, stats.Storage.EmbeddingCoverage)
	fmt.Printf("queries: %d\n", stats.TotalQueries)
	intents := make([]string, 0, len(stats.QueriesByIntent))
	for intent := range stats.QueriesByIntent {
		intents = append(intents, intent)
	}
	sort.Strings(intents)
	for _, intent := range intents {
		fmt.Printf("  %s: %d\n", intent, stats.QueriesByIntent[intent])
	}
	return nil
}

func showDocuments(ctx context.Context, engine *agent.Engine) error {
	docs, err := engine.Documents(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no documents indexed")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("  %s  %s  (%d chunks)\n", doc.ID, doc.FileName, len(doc.ChunkIDs))
	}
	return nil
}

func uploadFile(ctx context.Context, engine *agent.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc, err := engine.Upload(ctx, f, filepath.Base(path), contentType, "", nil)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %s as %s (%d chunks)\n", doc.FileName, doc.ID, len(doc.ChunkIDs))
	return nil
}
