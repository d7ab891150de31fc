package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docurag/docurag/internal/agent"
)

// runInteractive is the read-eval-print loop. Session-control commands
// (/new, /reset, /clear) go through the engine like any query; local
// commands are handled in commands.go.
func runInteractive(ctx context.Context, engine *agent.Engine) error {
	fmt.Printf("%s v%s. Ask a question, /help for commands, /quit to leave.\n\n", appName, appVersion)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sessionID := ""

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if handled, err := handleCommand(ctx, engine, line); handled {
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}

		resp, err := engine.Query(ctx, agent.QueryRequest{Text: line, SessionID: sessionID})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		sessionID = resp.SessionID

		fmt.Println()
		fmt.Println(resp.Answer)
		if resp.Extractive {
			fmt.Println("(verbatim excerpt: answer generation was unavailable)")
		}
		for _, src := range resp.Sources {
			marker := ""
			if src.Inferred {
				marker = " (inferred)"
			}
			fmt.Printf("  source: %s%s\n", src.FileName, marker)
		}
		fmt.Println()
	}
}
