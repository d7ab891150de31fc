// Package mcp connects the engine to external MCP tool servers over
// HTTP or WebSocket. Discovered tools are cached with a TTL, matched to
// queries by keyword scoring, and invoked in parallel; their results
// come back as pseudo-chunks that merge into retrieval context.
package mcp

import (
	"context"
)

// Tool is one capability advertised by a server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text concatenates the textual blocks of a result.
func (r *ToolResult) Text() string {
	out := ""
	for _, c := range r.Content {
		if c.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

// Client is one connection to a tool server.
type Client interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args any) (*ToolResult, error)
	IsConnected() bool
	Close() error
}
