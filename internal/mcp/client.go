package mcp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	mcpgolang "github.com/metoro-io/mcp-golang"
	mcphttp "github.com/metoro-io/mcp-golang/transport/http"

	"github.com/docurag/docurag/pkg/config"
)

const defaultCallTimeout = 15 * time.Second

// HTTPClient talks MCP over plain HTTP.
type HTTPClient struct {
	name    string
	rawURL  string
	timeout time.Duration

	mu        sync.RWMutex
	connected bool
	client    *mcpgolang.Client
}

// NewHTTPClient builds a client for one configured server. The
// connection is established by Initialize.
func NewHTTPClient(cfg config.MCPServerConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &HTTPClient{name: cfg.Name, rawURL: cfg.URL, timeout: timeout}
}

func (c *HTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	parsed, err := url.Parse(c.rawURL)
	if err != nil || parsed.Host == "" {
		return wrapErr("initialize", c.name, fmt.Errorf("invalid server url %q", c.rawURL))
	}
	endpoint := parsed.Path
	if endpoint == "" {
		endpoint = "/mcp"
	}
	base := parsed.Scheme + "://" + parsed.Host

	transport := mcphttp.NewHTTPClientTransport(endpoint).WithBaseURL(base)
	client := mcpgolang.NewClient(transport)

	initCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := client.Initialize(initCtx); err != nil {
		return wrapErr("initialize", c.name, err)
	}

	c.client = client
	c.connected = true
	return nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.RLock()
	client, connected := c.client, c.connected
	c.mu.RUnlock()
	if !connected {
		return nil, wrapErr("list_tools", c.name, ErrClientNotConnected)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var tools []Tool
	var cursor *string
	for {
		resp, err := client.ListTools(callCtx, cursor)
		if err != nil {
			return nil, wrapErr("list_tools", c.name, err)
		}
		for _, t := range resp.Tools {
			description := ""
			if t.Description != nil {
				description = *t.Description
			}
			schema, _ := t.InputSchema.(map[string]any)
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: description,
				InputSchema: schema,
			})
		}
		if resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return tools, nil
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, args any) (*ToolResult, error) {
	c.mu.RLock()
	client, connected := c.client, c.connected
	c.mu.RUnlock()
	if !connected {
		return nil, wrapToolErr("call_tool", c.name, name, ErrClientNotConnected)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.CallTool(callCtx, name, args)
	if err != nil {
		return nil, wrapToolErr("call_tool", c.name, name, err)
	}

	content := make([]Content, 0, len(resp.Content))
	for _, block := range resp.Content {
		text := ""
		if block.TextContent != nil {
			text = block.TextContent.Text
		}
		content = append(content, Content{Type: string(block.Type), Text: text})
	}
	return &ToolResult{Content: content}, nil
}

func (c *HTTPClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	c.connected = false
	return nil
}
