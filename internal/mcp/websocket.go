package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docurag/docurag/pkg/config"
)

// WebSocketClient talks MCP over a WebSocket connection, one JSON-RPC
// request in flight at a time.
type WebSocketClient struct {
	name    string
	rawURL  string
	timeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int64
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type wsResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *wsError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewWebSocketClient builds a client for one configured server.
func NewWebSocketClient(cfg config.MCPServerConfig) *WebSocketClient {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &WebSocketClient{name: cfg.Name, rawURL: cfg.URL, timeout: timeout}
}

func (c *WebSocketClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, _, err := dialer.DialContext(ctx, c.rawURL, nil)
	if err != nil {
		return wrapErr("initialize", c.name, err)
	}
	c.conn = conn
	c.connected = true

	if _, err := c.callLocked(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "docurag", "version": "1.0"},
	}); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

func (c *WebSocketClient) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, wrapErr("list_tools", c.name, ErrClientNotConnected)
	}

	raw, err := c.callLocked(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, wrapErr("list_tools", c.name, err)
	}
	return result.Tools, nil
}

func (c *WebSocketClient) CallTool(ctx context.Context, name string, args any) (*ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, wrapToolErr("call_tool", c.name, name, ErrClientNotConnected)
	}

	raw, err := c.callLocked(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, wrapToolErr("call_tool", c.name, name, err)
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, wrapToolErr("call_tool", c.name, name, err)
	}
	return &result, nil
}

// callLocked performs one JSON-RPC round trip. Callers hold c.mu, so
// responses always pair with their request.
func (c *WebSocketClient) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.nextID++
	req := wsRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.closeLocked()
		return nil, wrapErr(method, c.name, err)
	}

	c.conn.SetReadDeadline(deadline)
	for {
		var resp wsResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.closeLocked()
			return nil, wrapErr(method, c.name, err)
		}
		// Skip notifications and stale responses.
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, wrapErr(method, c.name, resp.Error)
		}
		return resp.Result, nil
	}
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *WebSocketClient) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}
