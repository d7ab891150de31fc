package mcp

import (
	"errors"
	"fmt"
)

var (
	ErrClientNotConnected = errors.New("mcp client not connected")
	ErrToolNotFound       = errors.New("tool not found")
	ErrNoServers          = errors.New("no tool servers configured")
)

// Error carries the failing operation, server and tool for external
// tool calls.
type Error struct {
	Op     string
	Server string
	Tool   string
	Err    error
}

func (e *Error) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("mcp %s %s.%s: %v", e.Op, e.Server, e.Tool, e.Err)
	}
	return fmt.Sprintf("mcp %s %s: %v", e.Op, e.Server, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, server string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Server: server, Err: err}
}

func wrapToolErr(op, server, tool string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Server: server, Tool: tool, Err: err}
}
