package mcp

import (
	"context"
)

// ToolRegistry is the static catalog of tools the Dispatcher exposes through tools/list and
// invokes through tools/call.
type ToolRegistry interface {
	// Tools returns every tool descriptor, in the order they should be listed to clients.
	Tools() []Tool

	// Tool looks up the handler registered under name. The boolean is false when no such tool
	// exists, which the Dispatcher reports to the client as a tool error rather than a
	// protocol error.
	Tool(name string) (ToolHandler, bool)
}

// ToolHandler executes one tool. Handlers are synchronous and must not retain args. A failure
// that should reach the client is expressed as a CallToolResult with IsError set; a returned
// error is reported to the client as an internal JSON-RPC error.
type ToolHandler func(ctx context.Context, args ToolArguments) (CallToolResult, error)

// ToolNames returns the names of every tool in the registry, in listing order.
func ToolNames(r ToolRegistry) []string {
	tools := r.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
