// Package tools exposes the Zendesk operations as MCP tools.
package tools

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"zendeskmcp/auth"
	"zendeskmcp/client"
)

const (
	serverName    = "zendesk-mcp"
	serverVersion = "1.0.0"
)

// Deps are the collaborators the tool handlers call into.
type Deps struct {
	Zendesk *client.Client
	Tokens  *auth.TokenStore
	Login   *auth.DeviceCodeClient
	Logger  *slog.Logger
}

// Bridge owns the MCP server and the set of tools registered on it.
type Bridge struct {
	deps       Deps
	server     *mcpserver.MCPServer
	registered []string
}

type toolEntry struct {
	tool    mcp.Tool
	handler mcpserver.ToolHandlerFunc
}

// NewBridge builds the MCP server. enabled is a case-insensitive regular
// expression over tool names; empty enables every tool and an invalid pattern
// is logged and ignored.
func NewBridge(deps Deps, enabled string) *Bridge {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tokens == nil {
		deps.Tokens = auth.NewTokenStore()
	}
	if deps.Zendesk == nil {
		deps.Zendesk = client.New(client.Config{Logger: deps.Logger}, deps.Tokens)
	}

	b := &Bridge{
		deps:   deps,
		server: mcpserver.NewMCPServer(serverName, serverVersion, mcpserver.WithToolCapabilities(false)),
	}

	filter := compileFilter(enabled, deps.Logger)
	for _, entry := range b.entries() {
		name := entry.tool.Name
		if filter != nil && !filter.MatchString(name) {
			deps.Logger.Debug("skipping tool", "tool", name, "pattern", enabled)
			continue
		}
		b.server.AddTool(entry.tool, entry.handler)
		b.registered = append(b.registered, name)
	}
	deps.Logger.Info("mcp tools registered", "count", len(b.registered))
	return b
}

// MCPServer returns the underlying server for transports to attach to.
func (b *Bridge) MCPServer() *mcpserver.MCPServer {
	return b.server
}

// Tools lists the registered tool names in registration order.
func (b *Bridge) Tools() []string {
	return append([]string(nil), b.registered...)
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (b *Bridge) ServeStdio() error {
	return mcpserver.ServeStdio(b.server)
}

func (b *Bridge) entries() []toolEntry {
	var entries []toolEntry
	entries = append(entries, b.ticketTools()...)
	entries = append(entries, b.articleTools()...)
	entries = append(entries, b.oauthTools()...)
	return entries
}

func compileFilter(pattern string, logger *slog.Logger) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Warn("invalid enabled tools pattern, registering all tools", "pattern", pattern, "error", err)
		return nil
	}
	return re
}

// handlerFunc is the shape of every Zendesk-backed tool: produce a value to be
// rendered as indented JSON, or an error rendered as an error result.
type handlerFunc func(ctx context.Context, req mcp.CallToolRequest) (any, error)

func (b *Bridge) wrap(name string, fn handlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := fn(ctx, req)
		if err != nil {
			b.deps.Logger.Warn("tool call failed", "tool", name, "error", err)
			return errorResult(err), nil
		}
		return jsonResult(v)
	}
}
