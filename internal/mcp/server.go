package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ultirules/internal/chat"
	"github.com/bull/ultirules/internal/retrieve"
)

// Server wraps the MCP server with its tool dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds the tool dependencies.
type Config struct {
	Retriever    *retrieve.Retriever
	Docs         retrieve.DocumentStore
	Pipeline     *chat.Pipeline
	SearchOpts   retrieve.Options
	ExpandRadius int
}

// NewServer creates an MCP server with the rules tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "ultirules-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_rules",
		Description: "Search the official rules of ultimate. Returns rule passages with adjacent context merged in. Use ask_rules for a synthesized answer.",
	}, makeSearchHandler(cfg.Retriever, cfg.Docs, cfg.SearchOpts, cfg.ExpandRadius))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_rules",
		Description: "Ask a question about the official rules of ultimate. Returns a grounded answer with the verbatim text of the cited rules.",
	}, makeAskHandler(cfg.Pipeline))

	return &Server{server: server}
}

// Run starts the server over stdio and blocks until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying server for transport wrappers.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
