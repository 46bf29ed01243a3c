package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/ragless-mcp/internal/orchestrator"
)

const (
	// ServerName is the MCP server name
	ServerName = "ragless-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp  *server.MCPServer
	orch *orchestrator.Orchestrator
}

// NewServer creates a new MCP server instance around an orchestrator.
// The caller owns the orchestrator's store and closes it after Serve
// returns.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:  mcpServer,
		orch: orch,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(getClusterTool(), s.handleGetCluster)
	s.mcp.AddTool(listClustersTool(), s.handleListClusters)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
}
