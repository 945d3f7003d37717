package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/control"
	"github.com/btouchard/domus/internal/devices"
	"github.com/btouchard/domus/internal/store"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Cache      *devices.Cache
	Dispatcher *control.Dispatcher
	Activity   store.Store
	Version    string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Domus",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
