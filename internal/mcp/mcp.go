// Package mcp implements the Model Context Protocol server agents use to
// coordinate with Mission Control.
//
// The tools mirror the agent half of the HTTP API: check the kill switch
// before acting, record what was done, report status, and read the audit
// log. Operator actions (flipping the switch, deciding approvals) are not
// exposed here.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
	"github.com/ashita-ai/mission-control/internal/service/killswitch"
)

// Server wraps the MCP server with the Mission Control service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	killSwitch *killswitch.Service
	audit      *auditlog.Service
	agents     *agents.Service
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(killSwitch *killswitch.Service, audit *auditlog.Service, agentSvc *agents.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		killSwitch: killSwitch,
		audit:      audit,
		agents:     agentSvc,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mission-control",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
