// Package mcp serves the scheduling service as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
)

// Server represents the surgery scheduler MCP server
type Server struct {
	service   domain.SchedulingService
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with every tool registered
func NewServer(service domain.SchedulingService, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	serverInfo := &mcp.Implementation{
		Name:    "surgery-scheduler",
		Version: "v1.0.0",
	}

	s := &Server{
		service:   service,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}
	s.registerTools()
	return s
}

// registerTools registers tools with the MCP SDK.
func (s *Server) registerTools() {
	for _, tool := range s.tools() {
		handle := tool.handle
		s.mcpServer.AddTool(tool.definition, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			s.logger.WithField("tool", req.Params.Name).Info("Tool invoked")
			args, _ := req.Params.Arguments.(json.RawMessage)
			return handle(ctx, args), nil
		})
		s.logger.WithField("tool_name", tool.definition.Name).Debug("Registered MCP tool")
	}
}

// Start serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting surgery scheduler MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
