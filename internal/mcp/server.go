// Package mcp exposes the stateless analysis components as MCP tools over
// stdio, so an assistant can triage symptom text without the HTTP API.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/service"
)

const (
	defaultServerName    = "sympfindx-diagnosis"
	defaultServerVersion = "1.0.0"
)

// Server wraps the MCP SDK server and the tool handlers.
type Server struct {
	mcpServer *mcp.Server
	weights   service.ConfidenceWeights
	logger    *logrus.Logger
	tools     []string
}

// NewServer creates a new MCP server with every tool registered.
func NewServer(cfg domain.MCPConfig, weights service.ConfidenceWeights, logger *logrus.Logger) *Server {
	name, version := cfg.ServerName, cfg.ServerVersion
	if name == "" {
		name = defaultServerName
	}
	if version == "" {
		version = defaultServerVersion
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		weights:   weights,
		logger:    logger,
	}
	s.registerTools()

	logger.WithFields(logrus.Fields{
		"server":     name,
		"version":    version,
		"tool_count": len(s.tools),
	}).Info("MCP server initialized")
	return s
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolAnalyzeSymptoms,
		Description: "Extract eye-condition keywords, severity, duration and urgency from a free-text symptom description",
	}, s.handleAnalyzeSymptoms)
	s.tools = append(s.tools, toolAnalyzeSymptoms)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolCombineConfidence,
		Description: "Blend an image classifier confidence with the confidence implied by symptom text",
	}, s.handleCombineConfidence)
	s.tools = append(s.tools, toolCombineConfidence)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolAssessUrgency,
		Description: "Score referral urgency for a diagnosis and list recommendations and the suggested specialist",
	}, s.handleAssessUrgency)
	s.tools = append(s.tools, toolAssessUrgency)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        toolDeriveUrgencyLevel,
		Description: "Map a classifier label and confidence onto low, moderate, high or emergency",
	}, s.handleDeriveUrgencyLevel)
	s.tools = append(s.tools, toolDeriveUrgencyLevel)
}
