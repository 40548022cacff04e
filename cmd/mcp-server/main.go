// Package main runs the diagnosis MCP tool server over stdio. It needs no
// database or classifier; stdout carries the protocol, so logs go to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sympfindx-diagnosis-server/internal/config"
	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/logging"
	"github.com/sympfindx-diagnosis-server/internal/mcp"
	"github.com/sympfindx-diagnosis-server/internal/service"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

func main() {
	cfg := config.LoadLiteConfig()
	logger := logging.New(cfg.LoggingConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := mcp.NewServer(
		domain.MCPConfig{ServerName: "sympfindx-diagnosis", ServerVersion: version},
		service.DefaultConfidenceWeights(),
		logger,
	)

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("MCP server failed")
		os.Exit(1)
	}
	logger.Info("MCP server stopped")
}
