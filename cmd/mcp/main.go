package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/ticket-assistant/internal/adapters/mcp"
	"github.com/kirillkom/ticket-assistant/internal/bootstrap"
	"github.com/kirillkom/ticket-assistant/internal/config"
	"github.com/kirillkom/ticket-assistant/internal/observability/logging"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	// stdout carries the MCP protocol.
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "mcp", Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mcpSrv := mcpadapter.NewServer(mcpadapter.Deps{Records: app.Records, Users: app.Users}, version)
	stdioSrv := server.NewStdioServer(mcpSrv)

	logger.Info("mcp_server_started", "transport", "stdio")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp_stdio_failed", "error", err)
	}
}
