package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	mcpadapter "github.com/kirillkom/book-qa-assistant/internal/adapters/mcp"
	"github.com/kirillkom/book-qa-assistant/internal/bootstrap"
	"github.com/kirillkom/book-qa-assistant/internal/config"
	"github.com/kirillkom/book-qa-assistant/internal/observability/logging"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	// stdout carries the MCP protocol.
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "mcp", logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()
	app.StartBackground(ctx)

	server := mcpadapter.NewServer(app.Answerer, version, logger)
	logger.Info("mcp_serving_stdio", "version", version)
	if err := server.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp_server_failed", "error", err)
	}
	stop()
}
