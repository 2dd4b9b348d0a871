package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/workerdom/internal/api/ws"
	"github.com/GriffinCanCode/workerdom/internal/config"
	"github.com/GriffinCanCode/workerdom/internal/infrastructure/server"
	"github.com/GriffinCanCode/workerdom/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Config file (.yaml, .yml or .toml)")
	script := flag.String("script", "", "Worker script (overrides WORKER_SCRIPT)")
	page := flag.String("html", "", "Initial page markup (overrides WORKER_HTML)")
	port := flag.String("port", "", "Server port (overrides PORT)")
	dev := flag.Bool("dev", false, "Development mode (console logs, debug level)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *script != "" {
		cfg.Server.ScriptPath = *script
	}
	if *page != "" {
		cfg.Server.HTMLPath = *page
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	p, err := readPage(cfg.Server)
	if err != nil {
		logger.Fatal("Failed to read worker page", zap.Error(err))
	}

	srv, err := server.NewServer(cfg, p, server.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("Server error", zap.Error(runErr))
	}
	logger.Info("Server stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// readPage loads the script every session's worker runs. Without an HTML
// file the worker starts from an empty document.
func readPage(cfg config.ServerConfig) (ws.Page, error) {
	if cfg.ScriptPath == "" {
		return ws.Page{}, fmt.Errorf("no worker script: set -script or WORKER_SCRIPT")
	}
	script, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return ws.Page{}, fmt.Errorf("failed to read script: %w", err)
	}
	p := ws.Page{
		HTML:   "<html><head></head><body></body></html>",
		Script: string(script),
	}
	if cfg.HTMLPath != "" {
		markup, err := os.ReadFile(cfg.HTMLPath)
		if err != nil {
			return ws.Page{}, fmt.Errorf("failed to read html: %w", err)
		}
		p.HTML = string(markup)
	}
	return p, nil
}
