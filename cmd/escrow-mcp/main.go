// Command escrow-mcp exposes the escrow tools over stdio for agent clients.
// It exits when the client closes stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nemanja-m/escrowd/internal/app"
	"github.com/nemanja-m/escrowd/internal/escrow/api/tools"
	"github.com/nemanja-m/escrowd/internal/shared/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: config/escrowd.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "escrow-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.REST.Enabled = false
	cfg.GRPC.Enabled = false
	cfg.Tools.Enabled = true

	logger := app.NewLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, "escrow-mcp", logger)
	if err != nil {
		return err
	}
	defer a.Close()

	err = tools.NewServer(a.Service, a.Info, logger).ServeStdio(ctx)
	logger.Info("escrow-mcp stopped")
	return err
}
