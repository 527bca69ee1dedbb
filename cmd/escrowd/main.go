package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/escrowd/internal/app"
	grpcapi "github.com/nemanja-m/escrowd/internal/escrow/api/grpc"
	"github.com/nemanja-m/escrowd/internal/escrow/api/rest"
	"github.com/nemanja-m/escrowd/internal/escrow/api/tools"
	"github.com/nemanja-m/escrowd/internal/escrow/service"
	"github.com/nemanja-m/escrowd/internal/shared/config"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: config/escrowd.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Stdout carries tool protocol frames when the tool server is on.
	var logOut io.Writer = os.Stdout
	if cfg.Tools.Enabled {
		logOut = os.Stderr
	}
	logger := app.NewLogger(cfg.Logging, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, "escrowd", logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sinks []service.HealthSink
	var grpcServer *grpcapi.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpcapi.NewServer(cfg.GRPC, logger)
		sinks = append(sinks, grpcServer.Health())
	}
	checker := service.NewHealthChecker(cfg.GRPC.HealthInterval, a.Service, a.Sequencer, logger, sinks...)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checker.Start(ctx)
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			if err := grpcServer.Start(); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.Stop()
			return nil
		})
	}

	if cfg.REST.Enabled {
		api := rest.NewAPI(a.Service, a.Info, checker, logger)
		server := rest.NewServer(cfg.REST, api, logger, rest.WithRegistry(a.Metrics))

		g.Go(func() error {
			logger.Info("Starting REST API server", "addr", cfg.REST.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("rest server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Shutting down REST API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.Tools.Enabled {
		g.Go(func() error {
			return serveTools(ctx, tools.NewServer(a.Service, a.Info, logger), logger)
		})
	}

	err = g.Wait()
	logger.Info("escrowd stopped")
	return err
}

// serveTools returns on shutdown without waiting for the pending stdin read.
func serveTools(ctx context.Context, srv *tools.Server, logger logging.Logger) error {
	logger.Info("Serving tools on stdio")
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("tool server: %w", err)
		}
		logger.Info("Tool client disconnected")
		return nil
	case <-ctx.Done():
		return nil
	}
}
