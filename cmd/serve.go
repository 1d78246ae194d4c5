package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	transport "github.com/xiaot623/gogo/testexec/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the queue consumers and the live results hub",
		Long: `Start the HTTP API together with the execution consumer, the result
consumer and the WebSocket results hub. Configuration is read from the
environment (HTTP_PORT, DATABASE_URL, QUEUE_BACKEND, ...).`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{queue: true, hub: true, sinks: true})
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting test execution service",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"queue_backend", cfg.QueueBackend,
		"base_dir", cfg.BaseDir,
		"execution_enabled", cfg.ExecutionEnabled)

	if report := a.service.CheckEnvironment(); !report.Ready {
		logger.Warn("serving with an incomplete environment", "missing_commands", report.MissingCommands)
	}

	server := transport.NewServer(a.service, a.hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		return a.service.RunExecutionConsumer(gctx)
	})
	g.Go(func() error {
		return a.service.RunResultConsumer(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("HTTP API listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down test execution service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("test execution service stopped")
	return nil
}
