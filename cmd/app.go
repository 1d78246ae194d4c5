package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/testexec/internal/config"
	"github.com/xiaot623/gogo/testexec/internal/guard"
	"github.com/xiaot623/gogo/testexec/internal/hub"
	"github.com/xiaot623/gogo/testexec/internal/logging"
	"github.com/xiaot623/gogo/testexec/internal/materializer"
	"github.com/xiaot623/gogo/testexec/internal/notify"
	"github.com/xiaot623/gogo/testexec/internal/queue"
	"github.com/xiaot623/gogo/testexec/internal/repository"
	"github.com/xiaot623/gogo/testexec/internal/runner"
	"github.com/xiaot623/gogo/testexec/internal/service"
	"github.com/xiaot623/gogo/testexec/policy"
)

// appOptions selects which optional parts of the service a command needs.
type appOptions struct {
	queue bool
	hub   bool
	sinks bool
}

// app is the wired service graph shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *repository.SQLiteStore
	queue   queue.Queue
	hub     *hub.Hub
	service *service.Service
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, os.Stderr), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: db}

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	g, err := guard.New(cfg.AllowedCommands, cfg.BaseDir, engine)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize command guard: %w", err)
	}
	r := runner.New(runner.Config{
		Enabled:        cfg.ExecutionEnabled,
		DefaultTimeout: cfg.ProcessTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		KillGrace:      5 * time.Second,
	}, logging.Subsystem(logger, "runner"))
	m := materializer.New(db, logging.Subsystem(logger, "materializer"))

	var svcOpts []service.Option
	if opts.queue {
		a.queue = newQueue(cfg, db, logging.Subsystem(logger, "queue"))
		svcOpts = append(svcOpts, service.WithQueue(a.queue))
	}
	if opts.hub {
		a.hub = hub.New(hub.Options{}, logging.Subsystem(logger, "hub"))
		svcOpts = append(svcOpts, service.WithResultSinks(a.hub))
	}
	if opts.sinks && cfg.NotifyConfigPath != "" {
		n, err := notify.FromFile(cfg.NotifyConfigPath, logging.Subsystem(logger, "notify"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize notifier: %w", err)
		}
		logger.Info("robot notifications enabled", "robots", len(n.Robots()))
		svcOpts = append(svcOpts, service.WithResultSinks(n))
	}
	if cfg.ObjectStore.Enabled() {
		p, err := objectstore.New(cfg.ObjectStore, logging.Subsystem(logger, "objectstore"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		if err := p.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithReportPublisher(p))
	}

	a.service = service.New(db, g, r, m, cfg, logging.Subsystem(logger, "service"), svcOpts...)
	return a, nil
}

func newQueue(cfg *config.Config, db *repository.SQLiteStore, logger *slog.Logger) queue.Queue {
	opts := queue.Options{
		PollInterval: cfg.QueuePollInterval,
		LeaseTimeout: cfg.QueueLeaseTimeout,
		MaxAttempts:  cfg.QueueMaxAttempts,
		DrainTimeout: cfg.QueueDrainTimeout,
	}
	if cfg.QueueBackend == config.QueueBackendMemory {
		return queue.NewMemory(opts, logger)
	}
	return queue.NewSQLite(db, opts, logger)
}

// Close releases the queue and the database.
func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("failed to close queue", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}
