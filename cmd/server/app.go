package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/atspro/task-service/internal/config"
	"github.com/atspro/task-service/internal/platform/logger"
	"github.com/atspro/task-service/internal/platform/postgres"
	"github.com/atspro/task-service/internal/platform/redisq"
	"github.com/atspro/task-service/internal/service"
	"github.com/atspro/task-service/internal/service/auth"
	"github.com/atspro/task-service/internal/worker"
	"github.com/atspro/task-service/internal/worker/handlers"
)

// application holds the composed dependencies of the running service.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	db          *sql.DB
	broker      *redisq.Broker
	taskStore   *postgres.TaskStore
	taskService *service.TaskService
	jwtService  auth.JWTService
	pool        *worker.Pool
}

// initializeApp loads configuration and wires every component together.
// The order matters: config, logging, store, broker, handlers, pool, then
// the HTTP surface on top.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Worker.Count)

	db, err := setupDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrations(context.Background(), db); err != nil {
		return nil, err
	}

	taskStore := postgres.NewTaskStore(db)

	broker := redisq.New(cfg.Redis, cfg.Worker.LeaseTTL, log)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := broker.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to reach broker: %w", err)
	}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to set up JWT service: %w", err)
	}

	registry := worker.NewRegistry()
	for _, h := range []worker.Handler{
		handlers.NewResumeParser(),
		handlers.NewJobParser(),
	} {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("failed to register handler: %w", err)
		}
	}
	log.Info("task handlers registered", "types", registry.Types())

	taskService := service.NewTaskService(taskStore, broker, registry, cfg.Worker.MaxRetries, log)

	poolCfg := worker.PoolConfig{
		Count:             cfg.Worker.Count,
		DequeueTimeout:    cfg.Worker.DequeueTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HandlerTimeout:    cfg.Worker.HandlerTimeout,
		SweepInterval:     cfg.Worker.SweepInterval,
		StuckTaskAge:      cfg.Worker.StuckTaskAge,
		RetentionAge:      cfg.Worker.RetentionAge,
	}
	pool := worker.NewPool(taskStore, broker, registry, poolCfg, log)

	return &application{
		config:      cfg,
		logger:      log,
		db:          db,
		broker:      broker,
		taskStore:   taskStore,
		taskService: taskService,
		jwtService:  jwtService,
		pool:        pool,
	}, nil
}

// run starts the worker pool and the HTTP server, then blocks until
// shutdown completes.
func (app *application) run() error {
	if err := app.pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	return app.startHTTPServer(context.Background(), app.setupRouter())
}

// cleanup releases held resources after the HTTP server has drained.
func (app *application) cleanup() {
	app.pool.Stop()

	if err := app.broker.Close(); err != nil {
		app.logger.Error("failed to close broker connection", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database connection", "error", err)
	}
}
