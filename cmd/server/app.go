package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/render-api/internal/artifact"
	"github.com/phrazzld/render-api/internal/config"
	"github.com/phrazzld/render-api/internal/generation"
	"github.com/phrazzld/render-api/internal/history"
	"github.com/phrazzld/render-api/internal/platform/gemini"
	"github.com/phrazzld/render-api/internal/platform/postgres"
	"github.com/phrazzld/render-api/internal/service"
	"github.com/phrazzld/render-api/internal/service/auth"
	"github.com/phrazzld/render-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds the shared dependencies so they can be wired once and
// torn down in order on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore task.Store
	recorder  history.Recorder
	artifacts *artifact.Store
	fileStore *artifact.FileStore
	gateway   generation.Gateway

	taskService service.TaskService
	jwtService  auth.JWTService

	registry  *prometheus.Registry
	scheduler *task.Scheduler
	retention *task.RetentionJob
}

// newApplication creates the production dependency graph. db may be nil, in
// which case tasks and prompt history are kept in memory.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	gateway, err := gemini.NewGateway(ctx, logger, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation gateway: %w", err)
	}
	logger.Info("generation gateway initialized", "model", cfg.LLM.ModelName)

	backend, err := newArtifactBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return buildApplication(cfg, logger, db, gateway, backend)
}

// buildApplication wires everything downstream of the external clients.
func buildApplication(
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	gateway generation.Gateway,
	backend artifact.Backend,
) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		gateway:  gateway,
		registry: prometheus.NewRegistry(),
	}

	if db != nil {
		app.taskStore = postgres.NewTaskStore(db)
		app.recorder = postgres.NewPromptHistoryStore(db)
	} else {
		app.taskStore = task.NewMemoryStore()
		app.recorder = history.NewMemoryRecorder()
	}

	if fs, ok := backend.(*artifact.FileStore); ok {
		app.fileStore = fs
	}
	app.artifacts = artifact.NewStore(
		backend,
		cfg.Storage.BaseURL,
		artifact.NewThumbnailer(cfg.Storage.ThumbnailWidth),
		logger,
	)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.taskService, err = service.NewTaskService(app.taskStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	executor := task.NewExecutor(
		app.taskStore,
		gateway,
		app.artifacts,
		app.recorder,
		task.ExecutorConfig{
			GenerationTimeout: time.Duration(cfg.Task.GenerationTimeoutSeconds) * time.Second,
		},
		logger,
	)
	app.scheduler = task.NewScheduler(app.taskStore, executor, task.SchedulerConfig{
		MaxConcurrency: cfg.Task.MaxConcurrency,
		TickInterval:   time.Duration(cfg.Task.TickIntervalSeconds) * time.Second,
		StuckTaskAge:   time.Duration(cfg.Task.StuckTaskAgeMinutes) * time.Minute,
		MaxAttempts:    cfg.Task.MaxAttempts,
	}, logger, task.NewMetrics(app.registry))

	app.retention = task.NewRetentionJob(app.taskStore, app.artifacts, task.RetentionConfig{
		MaxAgeDays: cfg.Task.RetentionDays,
		Schedule:   cfg.Task.RetentionSchedule,
	}, logger)

	logger.Info("application initialized",
		"persistent", db != nil,
		"max_concurrency", cfg.Task.MaxConcurrency)
	return app, nil
}

// newArtifactBackend selects the filesystem or S3 backend from cfg.
func newArtifactBackend(ctx context.Context, cfg config.StorageConfig) (artifact.Backend, error) {
	switch cfg.Driver {
	case "s3":
		s3, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 artifact store: %w", err)
		}
		return s3, nil
	default:
		fs, err := artifact.NewFileStore(cfg.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact directory: %w", err)
		}
		return fs, nil
	}
}

// startBackground starts the scheduler and the retention job.
func (app *application) startBackground() error {
	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := app.retention.Start(); err != nil {
		return fmt.Errorf("failed to start retention job: %w", err)
	}
	return nil
}

// Run starts the background workers and serves HTTP until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	if err := app.startBackground(); err != nil {
		app.cleanup(context.Background())
		return err
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the workers and closes the database. Tasks still running
// when ctx expires stay processing and are recovered on the next start.
func (app *application) cleanup(ctx context.Context) {
	if app.retention != nil {
		select {
		case <-app.retention.Stop().Done():
		case <-ctx.Done():
			app.logger.Warn("retention sweep still running at shutdown")
		}
	}
	if app.scheduler != nil {
		if err := app.scheduler.Stop(ctx); err != nil {
			app.logger.Warn("scheduler did not drain before shutdown", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
