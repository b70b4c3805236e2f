package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmsync_backend/internal/alert"
	"crmsync_backend/internal/events"
	apphttp "crmsync_backend/internal/http"
	"crmsync_backend/internal/http/router"
	"crmsync_backend/internal/sync"
	"crmsync_backend/migrations"
	"crmsync_backend/platform/config"
	"crmsync_backend/platform/db"
	"crmsync_backend/platform/logger"
	"crmsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, ".")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Run report archiver (optional, MinIO)
	archiver, err := sync.NewReportArchiver(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize report archiver", "error", err)
		panic("failed to initialize report archiver: " + err.Error())
	}
	if archiver != nil {
		log.Info("report archiver initialized", "bucket", cfg.GetMinioBucketRunReports())
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Alert module subscribes to engine events (not HTTP-facing)
	alertModule := alert.New(alertSender(cfg, log), log, cfg.GetDriftAlertThreshold())
	alertModule.RegisterHandlers(eventBus)

	syncModule, err := sync.NewModule(pool, eventBus, val, cfg, log, archiver)
	if err != nil {
		log.Error("failed to initialize sync module", "error", err)
		panic("failed to initialize sync module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			syncModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func alertSender(cfg *config.Config, log *logger.Logger) alert.Sender {
	if !cfg.GetEmailEnabled() {
		log.Warn("EMAIL_ENABLED is false; alerts disabled")
		return alert.NoopSender{}
	}
	return alert.NewSMTPSender(cfg)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
