// The syncworker binary runs the task queue worker and the cron scheduler
// that drive periodic sync and reconciliation runs.
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
	"crmsync_backend/internal/scheduler"
	"crmsync_backend/internal/sync"
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

	log := logger.New(cfg.Env)
	log.Info("starting sync worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	var sender alert.Sender = alert.NoopSender{}
	if cfg.GetEmailEnabled() {
		sender = alert.NewSMTPSender(cfg)
	}
	alertModule := alert.New(sender, log, cfg.GetDriftAlertThreshold())
	alertModule.RegisterHandlers(eventBus)

	archiver, err := sync.NewReportArchiver(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize report archiver", "error", err)
		panic("failed to initialize report archiver: " + err.Error())
	}

	syncModule, err := sync.NewModule(pool, eventBus, validator.New(), cfg, log, archiver)
	if err != nil {
		log.Error("failed to initialize sync module", "error", err)
		panic("failed to initialize sync module: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	go periodic.Run()
	defer periodic.Shutdown()

	worker, err := scheduler.NewWorker(cfg, syncModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
