// The syncrun binary executes one sync or reconciliation run and exits.
// Useful for operations and backfills without going through the queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crmsync_backend/internal/events"
	"crmsync_backend/internal/sync"
	"crmsync_backend/migrations"
	"crmsync_backend/platform/config"
	"crmsync_backend/platform/db"
	"crmsync_backend/platform/logger"
	"crmsync_backend/platform/validator"
)

func main() {
	mode := flag.String("mode", "incremental", "sync mode: incremental or full")
	reconcile := flag.Bool("reconcile", false, "run a reconciliation pass instead of a sync")
	autoFix := flag.Bool("auto-fix", false, "apply safe auto-fixes during reconciliation")
	migrate := flag.Bool("migrate", false, "run database migrations before the run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := db.RunMigrations(ctx, cfg, migrations.FS, "."); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	archiver, err := sync.NewReportArchiver(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize report archiver", "error", err)
		os.Exit(1)
	}

	module, err := sync.NewModule(pool, eventBus, validator.New(), cfg, log, archiver)
	if err != nil {
		log.Error("failed to initialize sync module", "error", err)
		os.Exit(1)
	}

	var result any
	if *reconcile {
		result, err = module.Service().RunReconciliation(ctx, *autoFix)
	} else {
		result, err = module.Service().RunSync(ctx, *mode)
	}
	if err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}

	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))
}
