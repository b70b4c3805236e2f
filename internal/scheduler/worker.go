package scheduler

import (
	"context"
	"fmt"

	syncengine "crmsync_backend/internal/sync"
	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Runner is the engine surface the worker drives. Implemented by sync.Service.
type Runner interface {
	RunSync(ctx context.Context, mode string) (syncengine.SyncSummary, error)
	RunReconciliation(ctx context.Context, autoFix bool) (syncengine.ReconciliationSummary, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner Runner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		// Runs serialize on the engine anyway; keep a little headroom for
		// reconcile tasks queued behind a sync.
		concurrency = 2
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		runner: runner,
		log:    log,
	}

	mux.HandleFunc(TaskSyncRun, w.handleSyncRun)
	mux.HandleFunc(TaskReconcile, w.handleReconcile)

	return w, nil
}

func (w *Worker) handleSyncRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSyncRunPayload(task)
	if err != nil {
		return err
	}

	// A conflict error means another run holds the engine; returning it lets
	// asynq retry the task later.
	summary, err := w.runner.RunSync(ctx, payload.Mode)
	if err != nil {
		return err
	}

	w.log.Info("scheduled sync run finished",
		"mode", summary.Mode,
		"created", summary.Created,
		"updated", summary.Updated,
		"errors", summary.Errors,
		"reconciled", summary.Reconciled,
		"dedupDeleted", summary.DedupDeleted,
	)
	return nil
}

func (w *Worker) handleReconcile(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReconcilePayload(task)
	if err != nil {
		return err
	}

	summary, err := w.runner.RunReconciliation(ctx, payload.AutoFix)
	if err != nil {
		return err
	}

	w.log.Info("scheduled reconciliation finished",
		"total", summary.Total,
		"match", summary.Match,
		"missing", summary.Missing,
		"outOfSync", summary.OutOfSync,
		"autoFixed", summary.AutoFixed,
	)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
