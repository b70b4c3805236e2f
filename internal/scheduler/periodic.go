package scheduler

import (
	"fmt"

	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic registers the cron entries that keep the engine running without
// operator action: frequent incremental syncs, a daily full sync, and a
// reconciliation pass.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
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

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	entries := []struct {
		cron string
		task func() (*asynq.Task, error)
		name string
	}{
		{cfg.GetIncrementalSyncCron(), func() (*asynq.Task, error) {
			return NewSyncRunTask(SyncRunPayload{Mode: "incremental"})
		}, "incremental sync"},
		{cfg.GetFullSyncCron(), func() (*asynq.Task, error) {
			return NewSyncRunTask(SyncRunPayload{Mode: "full"})
		}, "full sync"},
		{cfg.GetReconciliationCron(), func() (*asynq.Task, error) {
			return NewReconcileTask(ReconcilePayload{AutoFix: true})
		}, "reconciliation"},
	}

	for _, entry := range entries {
		if entry.cron == "" {
			log.Warn("cron entry not configured, skipping", "entry", entry.name)
			continue
		}
		task, err := entry.task()
		if err != nil {
			return nil, err
		}
		entryID, err := scheduler.Register(entry.cron, task, asynq.Queue(queue), asynq.Unique(uniqueWindow))
		if err != nil {
			return nil, fmt.Errorf("register %s cron: %w", entry.name, err)
		}
		log.Info("registered cron entry", "entry", entry.name, "cron", entry.cron, "id", entryID)
	}

	return &Periodic{scheduler: scheduler, log: log}, nil
}

// Run starts the scheduler loop and blocks until it stops.
func (p *Periodic) Run() {
	if err := p.scheduler.Run(); err != nil {
		p.log.Error("periodic scheduler stopped", "error", err)
	}
}

// Shutdown stops the scheduler loop.
func (p *Periodic) Shutdown() {
	p.scheduler.Shutdown()
}
