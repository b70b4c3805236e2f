package scheduler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

type testSchedulerConfig struct {
	redisURL string
}

func (c testSchedulerConfig) GetRedisURL() string            { return c.redisURL }
func (c testSchedulerConfig) GetRedisTLSInsecure() bool      { return false }
func (c testSchedulerConfig) GetAsynqQueueName() string      { return "sync" }
func (c testSchedulerConfig) GetAsynqConcurrency() int       { return 1 }
func (c testSchedulerConfig) GetIncrementalSyncCron() string { return "" }
func (c testSchedulerConfig) GetFullSyncCron() string        { return "" }
func (c testSchedulerConfig) GetReconciliationCron() string  { return "" }

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(testSchedulerConfig{}); err == nil {
		t.Fatal("expected an error without a redis url")
	}
}

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("redis://:secret@redis.internal:6380/3", false)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.Addr != "redis.internal:6380" {
		t.Errorf("addr = %q", opt.Addr)
	}
	if opt.Password != "secret" {
		t.Errorf("password = %q", opt.Password)
	}
	if opt.DB != 3 {
		t.Errorf("db = %d", opt.DB)
	}
	if opt.TLSConfig != nil {
		t.Error("plain redis url should carry no TLS config")
	}
}

func TestRedisClientOptTLSInsecure(t *testing.T) {
	opt, err := redisClientOpt("rediss://redis.internal:6380", true)
	if err != nil {
		t.Fatalf("redisClientOpt: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Error("insecure flag should produce a skip-verify TLS config")
	}

	if _, err := redisClientOpt("not a url", false); err == nil {
		t.Error("expected an error for a malformed url")
	}
}

func TestEnqueueSyncRunDeduplicatesWhileQueued(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(testSchedulerConfig{redisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.EnqueueSyncRun(ctx, SyncRunPayload{Mode: "incremental"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	// an identical task inside the unique window is silently absorbed
	if err := client.EnqueueSyncRun(ctx, SyncRunPayload{Mode: "incremental"}); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	// a different payload is a different task
	if err := client.EnqueueSyncRun(ctx, SyncRunPayload{Mode: "full"}); err != nil {
		t.Fatalf("full-mode enqueue: %v", err)
	}
	if err := client.EnqueueReconcile(ctx, ReconcilePayload{AutoFix: true}); err != nil {
		t.Fatalf("reconcile enqueue: %v", err)
	}
}
