package queue

import (
	"encoding/json"
	"testing"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/constants"
)

func TestDisabledClientIsNoop(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("disabled client must report disabled")
	}
	if err := client.EnqueueCommerceEvent("evt_1"); err != nil {
		t.Fatalf("disabled enqueue should be a no-op, got %v", err)
	}
	if err := client.EnqueueIncrementalSync(""); err != nil {
		t.Fatalf("disabled enqueue should be a no-op, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestNewSyncIncrementalTaskDefaultsTrigger(t *testing.T) {
	task, err := NewSyncIncrementalTask(SyncIncrementalPayload{})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if task.Type() != TaskSyncIncremental {
		t.Fatalf("unexpected task type: %s", task.Type())
	}
	var payload SyncIncrementalPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.TriggeredBy != constants.TriggerScheduler {
		t.Fatalf("expected scheduler trigger, got %q", payload.TriggeredBy)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(&config.QueueConfig{Host: " redis ", Port: 6380, DB: 2})
	if opt.Addr != "redis:6380" || opt.DB != 2 {
		t.Fatalf("unexpected redis opt: %+v", opt)
	}
	if cfg.Concurrency != 10 || cfg.Queues[CriticalQueue] != 5 || cfg.Queues[DefaultQueue] != 1 {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
}
