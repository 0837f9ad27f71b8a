package queue

import (
	"testing"

	"github.com/tiernet/internal/config"
)

func TestWithdrawalPayoutTaskPayload(t *testing.T) {
	task, err := NewWithdrawalPayoutTask(WithdrawalPayoutPayload{EntryID: 9})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if task.Type() != TaskWithdrawalPayout {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	payload, err := ParseWithdrawalPayoutPayload(task.Payload())
	if err != nil {
		t.Fatalf("parse payload failed: %v", err)
	}
	if payload.EntryID != 9 {
		t.Fatalf("entry id want 9 got %d", payload.EntryID)
	}
	if _, err := ParseWithdrawalPayoutPayload([]byte(`{}`)); err == nil {
		t.Fatalf("payload without entry id should be rejected")
	}
	if payoutTaskID(9) != "payout:9" {
		t.Fatalf("unexpected task id %s", payoutTaskID(9))
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false}, 0)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("client should be disabled")
	}
	if err := client.EnqueueWithdrawalPayout(1); err != nil {
		t.Fatalf("disabled enqueue should be a no-op: %v", err)
	}
	if client.payoutMaxRetry != defaultPayoutMaxRetry {
		t.Fatalf("default retry want %d got %d", defaultPayoutMaxRetry, client.payoutMaxRetry)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(nil)
	if opt.Addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected addr %s", opt.Addr)
	}
	if cfg.Concurrency != 10 {
		t.Fatalf("unexpected concurrency %d", cfg.Concurrency)
	}
	if cfg.Queues[PayoutQueue] == 0 || cfg.Queues[DefaultQueue] == 0 {
		t.Fatalf("default queues missing: %v", cfg.Queues)
	}
}
