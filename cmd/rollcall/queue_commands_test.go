package main

import (
	"strings"
	"testing"
)

func TestQueueStatusEmpty(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newQueueStatusCommand(ctx))
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("expected empty-queue message, got %q", out)
	}
}

func TestQueueListShowsSeededJob(t *testing.T) {
	ctx, cfg := newTestContext(t)
	seedJob(t, cfg, "ep-101")

	out, err := runCommand(t, newQueueListCommand(ctx))
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "ep-101") {
		t.Fatalf("expected episode in listing, got %q", out)
	}
	if !strings.Contains(out, "pending") {
		t.Fatalf("expected pending status, got %q", out)
	}
}

func TestQueueListJSON(t *testing.T) {
	ctx, cfg := newTestContext(t)
	seedJob(t, cfg, "ep-json")

	out, err := runCommand(t, newQueueListCommand(ctx), "--json")
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	if !strings.Contains(out, `"episode_id": "ep-json"`) {
		t.Fatalf("expected JSON payload, got %q", out)
	}
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	ctx, _ := newTestContext(t)

	if _, err := runCommand(t, newQueueListCommand(ctx), "--status", "bogus"); err == nil {
		t.Fatal("expected error for unknown status filter")
	}
}

func TestQueueCancelPendingJob(t *testing.T) {
	ctx, cfg := newTestContext(t)
	job := seedJob(t, cfg, "ep-cancel")

	out, err := runCommand(t, newQueueCancelCommand(ctx), "1")
	if err != nil {
		t.Fatalf("queue cancel: %v", err)
	}
	if !strings.Contains(out, "Cancelled job 1") {
		t.Fatalf("unexpected output %q", out)
	}
	_ = job
}

func TestQueueShowRendersDetail(t *testing.T) {
	ctx, cfg := newTestContext(t)
	job := seedJob(t, cfg, "ep-show")

	out, err := runCommand(t, newQueueShowCommand(ctx), "1")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	if !strings.Contains(out, "ep-show") || !strings.Contains(out, "pending") {
		t.Fatalf("unexpected detail output %q", out)
	}
	if !strings.Contains(out, job.AudioPath) {
		t.Fatalf("expected audio path in output %q", out)
	}
}

func TestQueueClearCompletedReportsCount(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newQueueClearCommand(ctx))
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 0 completed job(s)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueHealthRendersCounts(t *testing.T) {
	ctx, cfg := newTestContext(t)
	seedJob(t, cfg, "ep-health")

	out, err := runCommand(t, newQueueHealthCommand(ctx))
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	if !strings.Contains(out, "Pending") || !strings.Contains(out, "Database") {
		t.Fatalf("unexpected health output %q", out)
	}
}
