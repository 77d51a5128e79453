package daemon_test

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/daemon"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/stage"
	"rollcall/internal/testsupport"
	"rollcall/internal/workflow"
)

type noopHandler struct{}

func (noopHandler) Prepare(context.Context, *queue.Job) error { return nil }
func (noopHandler) Execute(context.Context, *queue.Job) error { return nil }
func (noopHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

func newTestDaemon(t *testing.T) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, logger)
	mgr.ConfigureHandler(noopHandler{})
	d, err := daemon.New(cfg, store, logger, mgr, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.DatabasePath == "" {
		t.Fatal("expected database path in status")
	}
	if status.LockFilePath == "" {
		t.Fatal("expected lock file path in status")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonStartRequeuesInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "show-001", "/audio/show-001.flac")
	claimed, err := store.NextForProcessing(ctx)
	if err != nil {
		t.Fatalf("NextForProcessing: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim job %d, got %+v", job.ID, claimed)
	}

	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, logger)
	mgr.ConfigureHandler(noopHandler{})
	d, err := daemon.New(cfg, store, logger, mgr, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := d.Start(runCtx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d.Stop()

	// The stuck processing job either went back to pending at startup or the
	// workflow already ran it to completion before Stop.
	refreshed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if refreshed.Status == queue.StatusProcessing {
		t.Fatalf("expected interrupted job to leave processing, status = %s", refreshed.Status)
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	mgr := workflow.NewManager(cfg, store, logger)
	mgr.ConfigureHandler(noopHandler{})
	first, err := daemon.New(cfg, store, logger, mgr, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		first.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	running, err := daemon.InstanceRunning(cfg)
	if err != nil {
		t.Fatalf("InstanceRunning: %v", err)
	}
	if !running {
		t.Fatal("expected lock probe to see the running instance")
	}

	secondStore := testsupport.MustOpenStore(t, cfg)
	secondMgr := workflow.NewManager(cfg, secondStore, logger)
	secondMgr.ConfigureHandler(noopHandler{})
	second, err := daemon.New(cfg, secondStore, logger, secondMgr, "")
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	t.Cleanup(func() {
		second.Stop()
	})
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance start to fail while lock held")
	}

	first.Stop()
	time.Sleep(20 * time.Millisecond)

	running, err = daemon.InstanceRunning(cfg)
	if err != nil {
		t.Fatalf("InstanceRunning after stop: %v", err)
	}
	if running {
		t.Fatal("expected lock probe to see no instance after stop")
	}
}

func TestInstanceRunningWithoutLockFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	running, err := daemon.InstanceRunning(cfg)
	if err != nil {
		t.Fatalf("InstanceRunning: %v", err)
	}
	if running {
		t.Fatal("expected no instance before any daemon started")
	}
}
