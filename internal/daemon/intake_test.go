package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/testsupport"
)

func newTestWatcher(t *testing.T) (*intakeWatcher, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watcher := newIntakeWatcher(cfg, store, logging.NewNop())
	if watcher == nil {
		t.Fatal("expected watcher to be created")
	}
	watcher.ctx = context.Background()
	return watcher, store
}

func writeIntakeFile(t *testing.T, watcher *intakeWatcher, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(watcher.intakeDir, 0o755); err != nil {
		t.Fatalf("mkdir intake: %v", err)
	}
	path := filepath.Join(watcher.intakeDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write intake file: %v", err)
	}
	return path
}

func TestIntakeWatcherQueuesStableFile(t *testing.T) {
	watcher, store := newTestWatcher(t)
	path := writeIntakeFile(t, watcher, "Morning Show S02E05.flac", "pcm data")

	// First scan records the snapshot, second scan sees it unchanged and ingests.
	watcher.poll()
	if jobs, err := store.List(context.Background()); err != nil {
		t.Fatalf("store.List: %v", err)
	} else if len(jobs) != 0 {
		t.Fatalf("expected no jobs after first scan, got %d", len(jobs))
	}
	watcher.poll()

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.EpisodeID != "morning_show_s02e05" {
		t.Fatalf("unexpected episode id %q", job.EpisodeID)
	}
	if job.EpisodeTitle != "Morning Show S02E05" {
		t.Fatalf("unexpected episode title %q", job.EpisodeTitle)
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
	if !strings.HasPrefix(job.AudioPath, watcher.archiveDir+string(os.PathSeparator)) {
		t.Fatalf("expected audio path under archive dir, got %q", job.AudioPath)
	}
	if _, err := os.Stat(job.AudioPath); err != nil {
		t.Fatalf("archived audio missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected intake file removed, stat err = %v", err)
	}
}

func TestIntakeWatcherWaitsForGrowingFile(t *testing.T) {
	watcher, store := newTestWatcher(t)
	path := writeIntakeFile(t, watcher, "growing.wav", "partial")

	watcher.poll()
	// Simulate a copy still in progress between scans.
	if err := os.WriteFile(path, []byte("partial plus more data"), 0o644); err != nil {
		t.Fatalf("grow file: %v", err)
	}
	watcher.poll()

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs while file still changing, got %d", len(jobs))
	}

	// Once the file settles, the next two scans ingest it.
	watcher.poll()
	jobs, err = store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after file settled, got %d", len(jobs))
	}
}

func TestIntakeWatcherIgnoresNonAudioFiles(t *testing.T) {
	watcher, store := newTestWatcher(t)
	writeIntakeFile(t, watcher, "notes.txt", "not audio")
	writeIntakeFile(t, watcher, ".hidden.flac", "dotfile")

	watcher.poll()
	watcher.poll()

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs for non-audio files, got %d", len(jobs))
	}
}

func TestIntakeWatcherDuplicateEpisodeArchivesWithoutJob(t *testing.T) {
	watcher, store := newTestWatcher(t)

	writeIntakeFile(t, watcher, "show-007.flac", "take one")
	watcher.poll()
	watcher.poll()

	// Same stem arrives again while the first job is still active.
	writeIntakeFile(t, watcher, "show-007.flac", "take two")
	watcher.poll()
	watcher.poll()

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected single job for duplicate episode, got %d", len(jobs))
	}

	entries, err := os.ReadDir(watcher.archiveDir)
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected both files archived, got %d entries", len(entries))
	}
}

func TestIntakeWatcherNilWhenUnconfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.IntakeDir = ""
	store := testsupport.MustOpenStore(t, cfg)
	if watcher := newIntakeWatcher(cfg, store, logging.NewNop()); watcher != nil {
		t.Fatal("expected nil watcher without intake dir")
	}
}

func TestIntakeWatcherStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.IntakeScanInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	watcher := newIntakeWatcher(cfg, store, logging.NewNop())
	if watcher == nil {
		t.Fatal("expected watcher to be created")
	}

	ctx := context.Background()
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := watcher.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}
	watcher.Stop()
	watcher.Stop()
}
