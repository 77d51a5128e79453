package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/testsupport"
)

func TestEnqueueDerivesEpisodeFromFilename(t *testing.T) {
	ctx, cfg := newTestContext(t)
	audio := filepath.Join(cfg.Paths.ArchiveDir, "Show_Episode-042.wav")
	testsupport.WriteFile(t, audio, 64)

	out, err := runCommand(t, newEnqueueCommand(ctx), audio)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "show_episode-042") {
		t.Fatalf("expected derived episode id in output %q", out)
	}
}

func TestEnqueueMissingAudioFails(t *testing.T) {
	ctx, cfg := newTestContext(t)

	_, err := runCommand(t, newEnqueueCommand(ctx), filepath.Join(cfg.Paths.ArchiveDir, "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing audio file")
	}
}

func TestEnqueueRejectsDuplicateActiveJob(t *testing.T) {
	ctx, cfg := newTestContext(t)
	audio := filepath.Join(cfg.Paths.ArchiveDir, "dup.wav")
	testsupport.WriteFile(t, audio, 64)

	if _, err := runCommand(t, newEnqueueCommand(ctx), audio, "--episode", "dup"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := runCommand(t, newEnqueueCommand(ctx), audio, "--episode", "dup")
	if err == nil || !strings.Contains(err.Error(), "already has an active job") {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestReprocessRequiresPriorJob(t *testing.T) {
	ctx, _ := newTestContext(t)

	if _, err := runCommand(t, newReprocessCommand(ctx), "never-seen"); err == nil {
		t.Fatal("expected error for unknown episode")
	}
}

func TestReprocessGuidedPinsBackend(t *testing.T) {
	ctx, cfg := newTestContext(t)
	job := seedJob(t, cfg, "ep-guided")

	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel seed job: %v", err)
	}

	out, err := runCommand(t, newReprocessCommand(ctx), "ep-guided", "--guided", "--backend", "ecapa-tdnn")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if !strings.Contains(out, "guided_reprocess") {
		t.Fatalf("expected guided reason in output %q", out)
	}

	latest, err := store.LatestForEpisode(context.Background(), "ep-guided")
	if err != nil {
		t.Fatalf("latest for episode: %v", err)
	}
	if latest.BackendOverride != "ecapa-tdnn" {
		t.Fatalf("BackendOverride = %q", latest.BackendOverride)
	}
}

func TestReprocessBackendRequiresGuided(t *testing.T) {
	ctx, _ := newTestContext(t)

	_, err := runCommand(t, newReprocessCommand(ctx), "ep", "--backend", "pyannote")
	if err == nil || !strings.Contains(err.Error(), "--guided") {
		t.Fatalf("expected guided requirement, got %v", err)
	}
}
