package services_test

import (
	"context"
	"testing"

	"rollcall/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithEpisode(ctx, "show-s02e07")
	ctx = services.WithStage(ctx, "diarize")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if episode, ok := services.EpisodeFromContext(ctx); !ok || episode != "show-s02e07" {
		t.Fatalf("unexpected episode: %v %v", episode, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "diarize" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
