package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"rollcall/internal/library"
	"rollcall/internal/testsupport"
)

func TestSpeakersListEmpty(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newSpeakersListCommand(ctx))
	if err != nil {
		t.Fatalf("speakers list: %v", err)
	}
	if !strings.Contains(out, "Voice library is empty") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSpeakersAddAndShow(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newSpeakersAddCommand(ctx), "Alex Reed", "--alias", "Al", "--notes", "host")
	if err != nil {
		t.Fatalf("speakers add: %v", err)
	}
	if !strings.Contains(out, "Saved speaker Alex Reed") {
		t.Fatalf("unexpected output %q", out)
	}

	// Aliases resolve to the canonical entry.
	out, err = runCommand(t, newSpeakersShowCommand(ctx), "al")
	if err != nil {
		t.Fatalf("speakers show: %v", err)
	}
	if !strings.Contains(out, "Speaker: Alex Reed") || !strings.Contains(out, "Al") {
		t.Fatalf("unexpected show output %q", out)
	}
}

func TestSpeakersListShowsSamples(t *testing.T) {
	ctx, cfg := newTestContext(t)

	lib := testsupport.MustOpenLibrary(t, cfg)
	if err := lib.EnsureBackend(context.Background(), "pyannote", 3); err != nil {
		t.Fatalf("ensure backend: %v", err)
	}
	_, err := lib.AddSample(context.Background(), library.NewSample{
		Speaker:       "Dana Cole",
		BackendID:     "pyannote",
		Vector:        []float32{0.1, 0.2, 0.3},
		SampleDate:    time.Now().UTC(),
		Source:        library.SourceManual,
		QualityWeight: 1,
	})
	if err != nil {
		t.Fatalf("add sample: %v", err)
	}

	out, err := runCommand(t, newSpeakersListCommand(ctx))
	if err != nil {
		t.Fatalf("speakers list: %v", err)
	}
	if !strings.Contains(out, "Dana Cole") || !strings.Contains(out, "pyannote") {
		t.Fatalf("unexpected listing %q", out)
	}
}

func TestSpeakersPruneReportsCount(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newSpeakersPruneCommand(ctx), "Nobody", "--source", "harvest")
	if err != nil {
		t.Fatalf("speakers prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 sample(s)") {
		t.Fatalf("unexpected output %q", out)
	}
}
