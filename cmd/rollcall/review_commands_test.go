package main

import (
	"context"
	"strings"
	"testing"

	"rollcall/internal/attribution"
	"rollcall/internal/classify"
	"rollcall/internal/testsupport"
)

func TestReviewFlagThenSignals(t *testing.T) {
	ctx, cfg := newTestContext(t)
	seedJob(t, cfg, "ep-review")

	out, err := runCommand(t, newReviewFlagCommand(ctx), "ep-review",
		"--segment", "3", "--start", "12.5", "--end", "19.0", "--speaker", "Alex Reed")
	if err != nil {
		t.Fatalf("review flag: %v", err)
	}
	if !strings.Contains(out, "Recorded flag") {
		t.Fatalf("unexpected flag output %q", out)
	}

	out, err = runCommand(t, newReviewSignalsCommand(ctx), "ep-review")
	if err != nil {
		t.Fatalf("review signals: %v", err)
	}
	if !strings.Contains(out, "Alex Reed") || !strings.Contains(out, "human_flag_unresolved") {
		t.Fatalf("unexpected signals output %q", out)
	}
}

func TestReviewApproveRecordsTextCorrection(t *testing.T) {
	ctx, cfg := newTestContext(t)
	seedJob(t, cfg, "ep-approve")

	out, err := runCommand(t, newReviewApproveCommand(ctx), "ep-approve",
		"--segment", "0", "--start", "0", "--end", "6.5", "--speaker", "Dana Cole", "--no-voiceprint")
	if err != nil {
		t.Fatalf("review approve: %v", err)
	}
	if !strings.Contains(out, "Recorded correction") {
		t.Fatalf("unexpected approve output %q", out)
	}

	out, err = runCommand(t, newReviewSignalsCommand(ctx), "ep-approve")
	if err != nil {
		t.Fatalf("review signals: %v", err)
	}
	if !strings.Contains(out, "approved_text_correction") {
		t.Fatalf("expected text-correction source in %q", out)
	}
}

func TestReviewPendingListsUnresolvedAndProposals(t *testing.T) {
	ctx, cfg := newTestContext(t)
	db := testsupport.MustOpenDB(t, cfg)

	attrStore := attribution.NewStore(db)
	err := attrStore.SaveJobOutput(context.Background(), "ep-pending", 1, []attribution.Assignment{
		{Cluster: "SPEAKER_00", Confidence: "unresolved", Source: attribution.SourceUnmatched},
	})
	if err != nil {
		t.Fatalf("save job output: %v", err)
	}

	propStore := classify.NewStore(db)
	_, err = propStore.ReplacePending(context.Background(), "ep-pending", []classify.Proposal{
		{SegmentIndex: 2, StartSeconds: 30, EndSeconds: 41, ProposedSpeaker: "Morgan Hale", Confidence: 0.82},
	})
	if err != nil {
		t.Fatalf("replace pending: %v", err)
	}

	out, err := runCommand(t, newReviewPendingCommand(ctx), "ep-pending")
	if err != nil {
		t.Fatalf("review pending: %v", err)
	}
	if !strings.Contains(out, "Unresolved clusters") || !strings.Contains(out, "SPEAKER_00") {
		t.Fatalf("expected unresolved cluster in %q", out)
	}
	if !strings.Contains(out, "Pending proposals") || !strings.Contains(out, "Morgan Hale") {
		t.Fatalf("expected proposal in %q", out)
	}
}

func TestReviewRejectClassification(t *testing.T) {
	ctx, cfg := newTestContext(t)
	db := testsupport.MustOpenDB(t, cfg)

	propStore := classify.NewStore(db)
	proposals, err := propStore.ReplacePending(context.Background(), "ep-reject", []classify.Proposal{
		{SegmentIndex: 1, StartSeconds: 5, EndSeconds: 9, ProposedSpeaker: "Sam Vale", Confidence: 0.7},
	})
	if err != nil {
		t.Fatalf("replace pending: %v", err)
	}

	out, err := runCommand(t, newReviewRejectClassificationCommand(ctx), "1")
	if err != nil {
		t.Fatalf("reject classification: %v", err)
	}
	if !strings.Contains(out, "Rejected proposal 1") {
		t.Fatalf("unexpected output %q", out)
	}

	resolved, err := propStore.Get(context.Background(), proposals[0].ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if resolved.Status != classify.StatusRejected {
		t.Fatalf("status = %q", resolved.Status)
	}
}

func TestReviewSegmentsEmpty(t *testing.T) {
	ctx, _ := newTestContext(t)

	out, err := runCommand(t, newReviewSegmentsCommand(ctx), "ep-none")
	if err != nil {
		t.Fatalf("review segments: %v", err)
	}
	if !strings.Contains(out, "No assignments") {
		t.Fatalf("unexpected output %q", out)
	}
}
