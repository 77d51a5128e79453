package classify_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rollcall/internal/classify"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

type stubCompleter struct {
	content string
	err     error
	prompts []string
}

func (s *stubCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	if s.err != nil {
		return "", s.err
	}
	return s.content, nil
}

func testRoster() []*library.Speaker {
	return []*library.Speaker{
		{Name: "Dana Gould", Aliases: []string{"DG"}},
		{Name: "Sweet Bean", Notes: "recurring character"},
	}
}

func testTargets() []classify.Target {
	return []classify.Target{
		{SegmentIndex: 3, StartSeconds: 12.0, EndSeconds: 19.5, Cluster: "SPEAKER_01", Candidates: []match.Candidate{{Speaker: "Dana Gould", Similarity: 0.61}}},
		{SegmentIndex: 7, StartSeconds: 301.2, EndSeconds: 318.7, Cluster: "SPEAKER_03"},
		{SegmentIndex: 9, StartSeconds: 400.0, EndSeconds: 410.0, Cluster: "SPEAKER_03"},
	}
}

func newClassifier(t *testing.T, stub *stubCompleter) (*classify.Classifier, *classify.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := classify.NewStore(testsupport.MustOpenDB(t, cfg))
	classifier := classify.NewClassifier(cfg, store, logging.NewNop(), classify.WithCompleter(stub))
	return classifier, store
}

func TestProposeNormalizesPayload(t *testing.T) {
	stub := &stubCompleter{content: `{"proposals":[
        {"segment_idx":3,"proposed_speaker":"dg","is_character_voice":false,"confidence":0.8,"rationale":"voice matches"},
        {"segment_idx":3,"proposed_speaker":"Dana Gould","is_character_voice":false,"confidence":0.9,"rationale":"duplicate"},
        {"segment_idx":7,"proposed_speaker":"Bean","is_character_voice":true,"confidence":1.7,"rationale":"catchphrase"},
        {"segment_idx":9,"proposed_speaker":"","is_character_voice":true,"confidence":0.6,"rationale":"bit, unknown character"},
        {"segment_idx":9,"proposed_speaker":"Rando Calrissian","is_character_voice":false,"confidence":0.9,"rationale":"not on roster"},
        {"segment_idx":55,"proposed_speaker":"Dana Gould","is_character_voice":false,"confidence":0.9,"rationale":"unknown segment"}
    ]}`}
	classifier, _ := newClassifier(t, stub)

	proposals, err := classifier.Propose(context.Background(), "ep-1", testTargets(), testRoster())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(proposals))
	}

	first := proposals[0]
	if first.SegmentIndex != 3 || first.ProposedSpeaker != "Dana Gould" {
		t.Fatalf("alias should resolve to canonical name, got %+v", first)
	}
	if first.StartSeconds != 12.0 || first.EndSeconds != 19.5 {
		t.Fatalf("timings must come from the target, got %+v", first)
	}
	if first.Status != classify.StatusPending {
		t.Fatalf("expected pending status, got %q", first.Status)
	}

	second := proposals[1]
	if second.ProposedSpeaker != "Sweet Bean" || !second.IsCharacterVoice {
		t.Fatalf("partial name should resolve against roster, got %+v", second)
	}
	if second.Confidence != 1 {
		t.Fatalf("confidence should clamp to 1, got %v", second.Confidence)
	}

	third := proposals[2]
	if third.SegmentIndex != 9 || third.ProposedSpeaker != "" || !third.IsCharacterVoice {
		t.Fatalf("unknown character bit should survive with empty speaker, got %+v", third)
	}

	if len(stub.prompts) != 1 {
		t.Fatalf("expected a single completion call, got %d", len(stub.prompts))
	}
	prompt := stub.prompts[0]
	for _, want := range []string{"Sweet Bean", "recurring character", "segment 7", "cluster SPEAKER_03", "Dana Gould 0.61", "no voiceprint ranking"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestProposeDropsLowConfidence(t *testing.T) {
	stub := &stubCompleter{content: `{"proposals":[
        {"segment_idx":3,"proposed_speaker":"Dana Gould","is_character_voice":false,"confidence":0.2,"rationale":"guess"}
    ]}`}
	classifier, store := newClassifier(t, stub)

	proposals, err := classifier.Propose(context.Background(), "ep-2", testTargets(), testRoster())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("expected weak guess to be dropped, got %d proposals", len(proposals))
	}
	stored, err := store.ListForEpisode(context.Background(), "ep-2", "")
	if err != nil {
		t.Fatalf("ListForEpisode: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(stored))
	}
}

func TestProposeReplacesPendingKeepsHistory(t *testing.T) {
	stub := &stubCompleter{content: `{"proposals":[
        {"segment_idx":3,"proposed_speaker":"Dana Gould","is_character_voice":false,"confidence":0.8,"rationale":"first pass"},
        {"segment_idx":7,"proposed_speaker":"Sweet Bean","is_character_voice":true,"confidence":0.7,"rationale":"first pass"}
    ]}`}
	classifier, store := newClassifier(t, stub)
	ctx := context.Background()

	proposals, err := classifier.Propose(ctx, "ep-3", testTargets(), testRoster())
	if err != nil {
		t.Fatalf("Propose first: %v", err)
	}
	approved, err := store.Resolve(ctx, proposals[0].ID, classify.StatusApproved)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if approved.Status != classify.StatusApproved {
		t.Fatalf("expected approved, got %q", approved.Status)
	}

	stub.content = `{"proposals":[
        {"segment_idx":9,"proposed_speaker":"Sweet Bean","is_character_voice":true,"confidence":0.9,"rationale":"second pass"}
    ]}`
	if _, err := classifier.Propose(ctx, "ep-3", testTargets(), testRoster()); err != nil {
		t.Fatalf("Propose second: %v", err)
	}

	all, err := store.ListForEpisode(ctx, "ep-3", "")
	if err != nil {
		t.Fatalf("ListForEpisode: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected approved row plus fresh pending row, got %d", len(all))
	}
	pending, err := store.ListForEpisode(ctx, "ep-3", classify.StatusPending)
	if err != nil {
		t.Fatalf("ListForEpisode pending: %v", err)
	}
	if len(pending) != 1 || pending[0].SegmentIndex != 9 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestResolveRejectsDoubleDecision(t *testing.T) {
	stub := &stubCompleter{content: `{"proposals":[
        {"segment_idx":3,"proposed_speaker":"Dana Gould","is_character_voice":false,"confidence":0.8,"rationale":"pass"}
    ]}`}
	classifier, store := newClassifier(t, stub)
	ctx := context.Background()

	proposals, err := classifier.Propose(ctx, "ep-4", testTargets(), testRoster())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := store.Resolve(ctx, proposals[0].ID, classify.StatusRejected); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := store.Resolve(ctx, proposals[0].ID, classify.StatusApproved); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error on double decision, got %v", err)
	}
	if _, err := store.Resolve(ctx, 9999, classify.StatusApproved); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing proposal, got %v", err)
	}
}

func TestProposeDisabledWithoutKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := classify.NewStore(testsupport.MustOpenDB(t, cfg))
	classifier := classify.NewClassifier(cfg, store, logging.NewNop())
	if classifier.Enabled() {
		t.Fatal("classifier should be disabled without an API key")
	}
	_, err := classifier.Propose(context.Background(), "ep-5", testTargets(), testRoster())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestProposeMalformedPayload(t *testing.T) {
	stub := &stubCompleter{content: `the speaker is probably Dana`}
	classifier, _ := newClassifier(t, stub)
	_, err := classifier.Propose(context.Background(), "ep-6", testTargets(), testRoster())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error for malformed payload, got %v", err)
	}
}

func TestProposeNoTargets(t *testing.T) {
	stub := &stubCompleter{content: `{"proposals":[]}`}
	classifier, _ := newClassifier(t, stub)
	proposals, err := classifier.Propose(context.Background(), "ep-7", nil, testRoster())
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposals != nil {
		t.Fatalf("expected no proposals, got %v", proposals)
	}
	if len(stub.prompts) != 0 {
		t.Fatal("expected no completion call without targets")
	}
}
