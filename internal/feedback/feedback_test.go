package feedback_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/diarize"
	"rollcall/internal/feedback"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

// stubEngine embeds clips into fixed-size vectors without running anything.
type stubEngine struct {
	dims     map[string]int
	embedErr map[string]error
	embeds   int
}

func (e *stubEngine) Probe(ctx context.Context) error { return nil }

func (e *stubEngine) Diarize(ctx context.Context, req diarize.Request) (*diarize.Result, error) {
	return nil, errors.New("diarize not expected in this test")
}

func (e *stubEngine) Embed(ctx context.Context, clipPath, backend string) ([]float32, error) {
	if err := e.embedErr[backend]; err != nil {
		return nil, err
	}
	dim, ok := e.dims[backend]
	if !ok {
		return nil, fmt.Errorf("unexpected backend %q", backend)
	}
	e.embeds++
	vector := make([]float32, dim)
	vector[0] = 1
	return vector, nil
}

type fixture struct {
	cfg     *config.Config
	writer  *feedback.Writer
	signals *hints.Store
	lib     *library.Store
	props   *classify.Store
	engine  *stubEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg"))
	cfg.Diarization.Dimensions = map[string]int{"pyannote": 4, "ecapa-tdnn": 3}

	db := testsupport.MustOpenDB(t, cfg)
	signals := hints.NewStore(db)
	lib := library.NewStore(db, cfg)
	props := classify.NewStore(db)
	if err := lib.EnsureConfiguredBackends(context.Background(), cfg); err != nil {
		t.Fatalf("EnsureConfiguredBackends failed: %v", err)
	}

	engine := &stubEngine{dims: cfg.Diarization.Dimensions}
	return &fixture{
		cfg:     cfg,
		writer:  feedback.NewWriter(cfg, signals, lib, props, engine, slog.Default()),
		signals: signals,
		lib:     lib,
		props:   props,
		engine:  engine,
	}
}

func (f *fixture) audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(f.cfg), "episode.flac")
	testsupport.WriteFile(t, path, 64)
	return path
}

func TestFlagRecordsSignalWithoutHarvest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signal, err := f.writer.Flag(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 4,
		StartSeconds: 10,
		EndSeconds:   18,
		Speaker:      "Dana Gould",
	})
	if err != nil {
		t.Fatalf("Flag failed: %v", err)
	}
	if signal.ConfidenceSource != hints.SourceFlagUnresolved {
		t.Fatalf("expected unresolved flag source, got %q", signal.ConfidenceSource)
	}

	samples, err := f.lib.SamplesForSpeaker(ctx, "Dana Gould")
	if err != nil {
		t.Fatalf("SamplesForSpeaker failed: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("a flag must never harvest, found %d samples", len(samples))
	}
	if f.engine.embeds != 0 {
		t.Fatalf("flag triggered %d embeddings", f.engine.embeds)
	}
}

func TestAppendSignalRejectsPlaceholderLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, label := range []string{"", "SPEAKER_03", "Unknown"} {
		_, err := f.writer.Flag(ctx, feedback.Correction{
			EpisodeID:    "ep-101",
			SegmentIndex: 0,
			StartSeconds: 0,
			EndSeconds:   5,
			Speaker:      label,
		})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("label %q: expected validation error, got %v", label, err)
		}
	}
}

func TestApproveCorrectionHarvestsIntoEveryBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signal, harvest, err := f.writer.ApproveCorrection(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 2,
		StartSeconds: 30,
		EndSeconds:   42,
		Speaker:      "Dana Gould",
		AudioPath:    f.audioFile(t),
	})
	if err != nil {
		t.Fatalf("ApproveCorrection failed: %v", err)
	}
	if signal.ConfidenceSource != hints.SourceTextCorrection {
		t.Fatalf("expected text correction source, got %q", signal.ConfidenceSource)
	}
	if harvest.Skipped != "" {
		t.Fatalf("harvest skipped: %s", harvest.Skipped)
	}
	if harvest.Samples != 2 {
		t.Fatalf("expected one sample per backend, got %d", harvest.Samples)
	}
	wantDir := filepath.Join(f.cfg.Paths.LibraryDir, "clips")
	if !strings.HasPrefix(harvest.ClipPath, wantDir) {
		t.Fatalf("clip %q not under %q", harvest.ClipPath, wantDir)
	}

	samples, err := f.lib.SamplesForSpeaker(ctx, "Dana Gould")
	if err != nil {
		t.Fatalf("SamplesForSpeaker failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	for _, sample := range samples {
		if sample.Source != library.SourceHarvest {
			t.Fatalf("expected harvest source, got %q", sample.Source)
		}
		if sample.EpisodeID != "ep-101" {
			t.Fatalf("expected episode id on sample, got %q", sample.EpisodeID)
		}
		if sample.ClipPath != harvest.ClipPath {
			t.Fatalf("sample clip %q != harvested clip %q", sample.ClipPath, harvest.ClipPath)
		}
		if sample.QualityWeight != 1 {
			t.Fatalf("human approvals carry weight 1, got %v", sample.QualityWeight)
		}
	}
	for _, backend := range []string{"pyannote", "ecapa-tdnn"} {
		centroid, err := f.lib.Centroid(ctx, "Dana Gould", backend)
		if err != nil {
			t.Fatalf("Centroid(%s) failed: %v", backend, err)
		}
		if centroid == nil {
			t.Fatalf("no centroid in %s after harvest", backend)
		}
	}
}

func TestCharacterVoiceNeverHarvests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signal, harvest, err := f.writer.ApproveCorrection(ctx, feedback.Correction{
		EpisodeID:        "ep-101",
		SegmentIndex:     6,
		StartSeconds:     100,
		EndSeconds:       120,
		Speaker:          "Dana Gould",
		IsCharacterVoice: true,
		AudioPath:        f.audioFile(t),
	})
	if err != nil {
		t.Fatalf("ApproveCorrection failed: %v", err)
	}
	if !signal.ExcludedFromVoiceprint {
		t.Fatal("character voices must be excluded from the voiceprint")
	}
	if harvest.Samples != 0 || harvest.Skipped == "" {
		t.Fatalf("expected a skipped harvest, got %+v", harvest)
	}
	if f.engine.embeds != 0 {
		t.Fatalf("character voice triggered %d embeddings", f.engine.embeds)
	}
}

func TestHarvestSkipsShortSegments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, harvest, err := f.writer.ResolveFlag(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 1,
		StartSeconds: 5,
		EndSeconds:   7,
		Speaker:      "Dana Gould",
		AudioPath:    f.audioFile(t),
	})
	if err != nil {
		t.Fatalf("ResolveFlag failed: %v", err)
	}
	if harvest.Samples != 0 || !strings.Contains(harvest.Skipped, "minimum") {
		t.Fatalf("expected short-segment skip, got %+v", harvest)
	}
}

func TestHarvestStopsAtPerEpisodeCap(t *testing.T) {
	f := newFixture(t)
	f.cfg.Harvest.MaxSamplesPerSpeaker = 1
	ctx := context.Background()
	audio := f.audioFile(t)

	_, first, err := f.writer.ApproveCorrection(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 1,
		StartSeconds: 0,
		EndSeconds:   10,
		Speaker:      "Dana Gould",
		AudioPath:    audio,
	})
	if err != nil {
		t.Fatalf("first ApproveCorrection failed: %v", err)
	}
	if first.Samples == 0 {
		t.Fatalf("first harvest skipped: %s", first.Skipped)
	}

	_, second, err := f.writer.ApproveCorrection(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 2,
		StartSeconds: 20,
		EndSeconds:   30,
		Speaker:      "Dana Gould",
		AudioPath:    audio,
	})
	if err != nil {
		t.Fatalf("second ApproveCorrection failed: %v", err)
	}
	if second.Samples != 0 || !strings.Contains(second.Skipped, "clips from this episode") {
		t.Fatalf("expected cap skip, got %+v", second)
	}
}

func TestEmbedFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.engine.embedErr = map[string]error{
		"pyannote":   errors.New("model load failed"),
		"ecapa-tdnn": errors.New("model load failed"),
	}
	ctx := context.Background()

	signal, harvest, err := f.writer.ApproveCorrection(ctx, feedback.Correction{
		EpisodeID:    "ep-101",
		SegmentIndex: 2,
		StartSeconds: 30,
		EndSeconds:   42,
		Speaker:      "Dana Gould",
		AudioPath:    f.audioFile(t),
	})
	if err != nil {
		t.Fatalf("the decision must stand when harvest fails, got %v", err)
	}
	if signal == nil || signal.CorrectedSpeaker != "Dana Gould" {
		t.Fatalf("signal not recorded: %+v", signal)
	}
	if harvest.Samples != 0 || !strings.Contains(harvest.Skipped, "harvest failed") {
		t.Fatalf("expected harvest failure report, got %+v", harvest)
	}

	latest, err := f.signals.ListForEpisode(ctx, "ep-101")
	if err != nil {
		t.Fatalf("ListForEpisode failed: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected the signal on the ledger, got %d", len(latest))
	}
}

func TestApproveClassificationWeightsByConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.props.ReplacePending(ctx, "ep-101", []classify.Proposal{{
		EpisodeID:       "ep-101",
		SegmentIndex:    7,
		StartSeconds:    50,
		EndSeconds:      62,
		ProposedSpeaker: "Sweet Bean",
		Confidence:      0.85,
		Rationale:       "addressed by name",
	}})
	if err != nil {
		t.Fatalf("ReplacePending failed: %v", err)
	}

	signal, harvest, err := f.writer.ApproveClassification(ctx, feedback.ClassificationApproval{
		ProposalID: stored[0].ID,
		AudioPath:  f.audioFile(t),
	})
	if err != nil {
		t.Fatalf("ApproveClassification failed: %v", err)
	}
	if signal.ConfidenceSource != hints.SourceClassification {
		t.Fatalf("expected classification source, got %q", signal.ConfidenceSource)
	}
	if harvest.Samples == 0 {
		t.Fatalf("harvest skipped: %s", harvest.Skipped)
	}

	proposal, err := f.props.Get(ctx, stored[0].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if proposal.Status != classify.StatusApproved {
		t.Fatalf("expected approved proposal, got %q", proposal.Status)
	}

	samples, err := f.lib.SamplesForSpeaker(ctx, "Sweet Bean")
	if err != nil {
		t.Fatalf("SamplesForSpeaker failed: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("expected harvested samples")
	}
	for _, sample := range samples {
		if sample.QualityWeight != 0.85 {
			t.Fatalf("expected confidence-weighted sample, got %v", sample.QualityWeight)
		}
	}
}

func TestApproveClassificationHonorsOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.props.ReplacePending(ctx, "ep-101", []classify.Proposal{{
		EpisodeID:       "ep-101",
		SegmentIndex:    3,
		StartSeconds:    10,
		EndSeconds:      20,
		ProposedSpeaker: "Sweet Bean",
		Confidence:      0.7,
	}})
	if err != nil {
		t.Fatalf("ReplacePending failed: %v", err)
	}

	signal, _, err := f.writer.ApproveClassification(ctx, feedback.ClassificationApproval{
		ProposalID:      stored[0].ID,
		SpeakerOverride: "Dana Gould",
	})
	if err != nil {
		t.Fatalf("ApproveClassification failed: %v", err)
	}
	if signal.CorrectedSpeaker != "Dana Gould" {
		t.Fatalf("override not applied, got %q", signal.CorrectedSpeaker)
	}
}

func TestRejectClassificationLeavesLedgerAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.props.ReplacePending(ctx, "ep-101", []classify.Proposal{{
		EpisodeID:       "ep-101",
		SegmentIndex:    9,
		StartSeconds:    70,
		EndSeconds:      80,
		ProposedSpeaker: "Sweet Bean",
		Confidence:      0.6,
	}})
	if err != nil {
		t.Fatalf("ReplacePending failed: %v", err)
	}
	if err := f.writer.RejectClassification(ctx, stored[0].ID); err != nil {
		t.Fatalf("RejectClassification failed: %v", err)
	}

	proposal, err := f.props.Get(ctx, stored[0].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if proposal.Status != classify.StatusRejected {
		t.Fatalf("expected rejected proposal, got %q", proposal.Status)
	}
	ledger, err := f.signals.ListForEpisode(ctx, "ep-101")
	if err != nil {
		t.Fatalf("ListForEpisode failed: %v", err)
	}
	if len(ledger) != 0 {
		t.Fatalf("rejection wrote %d signals", len(ledger))
	}
}

func TestRebuildBackendReembedsStoredClips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clip := filepath.Join(f.cfg.Paths.LibraryDir, "clips", "ep-101", "sample.wav")
	testsupport.WriteFile(t, clip, 64)
	sampleDate := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	if _, err := f.lib.AddSample(ctx, library.NewSample{
		Speaker:       "Dana Gould",
		BackendID:     "pyannote",
		Vector:        []float32{1, 0, 0, 0},
		SampleDate:    sampleDate,
		Source:        library.SourceHarvest,
		EpisodeID:     "ep-101",
		QualityWeight: 0.9,
		ClipPath:      clip,
	}); err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}
	missing := filepath.Join(f.cfg.Paths.LibraryDir, "clips", "ep-102", "gone.wav")
	if _, err := f.lib.AddSample(ctx, library.NewSample{
		Speaker:    "Dana Gould",
		BackendID:  "pyannote",
		Vector:     []float32{0, 1, 0, 0},
		SampleDate: sampleDate,
		Source:     library.SourceHarvest,
		EpisodeID:  "ep-102",
		ClipPath:   missing,
	}); err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}

	summary, err := f.writer.RebuildBackend(ctx, "ecapa-tdnn")
	if err != nil {
		t.Fatalf("RebuildBackend failed: %v", err)
	}
	if summary.Clips != 1 || summary.Skipped != 1 {
		t.Fatalf("expected 1 rebuilt and 1 skipped clip, got %+v", summary)
	}

	samples, err := f.lib.SamplesForSpeaker(ctx, "Dana Gould")
	if err != nil {
		t.Fatalf("SamplesForSpeaker failed: %v", err)
	}
	var rebuilt *library.EmbeddingSample
	for _, sample := range samples {
		if sample.BackendID == "ecapa-tdnn" {
			rebuilt = sample
		}
	}
	if rebuilt == nil {
		t.Fatal("no sample in the rebuilt backend")
	}
	if rebuilt.Source != library.SourceRebuild {
		t.Fatalf("expected rebuild source, got %q", rebuilt.Source)
	}
	if rebuilt.QualityWeight != 0.9 {
		t.Fatalf("rebuild must carry the clip's weight, got %v", rebuilt.QualityWeight)
	}
	if !rebuilt.SampleDate.Equal(sampleDate) {
		t.Fatalf("rebuild must carry the clip's date, got %v", rebuilt.SampleDate)
	}
	centroid, err := f.lib.Centroid(ctx, "Dana Gould", "ecapa-tdnn")
	if err != nil {
		t.Fatalf("Centroid failed: %v", err)
	}
	if centroid == nil {
		t.Fatal("no centroid in the rebuilt backend")
	}
}

func TestRebuildBackendRequiresRegistration(t *testing.T) {
	f := newFixture(t)

	_, err := f.writer.RebuildBackend(context.Background(), "wavlm")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
