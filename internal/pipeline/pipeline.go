// Package pipeline implements the diarization stage handler. One Execute call
// carries a job from assembled hints through the engine run, cluster matching,
// persisted attribution, the optional classification pass, and the harvest
// that feeds accepted identities back into the voice library.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"rollcall/internal/attribution"
	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/diarize"
	"rollcall/internal/feedback"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/notifications"
	"rollcall/internal/queue"
	"rollcall/internal/services"
	"rollcall/internal/stage"
	"rollcall/internal/storage"
)

// Handler runs one episode through the diarization pipeline.
type Handler struct {
	cfg         *config.Config
	store       *queue.Store
	signals     *hints.Store
	library     *library.Store
	assignments *attribution.Store
	engine      diarize.Engine
	matcher     *match.Matcher
	classifier  *classify.Classifier
	harvester   *feedback.Writer
	notifier    notifications.Service
	logger      *slog.Logger
}

// NewHandler constructs the pipeline stage handler using default dependencies
// built from the configuration and the shared database.
func NewHandler(cfg *config.Config, db *storage.DB, store *queue.Store, logger *slog.Logger) *Handler {
	signals := hints.NewStore(db)
	lib := library.NewStore(db, cfg)
	proposals := classify.NewStore(db)
	engine := diarize.NewExecEngine(cfg)
	classifier := classify.NewClassifier(cfg, proposals, logger)
	harvester := feedback.NewWriter(cfg, signals, lib, proposals, engine, logger)
	return NewHandlerWithDependencies(
		cfg,
		store,
		signals,
		lib,
		attribution.NewStore(db),
		engine,
		classifier,
		harvester,
		notifications.NewService(cfg),
		logger,
	)
}

// NewHandlerWithDependencies allows injecting collaborators (used in tests).
func NewHandlerWithDependencies(
	cfg *config.Config,
	store *queue.Store,
	signals *hints.Store,
	lib *library.Store,
	assignments *attribution.Store,
	engine diarize.Engine,
	classifier *classify.Classifier,
	harvester *feedback.Writer,
	notifier notifications.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:         cfg,
		store:       store,
		signals:     signals,
		library:     lib,
		assignments: assignments,
		engine:      engine,
		matcher:     match.New(cfg.Matching),
		classifier:  classifier,
		harvester:   harvester,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// SetLogger updates the handler's logging destination while preserving
// component labeling.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "pipeline")
}

func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)
	if job.ProgressStage == "" {
		job.ProgressStage = "Diarizing"
	}
	job.ProgressMessage = "Assembling hints"
	job.ProgressPercent = 0
	job.LastError = ""

	audio := strings.TrimSpace(job.AudioPath)
	if audio == "" {
		return services.Wrap(services.ErrValidation, "diarize", "validate inputs", "No audio path recorded on job", nil)
	}
	if _, err := os.Stat(audio); err != nil {
		return services.Wrap(
			services.ErrValidation,
			"diarize",
			"validate inputs",
			fmt.Sprintf("Audio file %s is missing or unreadable", audio),
			err,
		)
	}

	set, err := h.signals.AssembleForEpisode(ctx, job.EpisodeID, job.EpisodeDate)
	if err != nil {
		return err
	}
	snapshot, err := hints.MarshalSet(set)
	if err != nil {
		return services.Wrap(services.ErrTransient, "diarize", "snapshot hints", "Failed to encode hint snapshot", err)
	}
	job.HintsJSON = snapshot
	job.ProgressMessage = fmt.Sprintf("%d anchors assembled", len(set.Anchors))
	logger.Info(
		"starting diarization preparation",
		logging.String("episode_id", job.EpisodeID),
		logging.Int("anchors", len(set.Anchors)),
		logging.Int("exclusions", len(set.ExcludeFromMatching)),
		logging.Int("expected_speakers", set.ExpectedSpeakerCount),
	)
	return nil
}

func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)
	audio := strings.TrimSpace(job.AudioPath)
	logger.Info(
		"starting diarization run",
		logging.String("episode_id", job.EpisodeID),
		logging.String("audio", audio),
		logging.String("backend_override", strings.TrimSpace(job.BackendOverride)),
	)

	staging := job.StagingRoot(h.cfg.Paths.StagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "diarize", "prepare staging", "Failed to create staging directory", err)
	}

	set, err := h.signals.AssembleForEpisode(ctx, job.EpisodeID, job.EpisodeDate)
	if err != nil {
		return err
	}
	hintsPath := ""
	if !set.Empty() {
		hintsPath = filepath.Join(staging, "hints.json")
		if err := hints.WriteFile(set, hintsPath); err != nil {
			return services.Wrap(services.ErrTransient, "diarize", "write hints", "Failed to write hints file", err)
		}
	}

	result, err := h.engine.Diarize(ctx, diarize.Request{
		AudioPath:   audio,
		OutputPath:  filepath.Join(staging, "segments.json"),
		HintsPath:   hintsPath,
		NumSpeakers: set.ExpectedSpeakerCount,
		Backend:     strings.TrimSpace(job.BackendOverride),
		EpisodeDate: job.EpisodeDate,
		Progress:    h.progressSink(ctx, job),
	})
	if err != nil {
		return err
	}
	segments := result.Segments
	if len(segments) == 0 {
		return services.Wrap(services.ErrExternalTool, "diarize", "run engine", "Engine produced no segments", nil)
	}
	logger.Info("engine run completed", logging.Int("segments", len(segments)))

	h.updateProgress(ctx, job, fmt.Sprintf("Scoring %d clusters", countClusters(segments)), 85)
	outcome, err := h.attribute(ctx, staging, job, set, segments)
	if err != nil {
		return err
	}
	if err := h.assignments.SaveJobOutput(ctx, job.EpisodeID, job.ID, outcome.assignments); err != nil {
		return err
	}

	artifactPath := filepath.Join(staging, "attribution.json")
	if err := writeArtifact(artifactPath, job, segments, outcome); err != nil {
		return err
	}
	job.ResultPath = artifactPath

	if h.classifier.Enabled() && len(outcome.targets) > 0 {
		h.updateProgress(ctx, job, "Requesting classification", 92)
		h.proposeClassifications(ctx, job, outcome.targets)
	}

	if h.harvester != nil {
		h.updateProgress(ctx, job, "Harvesting training clips", 96)
		h.harvest(ctx, job, audio, segments, outcome.assignments)
	}

	tally := outcome.tally()
	summary := fmt.Sprintf(
		"%d clusters: %d anchored, %d matched, %d for review",
		len(outcome.assignments), tally.anchored, tally.matched, tally.review,
	)
	h.updateProgress(ctx, job, summary, 100)
	logger.Info(
		"diarization run completed",
		logging.String("episode_id", job.EpisodeID),
		logging.Int("clusters", len(outcome.assignments)),
		logging.Int("anchored", tally.anchored),
		logging.Int("matched", tally.matched),
		logging.Int("excluded", tally.excluded),
		logging.Int("review", tally.review),
		logging.String("result_path", artifactPath),
	)

	if h.notifier != nil {
		title := strings.TrimSpace(job.EpisodeTitle)
		if title == "" {
			title = job.EpisodeID
		}
		resolved := tally.anchored + tally.matched + tally.excluded
		if err := h.notifier.NotifyEpisodeAttributed(ctx, title, resolved, tally.review); err != nil {
			logger.Warn("attribution notification failed", logging.Error(err))
		}
	}
	return nil
}

// HealthCheck verifies pipeline prerequisites such as the staging directory
// and the diarization engine.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "pipeline"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(h.cfg.Paths.StagingDir) == "" {
		return stage.Unhealthy(name, "staging directory not configured")
	}
	if h.engine == nil {
		return stage.Unhealthy(name, "diarization engine unavailable")
	}
	if err := h.engine.Probe(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("engine probe failed: %v", err))
	}
	return stage.Healthy(name)
}

// proposeClassifications runs the LLM pass for unresolved clusters. Failures
// are logged and swallowed; classification supplements attribution and must
// never fail the job.
func (h *Handler) proposeClassifications(ctx context.Context, job *queue.Job, targets []classify.Target) {
	logger := logging.WithContext(ctx, h.logger)
	roster, err := h.library.Directory(ctx)
	if err != nil {
		logger.Warn("classification roster unavailable", logging.Error(err))
		return
	}
	proposals, err := h.classifier.Propose(ctx, job.EpisodeID, targets, roster)
	if err != nil {
		logger.Warn("classification pass failed", logging.Error(err))
		return
	}
	logger.Info(
		"classification proposals recorded",
		logging.Int("targets", len(targets)),
		logging.Int("proposals", len(proposals)),
	)
}

// harvest feeds anchor-corroborated clusters back into the voice library.
// Harvest failures never fail the job; the attribution output already stands.
func (h *Handler) harvest(ctx context.Context, job *queue.Job, audio string, segments []diarize.Segment, assignments []attribution.Assignment) {
	logger := logging.WithContext(ctx, h.logger)
	refs := make([]*attribution.Assignment, len(assignments))
	for i := range assignments {
		refs[i] = &assignments[i]
	}
	summary, err := h.harvester.HarvestEpisode(ctx, job.EpisodeID, audio, job.EpisodeDate, segments, refs)
	if err != nil {
		logger.Warn("harvest pass failed", logging.Error(err))
		return
	}
	if summary.Clips > 0 || summary.Skipped > 0 {
		logger.Info(
			"harvest pass finished",
			logging.Int("clips", summary.Clips),
			logging.Int("samples", summary.Samples),
			logging.Int("skipped", summary.Skipped),
		)
	}
}

// progressSink translates engine progress events into persisted job progress.
// The engine owns the first 80 points of the job; matching, classification,
// and harvest report above that. Persists are throttled so chatty engines do
// not hammer the database.
func (h *Handler) progressSink(ctx context.Context, job *queue.Job) func(diarize.ProgressUpdate) {
	const (
		progressPersistInterval = 2 * time.Second
		engineShare             = 80.0
	)
	logger := logging.WithContext(ctx, h.logger)
	var lastPersisted time.Time
	return func(update diarize.ProgressUpdate) {
		if ctx.Err() != nil {
			return
		}
		percent := update.Percent
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		now := time.Now()
		if !lastPersisted.IsZero() && now.Sub(lastPersisted) < progressPersistInterval && percent < 100 {
			return
		}
		message := strings.TrimSpace(update.Stage)
		if message == "" {
			message = "Diarizing"
		}
		copy := *job
		copy.SetProgress("Diarizing", message, percent*engineShare/100)
		if err := h.store.UpdateProgress(ctx, &copy); err != nil {
			logger.Warn("failed to persist engine progress", logging.Error(err))
			return
		}
		*job = copy
		lastPersisted = now
	}
}

func (h *Handler) updateProgress(ctx context.Context, job *queue.Job, message string, percent float64) {
	logger := logging.WithContext(ctx, h.logger)
	copy := *job
	copy.ProgressMessage = message
	copy.ProgressPercent = percent
	if err := h.store.UpdateProgress(ctx, &copy); err != nil {
		logger.Warn("failed to persist pipeline progress", logging.Error(err))
		return
	}
	*job = copy
}

func countClusters(segments []diarize.Segment) int {
	seen := make(map[string]struct{}, 4)
	for _, segment := range segments {
		seen[segment.Cluster] = struct{}{}
	}
	return len(seen)
}
