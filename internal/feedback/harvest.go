package feedback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/attribution"
	"rollcall/internal/diarize"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/services"
	"rollcall/internal/textutil"
)

// HarvestResult reports what one harvest attempt did. A non-empty Skipped
// explains why no sample was taken.
type HarvestResult struct {
	ClipPath string
	Samples  int
	Skipped  string
}

// EpisodeHarvest summarizes a post-run harvest across an episode.
type EpisodeHarvest struct {
	Clips   int
	Samples int
	Skipped int
}

func (w *Writer) harvestForSignal(ctx context.Context, signal *hints.Signal, correction Correction, weight float64) *HarvestResult {
	if !w.cfg.Harvest.Enabled {
		return &HarvestResult{Skipped: "harvesting is disabled"}
	}
	if signal.ExcludedFromVoiceprint {
		return &HarvestResult{Skipped: "segment is excluded from the voiceprint"}
	}
	if correction.AudioPath == "" {
		return &HarvestResult{Skipped: "no audio reference supplied"}
	}
	duration := correction.EndSeconds - correction.StartSeconds
	if duration < w.cfg.Harvest.MinSegmentSeconds {
		return &HarvestResult{Skipped: fmt.Sprintf("segment is %.1fs, minimum is %.1fs", duration, w.cfg.Harvest.MinSegmentSeconds)}
	}
	taken, err := w.library.HarvestedClips(ctx, signal.CorrectedSpeaker, signal.EpisodeID)
	if err != nil {
		return w.harvestFailed(signal.EpisodeID, signal.CorrectedSpeaker, err)
	}
	if taken >= w.cfg.Harvest.MaxSamplesPerSpeaker {
		return &HarvestResult{Skipped: fmt.Sprintf("speaker already has %d clips from this episode", taken)}
	}

	result, err := w.harvestClip(ctx, clipRequest{
		episodeID:   signal.EpisodeID,
		audioPath:   correction.AudioPath,
		start:       correction.StartSeconds,
		end:         correction.EndSeconds,
		speaker:     signal.CorrectedSpeaker,
		episodeDate: correction.EpisodeDate,
		source:      library.SourceHarvest,
		weight:      weight,
	})
	if err != nil {
		return w.harvestFailed(signal.EpisodeID, signal.CorrectedSpeaker, err)
	}
	return result
}

func (w *Writer) harvestFailed(episodeID, speaker string, err error) *HarvestResult {
	logging.WarnWithContext(w.logger, "sample harvest failed", "harvest_failed",
		logging.String("episode_id", episodeID),
		logging.String("speaker", speaker),
		logging.Error(err))
	return &HarvestResult{Skipped: fmt.Sprintf("harvest failed: %v", err)}
}

type clipRequest struct {
	episodeID   string
	audioPath   string
	start       float64
	end         float64
	speaker     string
	episodeDate *time.Time
	source      string
	weight      float64
}

// harvestClip cuts one clip and embeds it into every configured backend.
// A clip that produced no sample at all is removed again and reported as an
// error; partial backend coverage is kept.
func (w *Writer) harvestClip(ctx context.Context, req clipRequest) (*HarvestResult, error) {
	clipDir := filepath.Join(w.cfg.Paths.LibraryDir, "clips", textutil.SanitizeFileName(req.episodeID))
	dest := filepath.Join(clipDir, uuid.NewString()+".wav")
	if err := diarize.ExtractClip(ctx, w.cfg.FFmpegBinary(), req.audioPath, req.start, req.end, dest); err != nil {
		return nil, err
	}

	sampleDate := time.Now().UTC()
	if req.episodeDate != nil {
		sampleDate = req.episodeDate.UTC()
	}

	backends := w.cfg.EmbeddingBackends()
	if len(backends) == 0 {
		_ = os.Remove(dest)
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "harvest clip", "no embedding backends configured", nil)
	}

	var (
		samples int
		lastErr error
	)
	for _, backend := range backends {
		vector, err := w.engine.Embed(ctx, dest, backend)
		if err != nil {
			lastErr = err
			logging.WarnWithContext(w.logger, "clip embedding failed", "embed_failed",
				logging.String("backend", backend),
				logging.String("clip", dest),
				logging.Error(err))
			continue
		}
		if _, err := w.library.AddSample(ctx, library.NewSample{
			Speaker:       req.speaker,
			BackendID:     backend,
			Vector:        vector,
			SampleDate:    sampleDate,
			Source:        req.source,
			EpisodeID:     req.episodeID,
			QualityWeight: req.weight,
			ClipPath:      dest,
		}); err != nil {
			lastErr = err
			logging.WarnWithContext(w.logger, "sample insert failed", "sample_failed",
				logging.String("backend", backend),
				logging.String("speaker", req.speaker),
				logging.Error(err))
			continue
		}
		if _, err := w.library.RecomputeCentroid(ctx, req.speaker, backend); err != nil {
			logging.WarnWithContext(w.logger, "centroid rebuild failed", "centroid_failed",
				logging.String("backend", backend),
				logging.String("speaker", req.speaker),
				logging.Error(err))
		}
		samples++
	}
	if samples == 0 {
		_ = os.Remove(dest)
		if lastErr == nil {
			lastErr = fmt.Errorf("no backend produced a sample")
		}
		return nil, lastErr
	}

	w.logger.Info("voice sample harvested",
		logging.String("episode_id", req.episodeID),
		logging.String("speaker", req.speaker),
		logging.String("clip", dest),
		logging.Int("samples", samples))
	return &HarvestResult{ClipPath: dest, Samples: samples}, nil
}

// HarvestEpisode collects samples from a completed run's anchored clusters.
// Only human-corroborated identities feed the library; auto matches never
// train the thing that produced them.
func (w *Writer) HarvestEpisode(
	ctx context.Context,
	episodeID, audioPath string,
	episodeDate *time.Time,
	segments []diarize.Segment,
	assignments []*attribution.Assignment,
) (*EpisodeHarvest, error) {
	summary := &EpisodeHarvest{}
	if !w.cfg.Harvest.Enabled || audioPath == "" {
		return summary, nil
	}

	anchored := make(map[string]string)
	for _, assignment := range assignments {
		if assignment.Source != attribution.SourceAnchor {
			continue
		}
		if assignment.Speaker == "" || textutil.IsPlaceholderLabel(assignment.Speaker) {
			continue
		}
		anchored[assignment.Cluster] = assignment.Speaker
	}
	if len(anchored) == 0 {
		return summary, nil
	}

	byCluster := make(map[string][]diarize.Segment)
	for _, segment := range segments {
		if _, ok := anchored[segment.Cluster]; ok {
			byCluster[segment.Cluster] = append(byCluster[segment.Cluster], segment)
		}
	}

	budgets := make(map[string]int)
	for _, speaker := range anchored {
		if _, ok := budgets[speaker]; ok {
			continue
		}
		taken, err := w.library.HarvestedClips(ctx, speaker, episodeID)
		if err != nil {
			return summary, err
		}
		budgets[speaker] = w.cfg.Harvest.MaxSamplesPerSpeaker - taken
	}

	clusters := make([]string, 0, len(byCluster))
	for cluster := range byCluster {
		clusters = append(clusters, cluster)
	}
	sort.Strings(clusters)

	for _, cluster := range clusters {
		speaker := anchored[cluster]
		segs := byCluster[cluster]
		sort.SliceStable(segs, func(i, j int) bool {
			return segs[i].Duration() > segs[j].Duration()
		})
		for _, segment := range segs {
			if budgets[speaker] <= 0 {
				break
			}
			if segment.Duration() < w.cfg.Harvest.MinSegmentSeconds {
				summary.Skipped++
				continue
			}
			result, err := w.harvestClip(ctx, clipRequest{
				episodeID:   episodeID,
				audioPath:   audioPath,
				start:       segment.Start,
				end:         segment.End,
				speaker:     speaker,
				episodeDate: episodeDate,
				source:      library.SourceHarvest,
				weight:      1.0,
			})
			if err != nil {
				w.harvestFailed(episodeID, speaker, err)
				summary.Skipped++
				continue
			}
			budgets[speaker]--
			summary.Clips++
			summary.Samples += result.Samples
		}
	}

	if summary.Clips > 0 {
		w.logger.Info("episode harvest complete",
			logging.String("episode_id", episodeID),
			logging.Int("clips", summary.Clips),
			logging.Int("samples", summary.Samples),
			logging.Int("skipped", summary.Skipped))
	}
	return summary, nil
}

// RebuildSummary reports a backend re-embedding pass.
type RebuildSummary struct {
	Clips   int
	Samples int
	Skipped int
}

// RebuildBackend re-embeds every stored clip that has no sample in the given
// backend yet, then rebuilds the touched centroids. Used after registering a
// new backend so the existing clip archive carries over.
func (w *Writer) RebuildBackend(ctx context.Context, backendID string) (*RebuildSummary, error) {
	backend, err := w.library.Backend(ctx, backendID)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "rebuild backend",
			fmt.Sprintf("backend %q is not registered", backendID), nil)
	}

	clips, err := w.library.ClipsMissingBackend(ctx, backend.ID)
	if err != nil {
		return nil, err
	}

	summary := &RebuildSummary{}
	touched := make(map[string]bool)
	for _, clip := range clips {
		if _, err := os.Stat(clip.ClipPath); err != nil {
			logging.WarnWithContext(w.logger, "stored clip is missing", "clip_missing",
				logging.String("clip", clip.ClipPath),
				logging.String("speaker", clip.Speaker))
			summary.Skipped++
			continue
		}
		vector, err := w.engine.Embed(ctx, clip.ClipPath, backend.ID)
		if err != nil {
			logging.WarnWithContext(w.logger, "clip embedding failed", "embed_failed",
				logging.String("backend", backend.ID),
				logging.String("clip", clip.ClipPath),
				logging.Error(err))
			summary.Skipped++
			continue
		}
		if _, err := w.library.AddSample(ctx, library.NewSample{
			Speaker:       clip.Speaker,
			BackendID:     backend.ID,
			Vector:        vector,
			SampleDate:    clip.SampleDate,
			Source:        library.SourceRebuild,
			EpisodeID:     clip.EpisodeID,
			QualityWeight: clip.QualityWeight,
			ClipPath:      clip.ClipPath,
		}); err != nil {
			logging.WarnWithContext(w.logger, "sample insert failed", "sample_failed",
				logging.String("backend", backend.ID),
				logging.String("speaker", clip.Speaker),
				logging.Error(err))
			summary.Skipped++
			continue
		}
		touched[clip.Speaker] = true
		summary.Clips++
		summary.Samples++
	}

	speakers := make([]string, 0, len(touched))
	for speaker := range touched {
		speakers = append(speakers, speaker)
	}
	sort.Strings(speakers)
	for _, speaker := range speakers {
		if _, err := w.library.RecomputeCentroid(ctx, speaker, backend.ID); err != nil {
			return summary, err
		}
	}

	w.logger.Info("backend rebuild complete",
		logging.String("backend", backend.ID),
		logging.Int("clips", summary.Clips),
		logging.Int("skipped", summary.Skipped))
	return summary, nil
}
