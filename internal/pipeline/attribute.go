package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"rollcall/internal/attribution"
	"rollcall/internal/classify"
	"rollcall/internal/diarize"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/queue"
	"rollcall/internal/services"
	"rollcall/internal/textutil"
)

// attributeOutcome carries everything one matching pass produced: the
// assignment rows to persist, the classification targets for unresolved
// clusters, and the per-cluster candidate rankings for the result artifact.
type attributeOutcome struct {
	assignments []attribution.Assignment
	targets     []classify.Target
	rankings    map[string][]match.Candidate
}

type attributionTally struct {
	anchored int
	matched  int
	excluded int
	review   int
}

func (o *attributeOutcome) tally() attributionTally {
	var t attributionTally
	for _, assignment := range o.assignments {
		switch assignment.Source {
		case attribution.SourceAnchor:
			t.anchored++
		case attribution.SourceAuto:
			t.matched++
		case attribution.SourceExcluded:
			t.excluded++
		default:
			t.review++
		}
	}
	return t
}

// clusterSegments groups one cluster's segment indexes in appearance order.
type clusterSegments struct {
	id      string
	indexes []int
}

// pin records a human anchor claiming a cluster.
type pin struct {
	anchor   hints.Anchor
	excluded bool
}

func (h *Handler) attribute(
	ctx context.Context,
	staging string,
	job *queue.Job,
	set hints.Set,
	segments []diarize.Segment,
) (*attributeOutcome, error) {
	logger := logging.WithContext(ctx, h.logger)

	clusters := indexClusters(segments)
	pins, conflicts := pinAnchors(set, segments)
	for _, conflict := range conflicts {
		logger.Warn("conflicting anchors for cluster, keeping first", logging.String("conflict", conflict))
	}
	if len(pins) > 0 {
		logger.Info("anchors pinned to clusters", logging.Int("pinned", len(pins)), logging.Int("clusters", len(clusters)))
	}

	backends := h.cfg.EmbeddingBackends()
	if override := strings.ToLower(strings.TrimSpace(job.BackendOverride)); override != "" {
		backends = []string{override}
	}
	if len(backends) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "match", "select backends", "No embedding backends configured", nil)
	}

	vectors, err := h.clusterVectors(ctx, staging, job.AudioPath, clusters, segments, pins, backends)
	if err != nil {
		return nil, err
	}

	centroids := make(map[string][]*library.SpeakerCentroid, len(backends))
	for _, backend := range backends {
		rows, err := h.library.Centroids(ctx, backend)
		if err != nil {
			return nil, err
		}
		centroids[backend] = rows
	}

	outcome := &attributeOutcome{rankings: make(map[string][]match.Candidate)}
	for _, cluster := range clusters {
		if pinned, ok := pins[cluster.id]; ok {
			source := attribution.SourceAnchor
			if pinned.excluded {
				source = attribution.SourceExcluded
			}
			outcome.assignments = append(outcome.assignments, attribution.Assignment{
				EpisodeID:  job.EpisodeID,
				JobID:      job.ID,
				Cluster:    cluster.id,
				Speaker:    pinned.anchor.Speaker,
				Confidence: string(match.ConfidenceHigh),
				Source:     source,
			})
			continue
		}

		fused := h.scoreCluster(vectors[cluster.id], backends, centroids)
		if len(fused.Candidates) > 0 {
			outcome.rankings[cluster.id] = fused.Candidates
		}
		if fused.Confidence == match.ConfidenceHigh {
			similarity := fused.Similarity
			outcome.assignments = append(outcome.assignments, attribution.Assignment{
				EpisodeID:  job.EpisodeID,
				JobID:      job.ID,
				Cluster:    cluster.id,
				Speaker:    fused.Speaker,
				Confidence: string(fused.Confidence),
				Similarity: &similarity,
				BackendID:  fused.BackendID,
				Source:     attribution.SourceAuto,
			})
			continue
		}

		assignment := attribution.Assignment{
			EpisodeID:  job.EpisodeID,
			JobID:      job.ID,
			Cluster:    cluster.id,
			Confidence: string(fused.Confidence),
			BackendID:  fused.BackendID,
			Source:     attribution.SourceUnmatched,
		}
		if len(fused.Candidates) > 0 {
			similarity := fused.Candidates[0].Similarity
			assignment.Similarity = &similarity
		}
		outcome.assignments = append(outcome.assignments, assignment)
		if target, ok := classifyTarget(cluster, segments, fused); ok {
			outcome.targets = append(outcome.targets, target)
		}
	}
	return outcome, nil
}

// clusterVectors extracts representative clips for every unpinned cluster and
// averages their embeddings per backend. Individual extraction or embedding
// failures skip that segment; the error is only surfaced when no cluster
// produced a vector at all, which points at a broken tool rather than bad
// audio.
func (h *Handler) clusterVectors(
	ctx context.Context,
	staging, audio string,
	clusters []clusterSegments,
	segments []diarize.Segment,
	pins map[string]pin,
	backends []string,
) (map[string]map[string][]float32, error) {
	logger := logging.WithContext(ctx, h.logger)
	clipDir := filepath.Join(staging, "clips")
	topN := h.cfg.Matching.ClusterTopN
	minSeconds := h.cfg.Matching.MinSegmentSeconds

	vectors := make(map[string]map[string][]float32)
	eligibleClusters := 0
	failures := 0
	var lastErr error
	for _, cluster := range clusters {
		if _, ok := pins[cluster.id]; ok {
			continue
		}
		representatives := representativeSegments(cluster, segments, minSeconds, topN)
		if len(representatives) == 0 {
			continue
		}
		eligibleClusters++

		sums := make(map[string][]float64, len(backends))
		counts := make(map[string]int, len(backends))
		for i, segmentIdx := range representatives {
			segment := segments[segmentIdx]
			clipPath := filepath.Join(clipDir, fmt.Sprintf("%s-%02d.wav", textutil.SanitizeFileName(cluster.id), i))
			if err := diarize.ExtractClip(ctx, h.cfg.FFmpegBinary(), audio, segment.Start, segment.End, clipPath); err != nil {
				failures++
				lastErr = err
				logger.Warn("clip extraction failed", logging.String("cluster", cluster.id), logging.Error(err))
				continue
			}
			for _, backend := range backends {
				vector, err := h.engine.Embed(ctx, clipPath, backend)
				if err != nil {
					failures++
					lastErr = err
					logger.Warn(
						"embedding failed",
						logging.String("cluster", cluster.id),
						logging.String("backend", backend),
						logging.Error(err),
					)
					continue
				}
				acc := sums[backend]
				if acc == nil {
					acc = make([]float64, len(vector))
					sums[backend] = acc
				}
				if len(vector) != len(acc) {
					failures++
					lastErr = services.Wrap(
						services.ErrExternalTool,
						"match",
						"embed cluster",
						fmt.Sprintf("Backend %s returned a %d-dim vector, want %d", backend, len(vector), len(acc)),
						nil,
					)
					logger.Warn("embedding dimension drift within run", logging.String("backend", backend))
					continue
				}
				for j, value := range vector {
					acc[j] += float64(value)
				}
				counts[backend]++
			}
		}

		means := make(map[string][]float32, len(sums))
		for backend, acc := range sums {
			n := counts[backend]
			if n == 0 {
				continue
			}
			mean := make([]float32, len(acc))
			for j, value := range acc {
				mean[j] = float32(value / float64(n))
			}
			means[backend] = mean
		}
		if len(means) > 0 {
			vectors[cluster.id] = means
		}
	}

	if eligibleClusters > 0 && len(vectors) == 0 && failures > 0 {
		return nil, lastErr
	}
	return vectors, nil
}

// scoreCluster fuses per-backend verdicts. With a single backend (guided
// reprocess override) its verdict stands alone.
func (h *Handler) scoreCluster(vectors map[string][]float32, backends []string, centroids map[string][]*library.SpeakerCentroid) match.Result {
	primary := h.matcher.Score(backends[0], vectors[backends[0]], centroids[backends[0]])
	if len(backends) == 1 {
		return primary
	}
	secondary := h.matcher.Score(backends[1], vectors[backends[1]], centroids[backends[1]])
	return match.Fuse(primary, secondary)
}

// indexClusters groups segment indexes by cluster, ordered by cluster id so a
// rerun over identical engine output yields identical assignment rows.
func indexClusters(segments []diarize.Segment) []clusterSegments {
	byID := make(map[string][]int, 4)
	for i, segment := range segments {
		byID[segment.Cluster] = append(byID[segment.Cluster], i)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	clusters := make([]clusterSegments, 0, len(ids))
	for _, id := range ids {
		clusters = append(clusters, clusterSegments{id: id, indexes: byID[id]})
	}
	return clusters
}

// pinAnchors maps human anchors onto the current run's clusters. The first
// anchor claiming a cluster wins; later anchors naming a different speaker
// are reported as conflicts.
func pinAnchors(set hints.Set, segments []diarize.Segment) (map[string]pin, []string) {
	pins := make(map[string]pin)
	var conflicts []string
	for _, anchor := range set.Anchors {
		cluster := locateCluster(anchor, segments)
		if cluster == "" {
			continue
		}
		if existing, taken := pins[cluster]; taken {
			if existing.anchor.Speaker != anchor.Speaker {
				conflicts = append(conflicts, fmt.Sprintf("%s: %q vs %q", cluster, existing.anchor.Speaker, anchor.Speaker))
			}
			continue
		}
		pins[cluster] = pin{
			anchor:   anchor,
			excluded: anchor.IsCharacterVoice || set.Excluded(anchor.SegmentIndex),
		}
	}
	return pins, conflicts
}

// locateCluster finds the cluster an anchor refers to. Segment boundaries
// drift between runs, so timed anchors pin by midpoint containment; anchors
// without timings fall back to the recorded segment index.
func locateCluster(anchor hints.Anchor, segments []diarize.Segment) string {
	if anchor.EndSeconds > anchor.StartSeconds {
		midpoint := (anchor.StartSeconds + anchor.EndSeconds) / 2
		for _, segment := range segments {
			if segment.Start <= midpoint && midpoint < segment.End {
				return segment.Cluster
			}
		}
	}
	if anchor.SegmentIndex >= 0 && anchor.SegmentIndex < len(segments) {
		return segments[anchor.SegmentIndex].Cluster
	}
	return ""
}

// representativeSegments picks the cluster's longest segments for embedding.
// Segments below the minimum duration are skipped; short grunts and crosstalk
// produce noisy vectors.
func representativeSegments(cluster clusterSegments, segments []diarize.Segment, minSeconds float64, topN int) []int {
	eligible := make([]int, 0, len(cluster.indexes))
	for _, idx := range cluster.indexes {
		if segments[idx].Duration() >= minSeconds {
			eligible = append(eligible, idx)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return segments[eligible[i]].Duration() > segments[eligible[j]].Duration()
	})
	if topN > 0 && len(eligible) > topN {
		eligible = eligible[:topN]
	}
	return eligible
}

// classifyTarget picks the cluster's longest segment as the exemplar the
// classifier reasons about.
func classifyTarget(cluster clusterSegments, segments []diarize.Segment, fused match.Result) (classify.Target, bool) {
	best := -1
	for _, idx := range cluster.indexes {
		if best == -1 || segments[idx].Duration() > segments[best].Duration() {
			best = idx
		}
	}
	if best == -1 {
		return classify.Target{}, false
	}
	segment := segments[best]
	return classify.Target{
		SegmentIndex: best,
		StartSeconds: segment.Start,
		EndSeconds:   segment.End,
		Cluster:      cluster.id,
		Candidates:   fused.Candidates,
	}, true
}
