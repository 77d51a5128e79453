package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"rollcall/internal/attribution"
	"rollcall/internal/diarize"
	"rollcall/internal/queue"
	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// Artifact is the per-job attribution document written into staging. It is
// the durable record review surfaces read: every segment with its resolved
// speaker, and every cluster with its verdict and candidate ranking.
type Artifact struct {
	EpisodeID   string            `json:"episode_id"`
	JobID       int64             `json:"job_id"`
	GeneratedAt string            `json:"generated_at"`
	Segments    []ArtifactSegment `json:"segments"`
	Clusters    []ArtifactCluster `json:"clusters"`
}

// ArtifactSegment is one diarized segment with its attribution.
type ArtifactSegment struct {
	Index   int     `json:"segment_idx"`
	Cluster string  `json:"cluster"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Source  string  `json:"source,omitempty"`
}

// ArtifactCluster is one cluster's verdict.
type ArtifactCluster struct {
	Cluster    string              `json:"cluster"`
	Speaker    string              `json:"speaker,omitempty"`
	Source     string              `json:"source"`
	Confidence string              `json:"confidence"`
	Similarity *float64            `json:"similarity,omitempty"`
	Backend    string              `json:"backend,omitempty"`
	Candidates []ArtifactCandidate `json:"candidates,omitempty"`
}

// ArtifactCandidate is one ranked library speaker for a cluster.
type ArtifactCandidate struct {
	Speaker    string  `json:"speaker"`
	Similarity float64 `json:"similarity"`
}

func writeArtifact(path string, job *queue.Job, segments []diarize.Segment, outcome *attributeOutcome) error {
	byCluster := make(map[string]attribution.Assignment, len(outcome.assignments))
	for _, assignment := range outcome.assignments {
		byCluster[assignment.Cluster] = assignment
	}

	doc := Artifact{
		EpisodeID:   job.EpisodeID,
		JobID:       job.ID,
		GeneratedAt: storage.FormatTime(time.Now().UTC()),
		Segments:    make([]ArtifactSegment, 0, len(segments)),
		Clusters:    make([]ArtifactCluster, 0, len(outcome.assignments)),
	}
	for i, segment := range segments {
		row := ArtifactSegment{
			Index:   i,
			Cluster: segment.Cluster,
			Start:   segment.Start,
			End:     segment.End,
		}
		if assignment, ok := byCluster[segment.Cluster]; ok {
			row.Speaker = assignment.Speaker
			row.Source = assignment.Source
		}
		doc.Segments = append(doc.Segments, row)
	}
	for _, assignment := range outcome.assignments {
		row := ArtifactCluster{
			Cluster:    assignment.Cluster,
			Speaker:    assignment.Speaker,
			Source:     assignment.Source,
			Confidence: assignment.Confidence,
			Backend:    assignment.BackendID,
		}
		if assignment.Similarity != nil {
			similarity := *assignment.Similarity
			row.Similarity = &similarity
		}
		for _, candidate := range outcome.rankings[assignment.Cluster] {
			row.Candidates = append(row.Candidates, ArtifactCandidate{
				Speaker:    candidate.Speaker,
				Similarity: candidate.Similarity,
			})
		}
		doc.Clusters = append(doc.Clusters, row)
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrTransient, "diarize", "write artifact", "Failed to encode attribution artifact", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "diarize", "write artifact", "Failed to write attribution artifact", err)
	}
	return nil
}

// ReadArtifact loads a previously written attribution document.
func ReadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attribution artifact: %w", err)
	}
	var doc Artifact
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode attribution artifact: %w", err)
	}
	return &doc, nil
}
