// Package match scores cluster embeddings against the voice library and
// fuses per-backend verdicts into a single attribution decision.
//
// Scoring is pure: the caller supplies the centroid set, the matcher ranks by
// cosine similarity and applies the configured accept threshold and
// runner-up margin. Fusion prefers the primary backend when it is confident,
// falls back to the secondary, and otherwise reports unresolved for human
// review rather than guessing.
package match

import (
	"math"
	"sort"

	"rollcall/internal/config"
	"rollcall/internal/library"
)

// Confidence classes for a match decision.
type Confidence string

const (
	ConfidenceHigh       Confidence = "high"
	ConfidenceLow        Confidence = "low"
	ConfidenceUnresolved Confidence = "unresolved"
)

// Candidate pairs a speaker with its similarity to the cluster vector.
type Candidate struct {
	Speaker    string
	Similarity float64
}

// Result is one backend's verdict for a cluster vector. Candidates holds the
// full ranking, best first, for review surfaces.
type Result struct {
	BackendID  string
	Speaker    string
	Similarity float64
	Confidence Confidence
	Candidates []Candidate
}

// Matcher applies the configured acceptance rules.
type Matcher struct {
	threshold float64
	margin    float64
}

// New builds a matcher from the [matching] config section.
func New(cfg config.Matching) *Matcher {
	threshold := cfg.AcceptThreshold
	if threshold <= 0 {
		threshold = 0.75
	}
	margin := cfg.Margin
	if margin < 0 {
		margin = 0
	}
	return &Matcher{threshold: threshold, margin: margin}
}

// Threshold reports the accept threshold in use.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Cosine returns the cosine similarity of two vectors. ok is false when the
// vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// Score ranks a cluster vector against every centroid in one backend space.
// The top candidate is high confidence only when it clears the accept
// threshold and beats the runner-up by at least the margin; any other scored
// outcome is low. An empty library, an empty vector, or no comparable
// centroid yields unresolved. Ties rank by speaker name so repeated runs
// agree.
func (m *Matcher) Score(backendID string, vector []float32, centroids []*library.SpeakerCentroid) Result {
	result := Result{BackendID: backendID, Confidence: ConfidenceUnresolved}
	if len(vector) == 0 || len(centroids) == 0 {
		return result
	}

	candidates := make([]Candidate, 0, len(centroids))
	for _, centroid := range centroids {
		similarity, ok := Cosine(vector, centroid.Vector)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Speaker: centroid.Speaker, Similarity: similarity})
	}
	if len(candidates) == 0 {
		return result
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Speaker < candidates[j].Speaker
	})

	best := candidates[0]
	result.Speaker = best.Speaker
	result.Similarity = best.Similarity
	result.Candidates = candidates
	result.Confidence = ConfidenceLow
	if best.Similarity >= m.threshold {
		if len(candidates) == 1 || best.Similarity-candidates[1].Similarity >= m.margin {
			result.Confidence = ConfidenceHigh
		}
	}
	return result
}

// Fuse combines per-backend verdicts: the primary backend's match stands when
// it is high confidence, otherwise a high-confidence secondary match,
// otherwise unresolved. For unresolved outcomes the stronger-scoring
// backend's ranking is kept so review surfaces can show the near misses.
func Fuse(primary, secondary Result) Result {
	if primary.Confidence == ConfidenceHigh {
		return primary
	}
	if secondary.Confidence == ConfidenceHigh {
		return secondary
	}
	fused := primary
	if secondary.Similarity > primary.Similarity {
		fused = secondary
	}
	fused.Confidence = ConfidenceUnresolved
	return fused
}
