package library

import (
	"math"
	"time"
)

// Sample sources recorded on voice_samples rows. Pruning selects by source,
// so automated harvests can be rolled back without touching curated samples.
// Rebuild samples come from re-embedding stored clips into a new backend.
const (
	SourceHarvest = "harvest"
	SourceManual  = "manual"
	SourceRebuild = "rebuild"
)

// Backend identifies one embedding vector space and its feature dimension.
// The dimension is fixed once samples exist in the space.
type Backend struct {
	ID        string
	Dimension int
	CreatedAt time.Time
}

// EmbeddingSample is a single voice sample vector for a speaker in one
// backend's space.
type EmbeddingSample struct {
	ID            int64
	Speaker       string
	BackendID     string
	Vector        []float32
	SampleDate    time.Time
	Source        string
	EpisodeID     string
	QualityWeight float64
	ClipPath      string
	CreatedAt     time.Time
}

// SpeakerCentroid is the weighted mean of a speaker's samples in one
// backend's space. SampleCount records how many samples contributed, which
// Centroid uses to detect drift between raw samples and the derived row.
type SpeakerCentroid struct {
	Speaker     string
	BackendID   string
	Vector      []float32
	SampleCount int
	LastUpdated time.Time
}

// Speaker is a directory entry for a known identity: the canonical name plus
// any aliases feedback surfaces should fold into it.
type Speaker struct {
	Name      string
	Aliases   []string
	Notes     string
	CreatedAt time.Time
}

// SpeakerSummary aggregates one speaker's footprint in one backend space.
type SpeakerSummary struct {
	Speaker      string
	BackendID    string
	SampleCount  int
	NewestSample time.Time
	HasCentroid  bool
}

// DecayWeight returns the temporal weight for a sample dated sampleDate when
// the newest contributing sample is dated reference. Weight decays as
// exp(-age/halfLife); samples at or newer than the reference weigh 1.
func DecayWeight(sampleDate, reference time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	age := reference.Sub(sampleDate)
	if age <= 0 {
		return 1
	}
	return math.Exp(-float64(age) / float64(halfLife))
}
