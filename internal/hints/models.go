package hints

import (
	"time"
)

// Confidence sources on correction signals, strongest first. The order here
// is the assembler's precedence order.
const (
	SourceTextCorrection = "approved_text_correction"
	SourceClassification = "approved_classification"
	SourceFlagResolved   = "human_flag_resolved"
	SourceFlagUnresolved = "human_flag_unresolved"
)

// SourceRank orders confidence sources for conflict resolution. Unknown
// sources rank below every known one.
func SourceRank(source string) int {
	switch source {
	case SourceTextCorrection:
		return 4
	case SourceClassification:
		return 3
	case SourceFlagResolved:
		return 2
	case SourceFlagUnresolved:
		return 1
	default:
		return 0
	}
}

// KnownSource reports whether source is one of the ledger's confidence
// sources.
func KnownSource(source string) bool {
	return SourceRank(source) > 0
}

// Signal is one row of the correction ledger.
type Signal struct {
	ID                     int64
	EpisodeID              string
	SegmentIndex           int
	StartSeconds           float64
	EndSeconds             float64
	CorrectedSpeaker       string
	IsCharacterVoice       bool
	ConfidenceSource       string
	ExcludedFromVoiceprint bool
	CreatedAt              time.Time
}

// Anchor is the winning identity for one segment after conflict resolution.
type Anchor struct {
	SegmentIndex     int
	StartSeconds     float64
	EndSeconds       float64
	Speaker          string
	IsCharacterVoice bool
	Source           string
}

// Set is the assembled hint bundle for one job.
type Set struct {
	EpisodeID string
	// Anchors are per-segment ground truth, ordered by segment index.
	Anchors []Anchor
	// ExcludeFromMatching lists segment indexes whose voices are performance
	// bits; the matcher never sees them and they never feed the library.
	ExcludeFromMatching []int
	// ExpectedSpeakerCount counts distinct anchor identities, floor 1.
	// Zero when no anchors exist.
	ExpectedSpeakerCount int
	// TemporalContext is the episode timestamp for decay weighting.
	TemporalContext *time.Time
}

// Empty reports whether the set carries no usable hints.
func (s Set) Empty() bool {
	return len(s.Anchors) == 0
}

// Excluded reports whether a segment index is excluded from matching.
func (s Set) Excluded(segmentIndex int) bool {
	for _, idx := range s.ExcludeFromMatching {
		if idx == segmentIndex {
			return true
		}
	}
	return false
}

// AnchorFor returns the anchor covering a segment index, if any.
func (s Set) AnchorFor(segmentIndex int) (Anchor, bool) {
	for _, anchor := range s.Anchors {
		if anchor.SegmentIndex == segmentIndex {
			return anchor, true
		}
	}
	return Anchor{}, false
}
