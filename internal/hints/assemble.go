package hints

import (
	"sort"
	"time"
)

// Assemble resolves an episode's signals into a hint set. Each segment gets
// at most one anchor: the signal with the highest-ranked confidence source,
// ties broken by recency then ledger order. Both unresolved and resolved
// flags anchor their segments; a resolved flag is confirmed ground truth,
// not stale data. Character-voice anchors additionally land in the matcher
// exclusion list. ExpectedSpeakerCount is the number of distinct anchor
// identities with a floor of one whenever any anchor exists.
func Assemble(episodeID string, signals []*Signal, episodeDate *time.Time) Set {
	set := Set{EpisodeID: episodeID, TemporalContext: episodeDate}
	if len(signals) == 0 {
		return set
	}

	winners := make(map[int]*Signal)
	for _, signal := range signals {
		current, ok := winners[signal.SegmentIndex]
		if !ok || outranks(signal, current) {
			winners[signal.SegmentIndex] = signal
		}
	}

	indexes := make([]int, 0, len(winners))
	for idx := range winners {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	speakers := make(map[string]struct{})
	for _, idx := range indexes {
		winner := winners[idx]
		set.Anchors = append(set.Anchors, Anchor{
			SegmentIndex:     winner.SegmentIndex,
			StartSeconds:     winner.StartSeconds,
			EndSeconds:       winner.EndSeconds,
			Speaker:          winner.CorrectedSpeaker,
			IsCharacterVoice: winner.IsCharacterVoice,
			Source:           winner.ConfidenceSource,
		})
		if winner.IsCharacterVoice {
			set.ExcludeFromMatching = append(set.ExcludeFromMatching, winner.SegmentIndex)
		}
		speakers[winner.CorrectedSpeaker] = struct{}{}
	}

	if len(set.Anchors) > 0 {
		set.ExpectedSpeakerCount = len(speakers)
		if set.ExpectedSpeakerCount < 1 {
			set.ExpectedSpeakerCount = 1
		}
	}
	return set
}

// outranks reports whether a beats b under the precedence rules.
func outranks(a, b *Signal) bool {
	rankA, rankB := SourceRank(a.ConfidenceSource), SourceRank(b.ConfidenceSource)
	if rankA != rankB {
		return rankA > rankB
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
