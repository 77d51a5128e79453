package hints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Engine-facing wire shape. Field names are the engine's contract, not ours.
type fileCorrection struct {
	SegmentIdx       int    `json:"segment_idx"`
	CorrectedSpeaker string `json:"corrected_speaker"`
	IsCharacter      bool   `json:"is_character"`
}

type filePayload struct {
	Corrections     []fileCorrection `json:"corrections"`
	NumSpeakersHint int              `json:"num_speakers_hint,omitempty"`
}

// WriteFile serializes the engine-facing hints JSON to path atomically: the
// payload lands in a temp file in the same directory and is renamed into
// place, so the engine never observes a partial file. An empty set still
// produces a valid file with an empty corrections array.
func WriteFile(set Set, path string) error {
	payload := filePayload{
		Corrections:     make([]fileCorrection, 0, len(set.Anchors)),
		NumSpeakersHint: set.ExpectedSpeakerCount,
	}
	for _, anchor := range set.Anchors {
		payload.Corrections = append(payload.Corrections, fileCorrection{
			SegmentIdx:       anchor.SegmentIndex,
			CorrectedSpeaker: anchor.Speaker,
			IsCharacter:      anchor.IsCharacterVoice,
		})
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hints: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hints directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hints-*.json")
	if err != nil {
		return fmt.Errorf("create temp hints file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write hints: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close hints file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod hints file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename hints file: %w", err)
	}
	return nil
}

// MarshalSet renders the hint set in the same wire shape WriteFile uses.
// The queue stores this snapshot on the job row for inspection.
func MarshalSet(set Set) (string, error) {
	payload := filePayload{
		Corrections:     make([]fileCorrection, 0, len(set.Anchors)),
		NumSpeakersHint: set.ExpectedSpeakerCount,
	}
	for _, anchor := range set.Anchors {
		payload.Corrections = append(payload.Corrections, fileCorrection{
			SegmentIdx:       anchor.SegmentIndex,
			CorrectedSpeaker: anchor.Speaker,
			IsCharacter:      anchor.IsCharacterVoice,
		})
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode hints: %w", err)
	}
	return string(encoded), nil
}

// ParseSet reads a MarshalSet snapshot back. Character-voice corrections land
// in both Anchors and ExcludeFromMatching, matching what Assemble produces.
// An empty snapshot yields an empty set.
func ParseSet(raw string) (Set, error) {
	var set Set
	if raw == "" {
		return set, nil
	}
	var payload filePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Set{}, fmt.Errorf("decode hints snapshot: %w", err)
	}
	set.ExpectedSpeakerCount = payload.NumSpeakersHint
	for _, correction := range payload.Corrections {
		set.Anchors = append(set.Anchors, Anchor{
			SegmentIndex:     correction.SegmentIdx,
			Speaker:          correction.CorrectedSpeaker,
			IsCharacterVoice: correction.IsCharacter,
		})
		if correction.IsCharacter {
			set.ExcludeFromMatching = append(set.ExcludeFromMatching, correction.SegmentIdx)
		}
	}
	return set, nil
}
