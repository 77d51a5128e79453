// Package feedback turns review decisions into durable state: signals on the
// append-only correction ledger, resolutions on classification proposals, and
// voice samples in the embedding library.
//
// Signal writes are the critical path. Harvesting a sample from an approved
// segment is best effort: when extraction or embedding fails the decision
// still stands, the skip reason is reported, and a later episode harvest can
// pick the segment up again.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/diarize"
	"rollcall/internal/hints"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/services"
	"rollcall/internal/textutil"
)

// Writer applies review decisions.
type Writer struct {
	cfg       *config.Config
	signals   *hints.Store
	library   *library.Store
	proposals *classify.Store
	engine    diarize.Engine
	logger    *slog.Logger
}

// NewWriter builds the feedback writer from its stores and the engine used
// for clip embedding.
func NewWriter(cfg *config.Config, signals *hints.Store, lib *library.Store, proposals *classify.Store, engine diarize.Engine, logger *slog.Logger) *Writer {
	return &Writer{
		cfg:       cfg,
		signals:   signals,
		library:   lib,
		proposals: proposals,
		engine:    engine,
		logger:    logging.NewComponentLogger(logger, "feedback"),
	}
}

// Correction describes one human decision about a segment.
type Correction struct {
	EpisodeID             string
	SegmentIndex          int
	StartSeconds          float64
	EndSeconds            float64
	Speaker               string
	IsCharacterVoice      bool
	ExcludeFromVoiceprint bool
	AudioPath             string     // optional; enables sample harvest
	EpisodeDate           *time.Time // optional; dates the harvested sample
}

// ClassificationApproval identifies a proposal to approve and how.
type ClassificationApproval struct {
	ProposalID      int64
	SpeakerOverride string
	AudioPath       string
	EpisodeDate     *time.Time
}

// Flag records an unresolved human flag naming a suspected speaker. Flags
// anchor future runs but never harvest; the identity is not verified yet.
func (w *Writer) Flag(ctx context.Context, correction Correction) (*hints.Signal, error) {
	return w.appendSignal(ctx, correction, hints.SourceFlagUnresolved)
}

// ResolveFlag records the verified resolution of a flagged segment and
// harvests a voice sample when the segment qualifies.
func (w *Writer) ResolveFlag(ctx context.Context, correction Correction) (*hints.Signal, *HarvestResult, error) {
	signal, err := w.appendSignal(ctx, correction, hints.SourceFlagResolved)
	if err != nil {
		return nil, nil, err
	}
	return signal, w.harvestForSignal(ctx, signal, correction, 1.0), nil
}

// ApproveCorrection records a human-approved text correction and harvests a
// voice sample when the segment qualifies.
func (w *Writer) ApproveCorrection(ctx context.Context, correction Correction) (*hints.Signal, *HarvestResult, error) {
	signal, err := w.appendSignal(ctx, correction, hints.SourceTextCorrection)
	if err != nil {
		return nil, nil, err
	}
	return signal, w.harvestForSignal(ctx, signal, correction, 1.0), nil
}

// ApproveClassification turns a pending proposal into an approved
// classification signal. The harvested sample's quality weight is the
// model's confidence, so machine-suggested samples never outweigh
// human-entered ones.
func (w *Writer) ApproveClassification(ctx context.Context, approval ClassificationApproval) (*hints.Signal, *HarvestResult, error) {
	proposal, err := w.proposals.Get(ctx, approval.ProposalID)
	if err != nil {
		return nil, nil, err
	}
	speaker := strings.TrimSpace(approval.SpeakerOverride)
	if speaker == "" {
		speaker = proposal.ProposedSpeaker
	}
	if speaker == "" {
		return nil, nil, services.Wrap(
			services.ErrValidation,
			"feedback", "approve classification",
			fmt.Sprintf("proposal %d names no speaker; pass one explicitly", proposal.ID),
			nil,
		)
	}
	if _, err := w.proposals.Resolve(ctx, proposal.ID, classify.StatusApproved); err != nil {
		return nil, nil, err
	}

	correction := Correction{
		EpisodeID:        proposal.EpisodeID,
		SegmentIndex:     proposal.SegmentIndex,
		StartSeconds:     proposal.StartSeconds,
		EndSeconds:       proposal.EndSeconds,
		Speaker:          speaker,
		IsCharacterVoice: proposal.IsCharacterVoice,
		AudioPath:        approval.AudioPath,
		EpisodeDate:      approval.EpisodeDate,
	}
	signal, err := w.appendSignal(ctx, correction, hints.SourceClassification)
	if err != nil {
		return nil, nil, err
	}
	return signal, w.harvestForSignal(ctx, signal, correction, proposal.Confidence), nil
}

// RejectClassification marks a proposal rejected without touching the ledger.
func (w *Writer) RejectClassification(ctx context.Context, proposalID int64) error {
	_, err := w.proposals.Resolve(ctx, proposalID, classify.StatusRejected)
	return err
}

func (w *Writer) appendSignal(ctx context.Context, correction Correction, source string) (*hints.Signal, error) {
	speaker, err := w.library.ResolveSpeaker(ctx, correction.Speaker)
	if err != nil {
		return nil, err
	}
	if speaker == "" {
		return nil, services.Wrap(services.ErrValidation, "feedback", "append signal", "speaker is required", nil)
	}
	if textutil.IsPlaceholderLabel(speaker) {
		return nil, services.Wrap(
			services.ErrValidation,
			"feedback", "append signal",
			fmt.Sprintf("%q is a placeholder label, not an identity", speaker),
			nil,
		)
	}
	if err := w.library.EnsureSpeaker(ctx, speaker); err != nil {
		return nil, err
	}

	signal, err := w.signals.Append(ctx, hints.Signal{
		EpisodeID:              correction.EpisodeID,
		SegmentIndex:           correction.SegmentIndex,
		StartSeconds:           correction.StartSeconds,
		EndSeconds:             correction.EndSeconds,
		CorrectedSpeaker:       speaker,
		IsCharacterVoice:       correction.IsCharacterVoice,
		ConfidenceSource:       source,
		ExcludedFromVoiceprint: correction.IsCharacterVoice || correction.ExcludeFromVoiceprint,
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("signal recorded",
		logging.String("episode_id", signal.EpisodeID),
		logging.Int("segment_index", signal.SegmentIndex),
		logging.String("speaker", signal.CorrectedSpeaker),
		logging.String("source", source),
		logging.Bool("character_voice", signal.IsCharacterVoice))
	return signal, nil
}
