package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/classify"
	"rollcall/internal/feedback"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Review episode output and record correction signals",
	}

	reviewCmd.AddCommand(newReviewSegmentsCommand(ctx))
	reviewCmd.AddCommand(newReviewPendingCommand(ctx))
	reviewCmd.AddCommand(newReviewSignalsCommand(ctx))
	reviewCmd.AddCommand(newReviewFlagCommand(ctx))
	reviewCmd.AddCommand(newReviewResolveCommand(ctx))
	reviewCmd.AddCommand(newReviewApproveCommand(ctx))
	reviewCmd.AddCommand(newReviewApproveClassificationCommand(ctx))
	reviewCmd.AddCommand(newReviewRejectClassificationCommand(ctx))

	return reviewCmd
}

func newReviewSegmentsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "segments <episode-id>",
		Short: "Show who the pipeline assigned to each voice cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				assignments, err := s.attribution.ListForEpisode(cmd.Context(), episodeID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, buildAssignmentViews(assignments))
				}
				if len(assignments) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No assignments for episode %s\n", episodeID)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Cluster", "Speaker", "Confidence", "Similarity", "Backend", "Source"},
					buildAssignmentRows(assignments),
					4,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newReviewPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <episode-id>",
		Short: "Show unresolved clusters and pending classification proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				unresolved, err := s.attribution.UnresolvedForEpisode(cmd.Context(), episodeID)
				if err != nil {
					return err
				}
				proposals, err := s.proposals.ListForEpisode(cmd.Context(), episodeID, classify.StatusPending)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(unresolved) == 0 && len(proposals) == 0 {
					fmt.Fprintf(out, "Nothing pending for episode %s\n", episodeID)
					return nil
				}
				if len(unresolved) > 0 {
					fmt.Fprintln(out, "Unresolved clusters:")
					fmt.Fprintln(out, renderTable(
						[]string{"Cluster", "Speaker", "Confidence", "Similarity", "Backend", "Source"},
						buildAssignmentRows(unresolved),
						4,
					))
				}
				if len(proposals) > 0 {
					fmt.Fprintln(out, "Pending proposals:")
					fmt.Fprintln(out, renderTable(
						[]string{"ID", "Segment", "Range", "Speaker", "Character", "Confidence"},
						buildProposalRows(proposals),
						1, 2, 6,
					))
				}
				return nil
			})
		},
	}
}

func newReviewSignalsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signals <episode-id>",
		Short: "Show the episode's correction ledger in append order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				signals, err := s.signals.ListForEpisode(cmd.Context(), episodeID)
				if err != nil {
					return err
				}
				if len(signals) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No signals for episode %s\n", episodeID)
					return nil
				}
				rows := make([][]string, 0, len(signals))
				for _, signal := range signals {
					rows = append(rows, []string{
						fmt.Sprint(signal.ID),
						fmt.Sprint(signal.SegmentIndex),
						formatRange(signal.StartSeconds, signal.EndSeconds),
						signal.CorrectedSpeaker,
						signal.ConfidenceSource,
						yesNo(signal.IsCharacterVoice),
						formatTime(signal.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Segment", "Range", "Speaker", "Source", "Character", "Created"},
					rows,
					1, 2,
				))
				return nil
			})
		},
	}
}

// correctionFlags are the shared flags for flag/resolve/approve commands.
type correctionFlags struct {
	segment       int
	start         float64
	end           float64
	speaker       string
	character     bool
	noVoiceprint  bool
	audioOverride string
}

func (f *correctionFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.segment, "segment", -1, "Segment index within the episode")
	cmd.Flags().Float64Var(&f.start, "start", 0, "Segment start in seconds")
	cmd.Flags().Float64Var(&f.end, "end", 0, "Segment end in seconds")
	cmd.Flags().StringVar(&f.speaker, "speaker", "", "Corrected speaker identity")
	cmd.Flags().BoolVar(&f.character, "character", false, "The voice is a performed character, not a real speaker")
	cmd.Flags().BoolVar(&f.noVoiceprint, "no-voiceprint", false, "Record the signal but never harvest a sample from it")
	cmd.Flags().StringVar(&f.audioOverride, "audio", "", "Audio file override for sample harvest")
	_ = cmd.MarkFlagRequired("segment")
	_ = cmd.MarkFlagRequired("speaker")
}

// buildCorrection fills harvest context (audio path, episode date) from the
// episode's latest job when the caller did not override it.
func (f *correctionFlags) buildCorrection(ctx context.Context, s *stores, episodeID string) feedback.Correction {
	correction := feedback.Correction{
		EpisodeID:             episodeID,
		SegmentIndex:          f.segment,
		StartSeconds:          f.start,
		EndSeconds:            f.end,
		Speaker:               f.speaker,
		IsCharacterVoice:      f.character,
		ExcludeFromVoiceprint: f.noVoiceprint,
		AudioPath:             f.audioOverride,
	}
	if job, err := s.queue.LatestForEpisode(ctx, episodeID); err == nil {
		if correction.AudioPath == "" {
			correction.AudioPath = job.AudioPath
		}
		correction.EpisodeDate = job.EpisodeDate
	}
	return correction
}

func reportHarvest(cmd *cobra.Command, harvest *feedback.HarvestResult) {
	if harvest == nil {
		return
	}
	if harvest.Skipped != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Harvest skipped: %s\n", harvest.Skipped)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Harvested %d sample(s) from %s\n", harvest.Samples, harvest.ClipPath)
}

func newReviewFlagCommand(ctx *commandContext) *cobra.Command {
	flags := &correctionFlags{}
	cmd := &cobra.Command{
		Use:   "flag <episode-id>",
		Short: "Flag a segment with a suspected speaker (unresolved)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				writer := ctx.feedbackWriter(s)
				signal, err := writer.Flag(cmd.Context(), flags.buildCorrection(cmd.Context(), s, episodeID))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded flag %d on segment %d\n", signal.ID, signal.SegmentIndex)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newReviewResolveCommand(ctx *commandContext) *cobra.Command {
	flags := &correctionFlags{}
	cmd := &cobra.Command{
		Use:   "resolve <episode-id>",
		Short: "Resolve a flagged segment with a confirmed speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				writer := ctx.feedbackWriter(s)
				signal, harvest, err := writer.ResolveFlag(cmd.Context(), flags.buildCorrection(cmd.Context(), s, episodeID))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded resolution %d on segment %d\n", signal.ID, signal.SegmentIndex)
				reportHarvest(cmd, harvest)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newReviewApproveCommand(ctx *commandContext) *cobra.Command {
	flags := &correctionFlags{}
	cmd := &cobra.Command{
		Use:   "approve <episode-id>",
		Short: "Approve a text correction naming the segment's speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				writer := ctx.feedbackWriter(s)
				signal, harvest, err := writer.ApproveCorrection(cmd.Context(), flags.buildCorrection(cmd.Context(), s, episodeID))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded correction %d on segment %d\n", signal.ID, signal.SegmentIndex)
				reportHarvest(cmd, harvest)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newReviewApproveClassificationCommand(ctx *commandContext) *cobra.Command {
	var speakerOverride string

	cmd := &cobra.Command{
		Use:   "approve-classification <proposal-id>",
		Short: "Approve an LLM classification proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposalID, err := parseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			return ctx.withStores(func(s *stores) error {
				proposal, err := s.proposals.Get(cmd.Context(), proposalID)
				if err != nil {
					return err
				}
				approval := feedback.ClassificationApproval{
					ProposalID:      proposalID,
					SpeakerOverride: speakerOverride,
				}
				if job, err := s.queue.LatestForEpisode(cmd.Context(), proposal.EpisodeID); err == nil {
					approval.AudioPath = job.AudioPath
					approval.EpisodeDate = job.EpisodeDate
				}
				writer := ctx.feedbackWriter(s)
				signal, harvest, err := writer.ApproveClassification(cmd.Context(), approval)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved proposal %d as %s (signal %d)\n",
					proposalID, signal.CorrectedSpeaker, signal.ID)
				reportHarvest(cmd, harvest)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&speakerOverride, "speaker", "", "Approve under a different speaker than proposed")
	return cmd
}

func newReviewRejectClassificationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject-classification <proposal-id>",
		Short: "Reject an LLM classification proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposalID, err := parseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			return ctx.withStores(func(s *stores) error {
				writer := ctx.feedbackWriter(s)
				if err := writer.RejectClassification(cmd.Context(), proposalID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected proposal %d\n", proposalID)
				return nil
			})
		},
	}
}

func buildProposalRows(proposals []*classify.Proposal) [][]string {
	rows := make([][]string, 0, len(proposals))
	for _, proposal := range proposals {
		rows = append(rows, []string{
			fmt.Sprint(proposal.ID),
			fmt.Sprint(proposal.SegmentIndex),
			formatRange(proposal.StartSeconds, proposal.EndSeconds),
			proposal.ProposedSpeaker,
			yesNo(proposal.IsCharacterVoice),
			fmt.Sprintf("%.2f", proposal.Confidence),
		})
	}
	return rows
}
