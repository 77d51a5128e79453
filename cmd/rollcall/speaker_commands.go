package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSpeakersCommand(ctx *commandContext) *cobra.Command {
	speakersCmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage the voice library's speaker directory",
	}

	speakersCmd.AddCommand(newSpeakersListCommand(ctx))
	speakersCmd.AddCommand(newSpeakersShowCommand(ctx))
	speakersCmd.AddCommand(newSpeakersAddCommand(ctx))
	speakersCmd.AddCommand(newSpeakersPruneCommand(ctx))
	speakersCmd.AddCommand(newSpeakersRebuildCommand(ctx))

	return speakersCmd
}

func newSpeakersListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List speakers and their per-backend sample footprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				summaries, err := s.library.ListSummaries(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summaries)
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Voice library is empty")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, summary := range summaries {
					rows = append(rows, []string{
						summary.Speaker,
						summary.BackendID,
						fmt.Sprint(summary.SampleCount),
						formatTime(summary.NewestSample),
						yesNo(summary.HasCentroid),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Speaker", "Backend", "Samples", "Newest", "Centroid"},
					rows,
					3,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newSpeakersShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one speaker's directory entry and samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				canonical, err := s.library.ResolveSpeaker(cmd.Context(), name)
				if err != nil {
					return err
				}
				info, err := s.library.SpeakerInfo(cmd.Context(), canonical)
				if err != nil {
					return err
				}
				samples, err := s.library.SamplesForSpeaker(cmd.Context(), canonical)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Speaker: %s\n", info.Name)
				if len(info.Aliases) > 0 {
					fmt.Fprintf(out, "Aliases: %s\n", strings.Join(info.Aliases, ", "))
				}
				if info.Notes != "" {
					fmt.Fprintf(out, "Notes:   %s\n", info.Notes)
				}
				if len(samples) == 0 {
					fmt.Fprintln(out, "No voice samples")
					return nil
				}
				rows := make([][]string, 0, len(samples))
				for _, sample := range samples {
					rows = append(rows, []string{
						fmt.Sprint(sample.ID),
						sample.BackendID,
						sample.Source,
						orDash(sample.EpisodeID),
						formatTime(sample.SampleDate),
						fmt.Sprintf("%.2f", sample.QualityWeight),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Backend", "Source", "Episode", "Date", "Weight"},
					rows,
					1, 6,
				))
				return nil
			})
		},
	}
}

func newSpeakersAddCommand(ctx *commandContext) *cobra.Command {
	var aliases []string
	var notes string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update a speaker directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				if err := s.library.UpsertSpeaker(cmd.Context(), name, aliases, notes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved speaker %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "Alias to fold into this speaker (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}

func newSpeakersPruneCommand(ctx *commandContext) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "prune <name>",
		Short: "Remove a speaker's samples by source and rebuild centroids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				canonical, err := s.library.ResolveSpeaker(cmd.Context(), name)
				if err != nil {
					return err
				}
				count, err := s.library.PruneSamples(cmd.Context(), canonical, source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sample(s) from %s\n", count, canonical)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "harvest", "Sample source to prune (manual, harvest, rebuild)")
	return cmd
}

func newSpeakersRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-backend <backend-id>",
		Short: "Re-embed stored clips into a backend that is missing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendID := strings.TrimSpace(args[0])
			return ctx.withStores(func(s *stores) error {
				if err := s.library.EnsureConfiguredBackends(cmd.Context(), ctx.configValue()); err != nil {
					return err
				}
				writer := ctx.feedbackWriter(s)
				summary, err := writer.RebuildBackend(cmd.Context(), backendID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt backend %s: %d clip(s), %d new sample(s), %d skipped\n",
					backendID, summary.Clips, summary.Samples, summary.Skipped)
				return nil
			})
		},
	}
}
