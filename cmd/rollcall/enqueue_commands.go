package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/textutil"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		episodeID  string
		title      string
		dateFlag   string
		priority   int
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <audio-file>",
		Short: "Queue an episode for initial diarization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("inspect audio file %q: %w", audioPath, err)
			}
			episodeDate, err := parseDateFlag(dateFlag)
			if err != nil {
				return err
			}

			base := filepath.Base(audioPath)
			if strings.TrimSpace(episodeID) == "" {
				episodeID = textutil.SanitizeToken(strings.TrimSuffix(base, filepath.Ext(base)))
			}
			if strings.TrimSpace(title) == "" {
				title = textutil.DisplayTitle(base)
			}
			jobPriority := priority
			if !cmd.Flags().Changed("priority") {
				jobPriority = queue.PriorityInitial
			}

			return ctx.withStores(func(s *stores) error {
				job, err := s.queue.Enqueue(cmd.Context(), episodeID, jobPriority, queue.ReasonInitial, queue.EnqueueOptions{
					AudioPath:    audioPath,
					EpisodeTitle: title,
					EpisodeDate:  episodeDate,
					MaxRetries:   maxRetries,
				})
				if err != nil {
					var dup *queue.DuplicateActiveJobError
					if errors.As(err, &dup) {
						return fmt.Errorf("episode %s already has an active job (id %d, %s)", dup.EpisodeID, dup.JobID, dup.Status)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %d for episode %s\n", job.ID, job.EpisodeID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&episodeID, "episode", "", "Episode identifier (default: derived from the filename)")
	cmd.Flags().StringVar(&title, "title", "", "Episode display title (default: derived from the filename)")
	cmd.Flags().StringVar(&dateFlag, "date", "", "Episode date (YYYY-MM-DD) for era-aware matching")
	cmd.Flags().IntVar(&priority, "priority", queue.PriorityInitial, "Job priority (higher runs sooner)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget override (default: [queue] max_retries)")
	return cmd
}

func newReprocessCommand(ctx *commandContext) *cobra.Command {
	var (
		guided   bool
		backend  string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "reprocess <episode-id>",
		Short: "Queue an episode for re-diarization with its accumulated hints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			if episodeID == "" {
				return errors.New("episode id is required")
			}
			if backend != "" && !guided {
				return errors.New("--backend requires --guided")
			}

			return ctx.withStores(func(s *stores) error {
				previous, err := s.queue.LatestForEpisode(cmd.Context(), episodeID)
				if err != nil {
					return fmt.Errorf("episode %s has no prior job; use `rollcall enqueue` first: %w", episodeID, err)
				}

				reason := queue.ReasonManualReprocess
				if guided {
					reason = queue.ReasonGuidedReprocess
				}
				jobPriority := priority
				if !cmd.Flags().Changed("priority") {
					jobPriority = queue.PriorityFor(reason)
				}

				job, err := s.queue.Enqueue(cmd.Context(), episodeID, jobPriority, reason, queue.EnqueueOptions{
					AudioPath:       previous.AudioPath,
					EpisodeTitle:    previous.EpisodeTitle,
					EpisodeDate:     previous.EpisodeDate,
					BackendOverride: backend,
				})
				if err != nil {
					var dup *queue.DuplicateActiveJobError
					if errors.As(err, &dup) {
						return fmt.Errorf("episode %s already has an active job (id %d, %s)", dup.EpisodeID, dup.JobID, dup.Status)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %d for episode %s\n", reason, job.ID, job.EpisodeID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&guided, "guided", false, "Guided reprocess: jump the queue with fresh human feedback")
	cmd.Flags().StringVar(&backend, "backend", "", "Pin the embedding backend for this run (guided only)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority override (default: per reason)")
	return cmd
}
