package main

import (
	"fmt"
	"io"
	"time"

	"rollcall/internal/attribution"
	"rollcall/internal/queue"
)

// jobView is the JSON shape for queue list/show output.
type jobView struct {
	ID              int64      `json:"id"`
	EpisodeID       string     `json:"episode_id"`
	EpisodeTitle    string     `json:"episode_title,omitempty"`
	AudioPath       string     `json:"audio_path"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason"`
	Priority        int        `json:"priority"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	BackendOverride string     `json:"backend_override,omitempty"`
	ProgressStage   string     `json:"progress_stage,omitempty"`
	ProgressPercent float64    `json:"progress_percent,omitempty"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func buildJobView(job *queue.Job) jobView {
	return jobView{
		ID:              job.ID,
		EpisodeID:       job.EpisodeID,
		EpisodeTitle:    job.EpisodeTitle,
		AudioPath:       job.AudioPath,
		Status:          string(job.Status),
		Reason:          string(job.Reason),
		Priority:        job.Priority,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		BackendOverride: job.BackendOverride,
		ProgressStage:   job.ProgressStage,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		LastError:       job.LastError,
		NextAttemptAt:   job.NextAttemptAt,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

func buildJobViews(jobs []*queue.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, buildJobView(job))
	}
	return views
}

func buildQueueStatusRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[status]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(status), fmt.Sprint(count)})
	}
	return rows
}

func buildQueueListRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		episode := job.EpisodeID
		if job.EpisodeTitle != "" {
			episode = job.EpisodeTitle
		}
		rows = append(rows, []string{
			fmt.Sprint(job.ID),
			truncate(episode, 40),
			string(job.Status),
			string(job.Reason),
			fmt.Sprint(job.Priority),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			formatTime(job.CreatedAt),
		})
	}
	return rows
}

func renderJobDetail(out io.Writer, job *queue.Job) {
	fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Status)
	fmt.Fprintf(out, "  Episode:   %s\n", job.EpisodeID)
	if job.EpisodeTitle != "" {
		fmt.Fprintf(out, "  Title:     %s\n", job.EpisodeTitle)
	}
	fmt.Fprintf(out, "  Audio:     %s\n", job.AudioPath)
	fmt.Fprintf(out, "  Reason:    %s (priority %d)\n", job.Reason, job.Priority)
	fmt.Fprintf(out, "  Retries:   %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.BackendOverride != "" {
		fmt.Fprintf(out, "  Backend:   %s (pinned)\n", job.BackendOverride)
	}
	if job.ProgressStage != "" {
		fmt.Fprintf(out, "  Progress:  %s %.0f%% %s\n", job.ProgressStage, job.ProgressPercent, job.ProgressMessage)
	}
	if job.LastError != "" {
		fmt.Fprintf(out, "  Last err:  %s\n", job.LastError)
	}
	if job.NextAttemptAt != nil {
		fmt.Fprintf(out, "  Next try:  %s\n", formatTimePtr(job.NextAttemptAt))
	}
	fmt.Fprintf(out, "  Created:   %s\n", formatTime(job.CreatedAt))
	fmt.Fprintf(out, "  Started:   %s\n", formatTimePtr(job.StartedAt))
	fmt.Fprintf(out, "  Completed: %s\n", formatTimePtr(job.CompletedAt))
}

// assignmentView is the JSON shape for episode speaker output.
type assignmentView struct {
	Cluster    string   `json:"cluster"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence string   `json:"confidence"`
	Similarity *float64 `json:"similarity,omitempty"`
	BackendID  string   `json:"backend,omitempty"`
	Source     string   `json:"source"`
}

func buildAssignmentViews(assignments []*attribution.Assignment) []assignmentView {
	views := make([]assignmentView, 0, len(assignments))
	for _, a := range assignments {
		views = append(views, assignmentView{
			Cluster:    a.Cluster,
			Speaker:    a.Speaker,
			Confidence: a.Confidence,
			Similarity: a.Similarity,
			BackendID:  a.BackendID,
			Source:     a.Source,
		})
	}
	return views
}

func buildAssignmentRows(assignments []*attribution.Assignment) [][]string {
	rows := make([][]string, 0, len(assignments))
	for _, a := range assignments {
		similarity := "-"
		if a.Similarity != nil {
			similarity = fmt.Sprintf("%.3f", *a.Similarity)
		}
		rows = append(rows, []string{
			a.Cluster,
			orDash(a.Speaker),
			a.Confidence,
			similarity,
			orDash(a.BackendID),
			a.Source,
		})
	}
	return rows
}
