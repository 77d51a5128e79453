package queue

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rollcall/internal/textutil"
)

// Status represents the lifecycle of a queue job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var activeStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusProcessing: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status counts against the one-job-per-episode
// invariant.
func (s Status) IsActive() bool {
	_, ok := activeStatuses[s]
	return ok
}

// Reason records why a job was enqueued and drives its default priority.
type Reason string

const (
	ReasonInitial         Reason = "initial"
	ReasonManualReprocess Reason = "manual_reprocess"
	ReasonGuidedReprocess Reason = "guided_reprocess"
)

// Default priorities per enqueue reason. Guided reprocesses carry fresh human
// feedback and jump the whole queue.
const (
	PriorityInitial         = 0
	PriorityManualReprocess = 100
	PriorityGuidedReprocess = 10000
)

var allReasons = []Reason{ReasonInitial, ReasonManualReprocess, ReasonGuidedReprocess}

// ParseReason converts a string into a known Reason.
func ParseReason(value string) (Reason, bool) {
	normalized := Reason(strings.ToLower(strings.TrimSpace(value)))
	for _, reason := range allReasons {
		if reason == normalized {
			return normalized, true
		}
	}
	return "", false
}

// PriorityFor returns the default priority for an enqueue reason.
func PriorityFor(reason Reason) int {
	switch reason {
	case ReasonGuidedReprocess:
		return PriorityGuidedReprocess
	case ReasonManualReprocess:
		return PriorityManualReprocess
	default:
		return PriorityInitial
	}
}

// Job represents a queued diarization run persisted in SQLite.
type Job struct {
	ID              int64
	EpisodeID       string
	EpisodeTitle    string
	AudioPath       string
	EpisodeDate     *time.Time
	Status          Status
	Priority        int
	Reason          Reason
	RetryCount      int
	MaxRetries      int
	BackendOverride string
	SkippedRounds   int
	NextAttemptAt   *time.Time
	HintsJSON       string
	ResultPath      string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	LastError       string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// IsProcessing returns true when the job reflects an in-flight run.
func (j Job) IsProcessing() bool {
	return j.Status == StatusProcessing
}

// SetProgress updates all three progress fields atomically.
// Use this instead of setting ProgressStage, ProgressPercent, and
// ProgressMessage individually.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (j *Job) SetProgressComplete(stage, message string) {
	j.SetProgress(stage, message, 100)
}

// StagingRoot returns the per-job staging directory rooted at base. The
// episode identifier is used when printable; otherwise job-{ID} avoids
// collisions.
func (j Job) StagingRoot(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	segment := sanitizeSegment(j.EpisodeID)
	if segment == "" {
		segment = fmt.Sprintf("job-%d", j.ID)
	}
	return filepath.Join(base, segment)
}

func sanitizeSegment(value string) string {
	value = textutil.SanitizeFileName(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, " ", "-")
	value = strings.Trim(value, "-_")
	return value
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// PipelineError is one diagnostic row recorded when a job fails terminally.
type PipelineError struct {
	ID        int64
	JobID     int64
	EpisodeID string
	Stage     string
	Kind      string
	Message   string
	CreatedAt time.Time
}
