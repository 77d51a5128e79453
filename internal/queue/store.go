package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/storage"
)

// Store manages job persistence on top of the shared database.
type Store struct {
	db  *storage.DB
	cfg config.Queue
}

// NewStore wraps the shared database with queue semantics. Scheduling knobs
// (retry budget, backoff, aging) come from the [queue] config section.
func NewStore(db *storage.DB, cfg *config.Config) *Store {
	queueCfg := cfg.Queue
	if queueCfg.AgingRounds <= 0 {
		queueCfg.AgingRounds = 1
	}
	return &Store{db: db, cfg: queueCfg}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the shared database for sibling stores and diagnostics.
func (s *Store) DB() *storage.DB {
	return s.db
}

// EnqueueOptions carries the optional fields of a new job.
type EnqueueOptions struct {
	// AudioPath is the episode audio file the engine will read. Required.
	AudioPath string
	// EpisodeTitle is the display title shown on CLI surfaces.
	EpisodeTitle string
	// EpisodeDate anchors decay weighting for era-aware matching.
	EpisodeDate *time.Time
	// BackendOverride pins the embedding backend for this run (guided
	// reprocess only).
	BackendOverride string
	// MaxRetries overrides the configured retry budget when positive.
	MaxRetries int
}

// Enqueue inserts a new pending job for an episode. Episodes with a pending
// or processing job are rejected with a DuplicateActiveJobError.
func (s *Store) Enqueue(ctx context.Context, episodeID string, priority int, reason Reason, opts EnqueueOptions) (*Job, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return nil, errors.New("episode id is required")
	}
	audioPath := strings.TrimSpace(opts.AudioPath)
	if audioPath == "" {
		return nil, errors.New("audio path is required")
	}
	if _, ok := ParseReason(string(reason)); !ok {
		return nil, fmt.Errorf("unknown enqueue reason %q", reason)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}

	now := time.Now().UTC()
	timestamp := storage.FormatTime(now)

	var id int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT id, status FROM jobs WHERE episode_id = ? AND status IN (?, ?) LIMIT 1`,
			episodeID, StatusPending, StatusProcessing,
		)
		var existingID int64
		var existingStatus string
		switch err := row.Scan(&existingID, &existingStatus); {
		case err == nil:
			return &DuplicateActiveJobError{EpisodeID: episodeID, JobID: existingID, Status: Status(existingStatus)}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("check active job: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                episode_id, episode_title, audio_path, episode_date, status,
                priority, reason, retry_count, max_retries, backend_override,
                skipped_rounds, progress_percent, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0, 0, ?, ?)`,
			episodeID,
			storage.NullableString(strings.TrimSpace(opts.EpisodeTitle)),
			audioPath,
			storage.NullableTime(opts.EpisodeDate),
			StatusPending,
			priority,
			reason,
			maxRetries,
			storage.NullableString(strings.TrimSpace(opts.BackendOverride)),
			timestamp,
			timestamp,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &DuplicateActiveJobError{EpisodeID: episodeID}
			}
			return fmt.Errorf("insert job: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.Handle().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveForEpisode returns the pending or processing job for an episode, if any.
func (s *Store) ActiveForEpisode(ctx context.Context, episodeID string) (*Job, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE episode_id = ? AND status IN (?, ?) LIMIT 1`,
		episodeID, StatusPending, StatusProcessing,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for episode: %w", err)
	}
	return job, nil
}

// LatestForEpisode returns the most recent job for an episode regardless of
// status. Used by reprocess to recover the audio path and metadata.
func (s *Store) LatestForEpisode(ctx context.Context, episodeID string) (*Job, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE episode_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		episodeID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job for episode: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.db.ExecRetryNoResult(
		ctx,
		`UPDATE jobs
         SET episode_id = ?, episode_title = ?, audio_path = ?, episode_date = ?,
             status = ?, priority = ?, reason = ?, retry_count = ?, max_retries = ?,
             backend_override = ?, skipped_rounds = ?, next_attempt_at = ?,
             hints_json = ?, result_path = ?, progress_stage = ?, progress_percent = ?,
             progress_message = ?, last_error = ?, last_heartbeat = ?, updated_at = ?,
             started_at = ?, completed_at = ?
         WHERE id = ?`,
		job.EpisodeID,
		storage.NullableString(job.EpisodeTitle),
		job.AudioPath,
		storage.NullableTime(job.EpisodeDate),
		job.Status,
		job.Priority,
		job.Reason,
		job.RetryCount,
		job.MaxRetries,
		storage.NullableString(job.BackendOverride),
		job.SkippedRounds,
		storage.NullableTime(job.NextAttemptAt),
		storage.NullableString(job.HintsJSON),
		storage.NullableString(job.ResultPath),
		storage.NullableString(job.ProgressStage),
		job.ProgressPercent,
		storage.NullableString(job.ProgressMessage),
		storage.NullableString(job.LastError),
		storage.NullableTime(job.LastHeartbeat),
		storage.FormatTime(job.UpdatedAt),
		storage.NullableTime(job.StartedAt),
		storage.NullableTime(job.CompletedAt),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields. Stage handlers call this
// on streaming engine updates; it never touches status or scheduling columns.
func (s *Store) UpdateProgress(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.db.ExecRetryNoResult(
		ctx,
		`UPDATE jobs
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		storage.NullableString(job.ProgressStage),
		job.ProgressPercent,
		storage.NullableString(job.ProgressMessage),
		storage.FormatTime(job.UpdatedAt),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// JobsByStatus returns jobs matching a status ordered by creation time.
func (s *Store) JobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.db.Handle().QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.Handle().QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := storage.MakePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.Handle().QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
