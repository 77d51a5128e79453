package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// NextForProcessing claims the best eligible pending job in one transaction.
// Eligible means the retry backoff gate has passed. Order is effective
// priority descending with creation time as the tiebreak, where effective
// priority adds aging_boost for every full aging_rounds window a job has been
// passed over. Every eligible job that loses the round gets its
// skipped_rounds incremented so it cannot starve indefinitely.
func (s *Store) NextForProcessing(ctx context.Context) (*Job, error) {
	now := time.Now().UTC()
	timestamp := storage.FormatTime(now)

	var claimed *Job
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
             ORDER BY (priority + ? * (skipped_rounds / ?)) DESC, created_at ASC, id ASC
             LIMIT 1`,
			StatusPending,
			timestamp,
			s.cfg.AgingBoost,
			s.cfg.AgingRounds,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next job: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, started_at = ?, last_heartbeat = ?, skipped_rounds = 0,
                 progress_stage = NULL, progress_percent = 0, progress_message = NULL,
                 last_error = NULL, updated_at = ?
             WHERE id = ?`,
			StatusProcessing, timestamp, timestamp, timestamp, job.ID,
		); err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET skipped_rounds = skipped_rounds + 1, updated_at = ?
             WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?) AND id != ?`,
			timestamp, StatusPending, timestamp, job.ID,
		); err != nil {
			return fmt.Errorf("age passed-over jobs: %w", err)
		}

		job.Status = StatusProcessing
		job.StartedAt = &now
		job.LastHeartbeat = &now
		job.SkippedRounds = 0
		job.ProgressStage = ""
		job.ProgressPercent = 0
		job.ProgressMessage = ""
		job.LastError = ""
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions a processing job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	timestamp := storage.FormatTime(now)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := jobInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %d not found", id)
		}
		if job.Status != StatusProcessing {
			return &InvalidTransitionError{JobID: id, From: job.Status, Op: "complete"}
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, completed_at = ?, progress_stage = 'Completed',
                 progress_percent = 100, progress_message = NULL,
                 last_heartbeat = NULL, last_error = NULL, updated_at = ?
             WHERE id = ?`,
			StatusCompleted, timestamp, timestamp, id,
		); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		return nil
	})
}

// MarkFailed applies the failure disposition to a processing job. Retryable
// failures with remaining budget return to pending behind an exponential
// backoff gate; everything else lands terminally in failed and is recorded in
// the pipeline error ledger. The stage recorded with terminal failures comes
// from the context when set via services.WithStage.
func (s *Store) MarkFailed(ctx context.Context, id int64, failure error) (Disposition, error) {
	if failure == nil {
		failure = errors.New("unknown failure")
	}
	now := time.Now().UTC()
	timestamp := storage.FormatTime(now)
	disposition := FailureDisposition(failure)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := jobInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %d not found", id)
		}
		if job.Status != StatusProcessing {
			return &InvalidTransitionError{JobID: id, From: job.Status, Op: "fail"}
		}

		if disposition == DispositionRetry && job.RetryCount < job.MaxRetries {
			retry := job.RetryCount + 1
			next := now.Add(s.backoffDelay(retry))
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, retry_count = ?, next_attempt_at = ?, last_error = ?,
                     progress_stage = NULL, progress_percent = 0, progress_message = NULL,
                     last_heartbeat = NULL, updated_at = ?
                 WHERE id = ?`,
				StatusPending, retry, storage.FormatTime(next), failure.Error(), timestamp, id,
			); err != nil {
				return fmt.Errorf("requeue failed job: %w", err)
			}
			return nil
		}

		disposition = DispositionTerminal
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, last_error = ?, completed_at = ?, progress_stage = 'Failed',
                 progress_message = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusFailed, failure.Error(), timestamp, failure.Error(), timestamp, id,
		); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}

		stage, _ := services.StageFromContext(ctx)
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO pipeline_errors (job_id, episode_id, stage, kind, message, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			job.ID, job.EpisodeID, storage.NullableString(stage), services.Kind(failure), failure.Error(), timestamp,
		); err != nil {
			return fmt.Errorf("record pipeline error: %w", err)
		}
		return nil
	})
	if err != nil {
		return disposition, err
	}
	return disposition, nil
}

// Cancel transitions a pending job to cancelled. Processing jobs are not
// preemptible; the engine run cannot be safely interrupted.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := storage.FormatTime(time.Now().UTC())

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := jobInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %d not found", id)
		}
		if job.Status != StatusPending {
			return &InvalidTransitionError{JobID: id, From: job.Status, Op: "cancel"}
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			StatusCancelled, now, now, id,
		); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		return nil
	})
}

// ReleaseProcessing returns a processing job to pending without touching its
// retry budget. Used on graceful shutdown so an interrupted run is simply
// rescheduled.
func (s *Store) ReleaseProcessing(ctx context.Context, id int64, note string) error {
	now := storage.FormatTime(time.Now().UTC())

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := jobInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %d not found", id)
		}
		if job.Status != StatusProcessing {
			return &InvalidTransitionError{JobID: id, From: job.Status, Op: "release"}
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, progress_stage = 'Interrupted', progress_percent = 0,
                 progress_message = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusPending, storage.NullableString(note), now, id,
		); err != nil {
			return fmt.Errorf("release job: %w", err)
		}
		return nil
	})
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.db.ExecRetryNoResult(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		storage.FormatTime(now),
		storage.FormatTime(now),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns processing jobs with expired heartbeats to
// pending. Retry budget is preserved; a crashed worker is infrastructure
// trouble, not a failed attempt.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := storage.FormatTime(time.Now().UTC())
	res, err := s.db.ExecRetry(
		ctx,
		`UPDATE jobs
        SET status = ?, progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now,
		StatusProcessing,
		storage.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing returns every processing job to pending. Called on
// daemon start to recover from crashes that left claims behind.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		storage.FormatTime(time.Now().UTC()),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending with a fresh retry budget.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := storage.FormatTime(time.Now().UTC())

	if len(ids) == 0 {
		res, err := s.db.ExecRetry(
			ctx,
			`UPDATE jobs
            SET status = ?, retry_count = 0, next_attempt_at = NULL,
                progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, last_error = NULL, completed_at = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := storage.MakePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs
        SET status = ?, retry_count = 0, next_attempt_at = NULL,
            progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, last_error = NULL, completed_at = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.db.ExecRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) backoffDelay(retry int) time.Duration {
	base := time.Duration(s.cfg.RetryBackoffSeconds) * time.Second
	if base <= 0 {
		return 0
	}
	maxDelay := time.Duration(s.cfg.RetryBackoffMaxSeconds) * time.Second
	delay := base
	for i := 1; i < retry; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func jobInTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job in tx: %w", err)
	}
	return job, nil
}
