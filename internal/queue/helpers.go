package queue

import (
	"database/sql"
	"time"

	"rollcall/internal/storage"
)

const jobColumns = "id, episode_id, episode_title, audio_path, episode_date, status, priority, reason, retry_count, max_retries, backend_override, skipped_rounds, next_attempt_at, hints_json, result_path, progress_stage, progress_percent, progress_message, last_error, last_heartbeat, created_at, updated_at, started_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		episodeID       string
		episodeTitle    sql.NullString
		audioPath       string
		episodeDateRaw  sql.NullString
		statusStr       string
		priority        int
		reasonStr       string
		retryCount      int
		maxRetries      int
		backendOverride sql.NullString
		skippedRounds   int
		nextAttemptRaw  sql.NullString
		hintsJSON       sql.NullString
		resultPath      sql.NullString
		progressStage   sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		lastError       sql.NullString
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&episodeID,
		&episodeTitle,
		&audioPath,
		&episodeDateRaw,
		&statusStr,
		&priority,
		&reasonStr,
		&retryCount,
		&maxRetries,
		&backendOverride,
		&skippedRounds,
		&nextAttemptRaw,
		&hintsJSON,
		&resultPath,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&lastError,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		EpisodeID:       episodeID,
		EpisodeTitle:    episodeTitle.String,
		AudioPath:       audioPath,
		Status:          Status(statusStr),
		Priority:        priority,
		Reason:          Reason(reasonStr),
		RetryCount:      retryCount,
		MaxRetries:      maxRetries,
		BackendOverride: backendOverride.String,
		SkippedRounds:   skippedRounds,
		HintsJSON:       hintsJSON.String,
		ResultPath:      resultPath.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		LastError:       lastError.String,
	}

	if created, err := storage.ParseTime(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := storage.ParseTime(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.EpisodeDate = parseNullableTime(episodeDateRaw)
	job.NextAttemptAt = parseNullableTime(nextAttemptRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	return job, nil
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := storage.ParseTime(raw.String)
	if err != nil {
		return nil
	}
	return &t
}
