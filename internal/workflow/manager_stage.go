package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/stage"
)

type loggerAware interface {
	SetLogger(*slog.Logger)
}

func (m *Manager) processJob(ctx context.Context, runLogger *slog.Logger, job *queue.Job) error {
	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler == nil {
		runLogger.Warn("no handler registered for claimed job", logging.Int64(logging.FieldJobID, job.ID))
		m.waitForJobOrShutdown(ctx)
		return nil
	}

	requestID := uuid.NewString()
	jobCtx := withJobContext(ctx, job, requestID)
	jobLogger := m.jobLogger(jobCtx, runLogger)
	if aware, ok := handler.(loggerAware); ok {
		aware.SetLogger(jobLogger)
	}

	m.setLastJob(job)
	m.onJobStarted(jobCtx)

	return m.executeJob(jobCtx, jobLogger, handler, job)
}

func (m *Manager) executeJob(ctx context.Context, jobLogger *slog.Logger, handler stage.Handler, job *queue.Job) error {
	jobStart := time.Now()
	jobLogger.Info(
		"job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("episode_title", strings.TrimSpace(job.EpisodeTitle)),
		logging.String("audio_file", strings.TrimSpace(job.AudioPath)),
		logging.Int("attempt", job.RetryCount+1),
	)

	if err := handler.Prepare(ctx, job); err != nil {
		m.handleJobFailure(ctx, job, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist job preparation: %w", err)
		jobLogger.Error("failed to persist job preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(ctx, handler, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			jobLogger.Debug("job interrupted by shutdown")
			m.releaseInterrupted(job, jobLogger)
			return execErr
		}
		m.handleJobFailure(ctx, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist job result: %w", err)
		jobLogger.Error("failed to persist job result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	if err := m.store.MarkCompleted(ctx, job.ID); err != nil {
		wrapped := fmt.Errorf("complete job: %w", err)
		jobLogger.Error("failed to mark job completed", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	job.Status = queue.StatusCompleted
	job.LastHeartbeat = nil
	jobLogger.Info(
		"job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("progress_message", strings.TrimSpace(job.ProgressMessage)),
		logging.Duration("job_duration", time.Since(jobStart)),
	)
	m.setLastJob(job)
	m.checkQueueCompletion(ctx)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// releaseInterrupted returns a claim interrupted by shutdown to pending so the
// job reschedules on the next daemon start without burning retry budget. The
// run context is already cancelled, so the release uses a short independent
// deadline.
func (m *Manager) releaseInterrupted(job *queue.Job, jobLogger *slog.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.ReleaseProcessing(releaseCtx, job.ID, "Interrupted by shutdown"); err != nil {
		jobLogger.Warn("failed to release interrupted job", logging.Error(err))
	}
}
