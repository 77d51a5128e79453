package workflow

import (
	"context"
	"errors"
	"strings"

	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/services"
)

// handleJobFailure routes a stage error through the scheduler's single
// retry-vs-terminal decision point and logs the outcome. Only terminal
// failures notify; a retryable failure just waits out its backoff.
func (m *Manager) handleJobFailure(ctx context.Context, job *queue.Job, jobErr error) {
	if jobErr == nil {
		jobErr = errors.New("job failed without error detail")
	}
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	logger := m.jobLogger(ctx, base).With(logging.String(logging.FieldComponent, "workflow-manager"))

	disposition, markErr := m.store.MarkFailed(ctx, job.ID, jobErr)
	if markErr != nil {
		if errors.Is(markErr, context.Canceled) {
			logger.Debug("daemon shutting down, could not record job failure")
		} else {
			logger.Error("failed to record job failure", logging.Error(markErr))
		}
	}

	attrs := []logging.Attr{
		logging.String("disposition", disposition.String()),
		logging.String("error_kind", services.Kind(jobErr)),
		logging.String("error_message", strings.TrimSpace(jobErr.Error())),
		logging.Int("attempt", job.RetryCount+1),
		logging.Alert("job_failure"),
		logging.Error(jobErr),
		logging.String(logging.FieldEventType, "job_failure"),
	}
	logger.Error("job failed", logging.Args(attrs...)...)

	if refreshed, err := m.store.GetByID(ctx, job.ID); err == nil && refreshed != nil {
		*job = *refreshed
	}
	m.setLastJob(job)

	if disposition == queue.DispositionTerminal {
		m.notifyJobFailed(ctx, job, jobErr)
	}
	m.checkQueueCompletion(ctx)
}
