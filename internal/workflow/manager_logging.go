package workflow

import (
	"context"
	"log/slog"
	"strings"

	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/services"
)

func (m *Manager) runnerLogger() *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	return m.logger.With(logging.String(logging.FieldComponent, "workflow-runner"))
}

func (m *Manager) jobLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = m.logger
	}
	if base == nil {
		base = logging.NewNop()
	}
	return logging.WithContext(ctx, base)
}

func withJobContext(ctx context.Context, job *queue.Job, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithJobID(ctx, job.ID)
		if episode := strings.TrimSpace(job.EpisodeID); episode != "" {
			ctx = services.WithEpisode(ctx, episode)
		}
	}
	ctx = services.WithStage(ctx, "diarize")
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
