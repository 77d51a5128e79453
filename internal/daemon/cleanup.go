package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"log/slog"

	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
)

// janitor periodically prunes finished queue records and old log files
// according to the configured retention windows.
type janitor struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	logPath string

	interval time.Duration

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJanitor(cfg *config.Config, store *queue.Store, logger *slog.Logger, logPath string) *janitor {
	if cfg == nil || store == nil {
		return nil
	}

	interval := time.Duration(cfg.Workflow.CleanupScanInterval) * time.Second
	if interval <= 0 {
		return nil
	}

	sweepLogger := logger
	if sweepLogger != nil {
		sweepLogger = sweepLogger.With(logging.String(logging.FieldComponent, "janitor"))
	}

	return &janitor{
		cfg:      cfg,
		store:    store,
		logger:   sweepLogger,
		logPath:  logPath,
		interval: interval,
	}
}

func (j *janitor) Start(ctx context.Context) error {
	if j == nil {
		return errors.New("janitor unavailable")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("janitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.ctx = runCtx
	j.cancel = cancel
	j.running = true

	j.wg.Add(1)
	go j.loop()
	return nil
}

func (j *janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	j.running = false
	j.cancel = nil
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
}

func (j *janitor) loop() {
	defer j.wg.Done()

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *janitor) sweep() {
	ctx := j.ctx
	if ctx == nil {
		return
	}
	logger := j.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	if days := j.cfg.Queue.RetentionDays; days > 0 {
		removed, err := j.store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(logger, "queue retention sweep failed", "queue_cleanup_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
					logging.String(logging.FieldImpact, "finished jobs accumulate in the database"),
				)
			}
		} else if removed > 0 {
			logger.Info("pruned finished queue records",
				logging.Int64("removed", removed),
				logging.Int("retention_days", days),
				logging.String(logging.FieldEventType, "queue_records_pruned"),
			)
		}
	}

	var exclude []string
	if strings.TrimSpace(j.logPath) != "" {
		exclude = append(exclude, j.logPath)
	}
	logging.CleanupOldLogs(logger, j.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: j.cfg.Paths.LogDir, Pattern: "rollcall-*.log", Exclude: exclude},
	)
}
