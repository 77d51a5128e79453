package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/workflow"
)

// LockFileName is the flock target under the state directory that enforces
// single-instance execution.
const LockFileName = "rollcalld.lock"

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	intake   *intakeWatcher
	janitor  *janitor
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
}

// LockPath returns the daemon lock file location for the given configuration.
func LockPath(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return filepath.Join(cfg.Paths.StateDir, LockFileName)
}

// InstanceRunning reports whether a daemon currently holds the lock. The CLI
// uses this to distinguish a live daemon from stale queue state without any
// IPC channel.
func InstanceRunning(cfg *config.Config) (bool, error) {
	path := LockPath(cfg)
	if path == "" {
		return false, errors.New("configuration unavailable")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat lock file: %w", err)
	}
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock file: %w", err)
	}
	if !ok {
		return true, nil
	}
	_ = probe.Unlock()
	return false, nil
}

// New constructs a daemon with initialized dependencies. logPath names the
// active run log so retention sweeps never prune it; it may be empty in tests.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, logPath string) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		intake:   newIntakeWatcher(cfg, store, logger),
		janitor:  newJanitor(cfg, store, logger, logPath),
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, requeues interrupted jobs, and launches the
// workflow manager plus background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rollcall daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if count, err := d.store.ResetStuckProcessing(d.ctx); err != nil {
		logging.WarnWithContext(d.logger, "failed to requeue interrupted jobs", "reset_stuck_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "jobs interrupted by a previous crash stay stuck in processing"),
		)
	} else if count > 0 {
		d.logger.Info("requeued jobs interrupted by previous shutdown",
			logging.Int64("count", count),
			logging.String(logging.FieldEventType, "jobs_requeued"),
		)
	}

	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	if d.intake != nil {
		if err := d.intake.Start(d.ctx); err != nil {
			d.logger.Warn("intake watcher failed to start", logging.Error(err))
		}
	}
	if d.janitor != nil {
		if err := d.janitor.Start(d.ctx); err != nil {
			d.logger.Warn("retention janitor failed to start", logging.Error(err))
		}
	}

	d.running.Store(true)
	d.logger.Info("rollcall daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("intake_watcher", d.intake != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.intake != nil {
		d.intake.Stop()
	}
	if d.janitor != nil {
		d.janitor.Stop()
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("rollcall daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// LogPath returns the path to the active daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.workflow.Status(ctx)
	return Status{
		Running:      d.running.Load(),
		Workflow:     summary,
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
}
