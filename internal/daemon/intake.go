package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"rollcall/internal/config"
	"rollcall/internal/fileutil"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/textutil"
)

var audioFileExtensions = map[string]struct{}{
	".flac": {},
	".wav":  {},
	".mp3":  {},
	".m4a":  {},
	".ogg":  {},
}

// fileSnapshot captures size and mtime so a file is only ingested after it
// stops changing between two scans. Files still being written (downloads,
// network copies) grow between polls and stay pending.
type fileSnapshot struct {
	size    int64
	modTime time.Time
}

type intakeWatcher struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	intakeDir    string
	archiveDir   string
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	pending map[string]fileSnapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newIntakeWatcher(cfg *config.Config, store *queue.Store, logger *slog.Logger) *intakeWatcher {
	if cfg == nil || store == nil {
		return nil
	}

	intakeDir := strings.TrimSpace(cfg.Paths.IntakeDir)
	if intakeDir == "" {
		return nil
	}

	poll := time.Duration(cfg.Workflow.IntakeScanInterval) * time.Second
	if poll <= 0 {
		poll = 30 * time.Second
	}

	watchLogger := logger
	if watchLogger != nil {
		watchLogger = watchLogger.With(logging.String(logging.FieldComponent, "intake-watcher"))
	}

	return &intakeWatcher{
		cfg:          cfg,
		store:        store,
		logger:       watchLogger,
		intakeDir:    intakeDir,
		archiveDir:   strings.TrimSpace(cfg.Paths.ArchiveDir),
		pollInterval: poll,
		pending:      make(map[string]fileSnapshot),
	}
}

func (w *intakeWatcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("intake watcher unavailable")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("intake watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *intakeWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *intakeWatcher) loop() {
	defer w.wg.Done()

	w.poll()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *intakeWatcher) poll() {
	ctx := w.ctx
	if ctx == nil {
		return
	}

	entries, err := os.ReadDir(w.intakeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logger := w.logger
		if logger == nil {
			logger = logging.NewNop()
		}
		logger.Warn("intake scan failed; will retry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "intake_scan_failed"),
			logging.String(logging.FieldErrorHint, "check intake_dir path and permissions"),
		)
		return
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := audioFileExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(w.intakeDir, name)
		seen[path] = struct{}{}
		snapshot := fileSnapshot{size: info.Size(), modTime: info.ModTime()}

		w.mu.Lock()
		prev, tracked := w.pending[path]
		w.pending[path] = snapshot
		w.mu.Unlock()

		if tracked && prev.size == snapshot.size && prev.modTime.Equal(snapshot.modTime) {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
			w.ingest(ctx, path)
		}
	}

	// Drop tracking for files that vanished between scans.
	w.mu.Lock()
	for path := range w.pending {
		if _, ok := seen[path]; !ok {
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
}

// ingest archives a stable intake file and enqueues an initial job pointing at
// the archived copy, so the queue never references a path inside the watched
// directory.
func (w *intakeWatcher) ingest(ctx context.Context, path string) {
	logger := logging.WithContext(ctx, w.logger).With(logging.String("intake_file", path))

	base := filepath.Base(path)
	episodeID := textutil.SanitizeToken(strings.TrimSuffix(base, filepath.Ext(base)))
	title := textutil.DisplayTitle(base)

	archived, err := w.archiveDestination(base)
	if err != nil {
		logger.Warn("could not pick archive destination; file left in intake",
			logging.Error(err),
			logging.String(logging.FieldEventType, "intake_archive_failed"),
			logging.String(logging.FieldErrorHint, "check archive_dir path and permissions"),
		)
		return
	}
	if err := fileutil.MoveFile(path, archived); err != nil {
		logger.Warn("could not archive intake file; will retry next scan",
			logging.Error(err),
			logging.String(logging.FieldEventType, "intake_archive_failed"),
			logging.String(logging.FieldErrorHint, "check archive_dir path, permissions, and free space"),
		)
		return
	}

	job, err := w.store.Enqueue(ctx, episodeID, queue.PriorityInitial, queue.ReasonInitial, queue.EnqueueOptions{
		AudioPath:    archived,
		EpisodeTitle: title,
	})
	if err != nil {
		var dup *queue.DuplicateActiveJobError
		if errors.As(err, &dup) {
			logger.Warn("episode already queued; file archived without a new job",
				logging.String(logging.FieldEpisode, episodeID),
				logging.Int64(logging.FieldJobID, dup.JobID),
				logging.String(logging.FieldEventType, "intake_duplicate"),
				logging.String("archived_path", archived),
			)
			return
		}
		logger.Error("failed to enqueue intake file",
			logging.Error(err),
			logging.String(logging.FieldEpisode, episodeID),
			logging.String(logging.FieldEventType, "intake_enqueue_failed"),
			logging.String(logging.FieldErrorHint, "enqueue manually with rollcall enqueue"),
			logging.String("archived_path", archived),
		)
		return
	}

	logger.Info("intake file queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEpisode, episodeID),
		logging.String("episode_title", title),
		logging.String("archived_path", archived),
		logging.String(logging.FieldEventType, "intake_queued"),
	)
}

// archiveDestination returns a collision-free path for base under the archive
// directory.
func (w *intakeWatcher) archiveDestination(base string) (string, error) {
	dir := w.archiveDir
	if dir == "" {
		return "", errors.New("archive directory not configured")
	}

	name := textutil.SanitizeFileName(base)
	if name == "" {
		name = base
	}
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < 1000; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free archive name for %s", base)
}
