package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// Store manages voice samples and centroids on top of the shared database.
type Store struct {
	db       *storage.DB
	halfLife time.Duration
	locks    lockTable
}

// NewStore wraps the shared database with voice library semantics. The decay
// half-life comes from the [library] config section.
func NewStore(db *storage.DB, cfg *config.Config) *Store {
	days := cfg.Library.HalfLifeDays
	if days <= 0 {
		days = 1
	}
	return &Store{db: db, halfLife: time.Duration(days) * 24 * time.Hour}
}

// DB exposes the shared database for sibling stores and diagnostics.
func (s *Store) DB() *storage.DB {
	return s.db
}

// HalfLife reports the configured decay half-life.
func (s *Store) HalfLife() time.Duration {
	return s.halfLife
}

// lockTable hands out one mutex per key so centroid rebuilds for the same
// (speaker, backend) pair serialize without blocking unrelated pairs.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func centroidKey(speaker, backendID string) string {
	return speaker + "\x00" + backendID
}

func normalizeBackend(backendID string) string {
	return strings.ToLower(strings.TrimSpace(backendID))
}

// EnsureBackend registers an embedding backend and its feature dimension.
// Re-registering with the same dimension is a no-op. The dimension can be
// corrected while the space is empty; once samples exist it is fixed.
func (s *Store) EnsureBackend(ctx context.Context, backendID string, dimension int) error {
	backendID = normalizeBackend(backendID)
	if backendID == "" {
		return services.Wrap(services.ErrValidation, "library", "ensure backend", "backend id is required", nil)
	}
	if dimension <= 0 {
		return services.Wrap(services.ErrValidation, "library", "ensure backend", fmt.Sprintf("backend %s needs a positive dimension", backendID), nil)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, `SELECT feature_dimension FROM backends WHERE backend_id = ?`, backendID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO backends (backend_id, feature_dimension, created_at) VALUES (?, ?, ?)`,
				backendID, dimension, storage.FormatTime(time.Now().UTC()),
			); err != nil {
				return fmt.Errorf("register backend: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("lookup backend: %w", err)
		}
		if existing == dimension {
			return nil
		}
		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM voice_samples WHERE backend_id = ?`, backendID).Scan(&stored); err != nil {
			return fmt.Errorf("count backend samples: %w", err)
		}
		if stored > 0 {
			return services.Wrap(services.ErrDataIntegrity, "library", "ensure backend",
				fmt.Sprintf("backend %s holds %d samples at dimension %d, cannot change to %d", backendID, stored, existing, dimension), nil)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE backends SET feature_dimension = ? WHERE backend_id = ?`, dimension, backendID); err != nil {
			return fmt.Errorf("update backend: %w", err)
		}
		return nil
	})
}

// EnsureConfiguredBackends registers every backend the [diarization] section
// declares a dimension for. Both the daemon and the CLI call this before any
// write so harvests from either process land in registered spaces.
func (s *Store) EnsureConfiguredBackends(ctx context.Context, cfg *config.Config) error {
	ids := make([]string, 0, len(cfg.Diarization.Dimensions))
	for id := range cfg.Diarization.Dimensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.EnsureBackend(ctx, id, cfg.Diarization.Dimensions[id]); err != nil {
			return err
		}
	}
	return nil
}

// Backend returns a registered backend. Missing backends return (nil, nil).
func (s *Store) Backend(ctx context.Context, backendID string) (*Backend, error) {
	backendID = normalizeBackend(backendID)
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT backend_id, feature_dimension, created_at FROM backends WHERE backend_id = ?`,
		backendID,
	)
	var (
		backend    Backend
		createdRaw string
	)
	if err := row.Scan(&backend.ID, &backend.Dimension, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get backend: %w", err)
	}
	if ts, err := storage.ParseTime(createdRaw); err == nil {
		backend.CreatedAt = ts
	}
	return &backend, nil
}

// Backends lists registered backends ordered by id.
func (s *Store) Backends(ctx context.Context) ([]*Backend, error) {
	rows, err := s.db.Handle().QueryContext(ctx, `SELECT backend_id, feature_dimension, created_at FROM backends ORDER BY backend_id`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()

	var backends []*Backend
	for rows.Next() {
		var (
			backend    Backend
			createdRaw string
		)
		if err := rows.Scan(&backend.ID, &backend.Dimension, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan backend: %w", err)
		}
		if ts, err := storage.ParseTime(createdRaw); err == nil {
			backend.CreatedAt = ts
		}
		backends = append(backends, &backend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backends: %w", err)
	}
	return backends, nil
}

// NewSample carries the fields of a voice sample to ingest.
type NewSample struct {
	Speaker       string
	BackendID     string
	Vector        []float32
	SampleDate    time.Time
	Source        string
	EpisodeID     string
	QualityWeight float64
	ClipPath      string
}

// AddSample stores one embedding sample. The vector must match the backend's
// registered dimension; a mismatch returns a DimensionError and leaves both
// samples and centroids untouched. Callers recompute the centroid separately.
func (s *Store) AddSample(ctx context.Context, sample NewSample) (*EmbeddingSample, error) {
	speaker := strings.TrimSpace(sample.Speaker)
	if speaker == "" {
		return nil, services.Wrap(services.ErrValidation, "library", "add sample", "speaker is required", nil)
	}
	backendID := normalizeBackend(sample.BackendID)
	if backendID == "" {
		return nil, services.Wrap(services.ErrValidation, "library", "add sample", "backend id is required", nil)
	}
	if len(sample.Vector) == 0 {
		return nil, services.Wrap(services.ErrValidation, "library", "add sample", "vector is empty", nil)
	}
	if sample.SampleDate.IsZero() {
		return nil, services.Wrap(services.ErrValidation, "library", "add sample", "sample date is required", nil)
	}
	weight := sample.QualityWeight
	if weight == 0 {
		weight = 1
	}
	if weight < 0 {
		return nil, services.Wrap(services.ErrValidation, "library", "add sample", "quality weight must be positive", nil)
	}
	source := strings.TrimSpace(sample.Source)
	if source == "" {
		source = SourceManual
	}

	backend, err := s.Backend(ctx, backendID)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, services.Wrap(services.ErrConfiguration, "library", "add sample", fmt.Sprintf("backend %s is not registered", backendID), nil)
	}
	if len(sample.Vector) != backend.Dimension {
		return nil, &DimensionError{BackendID: backendID, Got: len(sample.Vector), Want: backend.Dimension}
	}

	now := time.Now().UTC()
	stored := &EmbeddingSample{
		Speaker:       speaker,
		BackendID:     backendID,
		Vector:        append([]float32(nil), sample.Vector...),
		SampleDate:    sample.SampleDate.UTC(),
		Source:        source,
		EpisodeID:     strings.TrimSpace(sample.EpisodeID),
		QualityWeight: weight,
		ClipPath:      strings.TrimSpace(sample.ClipPath),
		CreatedAt:     now,
	}

	res, err := s.db.ExecRetry(
		ctx,
		`INSERT INTO voice_samples (
            speaker, backend_id, vector, sample_date, source, episode_id,
            quality_weight, clip_path, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.Speaker,
		stored.BackendID,
		EncodeVector(stored.Vector),
		storage.FormatTime(stored.SampleDate),
		stored.Source,
		storage.NullableString(stored.EpisodeID),
		stored.QualityWeight,
		storage.NullableString(stored.ClipPath),
		storage.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	stored.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return stored, nil
}

// SamplesForSpeaker returns every sample for a speaker across backends,
// newest first.
func (s *Store) SamplesForSpeaker(ctx context.Context, speaker string) ([]*EmbeddingSample, error) {
	return s.querySamples(
		ctx,
		`SELECT `+sampleColumns+` FROM voice_samples WHERE speaker = ? ORDER BY sample_date DESC, id DESC`,
		strings.TrimSpace(speaker),
	)
}

// samples loads the contributing set for one centroid in insertion order so
// rebuild arithmetic is stable.
func (s *Store) samples(ctx context.Context, speaker, backendID string) ([]*EmbeddingSample, error) {
	return s.querySamples(
		ctx,
		`SELECT `+sampleColumns+` FROM voice_samples WHERE speaker = ? AND backend_id = ? ORDER BY id`,
		speaker, backendID,
	)
}

func (s *Store) querySamples(ctx context.Context, query string, args ...any) ([]*EmbeddingSample, error) {
	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*EmbeddingSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

// HarvestedClips reports how many distinct harvested clips a speaker already
// has from one episode. The harvester enforces its per-episode cap with this
// so repeated runs do not pile on duplicates.
func (s *Store) HarvestedClips(ctx context.Context, speaker, episodeID string) (int, error) {
	var count int
	err := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT COUNT(DISTINCT COALESCE(clip_path, id)) FROM voice_samples
         WHERE speaker = ? AND episode_id = ? AND source = ?`,
		strings.TrimSpace(speaker), strings.TrimSpace(episodeID), SourceHarvest,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count harvested clips: %w", err)
	}
	return count, nil
}

// ClipRef points at one stored clip and the metadata its samples share.
type ClipRef struct {
	Speaker       string
	ClipPath      string
	EpisodeID     string
	SampleDate    time.Time
	QualityWeight float64
}

// ClipsMissingBackend returns the distinct stored clips that have no sample
// in the given backend yet, so a backend rebuild re-embeds each clip once.
func (s *Store) ClipsMissingBackend(ctx context.Context, backendID string) ([]ClipRef, error) {
	backendID = normalizeBackend(backendID)
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT speaker, clip_path, COALESCE(episode_id, ''),
                MAX(sample_date), MAX(quality_weight)
         FROM voice_samples AS outer_samples
         WHERE clip_path IS NOT NULL AND clip_path != ''
           AND NOT EXISTS (
               SELECT 1 FROM voice_samples AS existing
               WHERE existing.clip_path = outer_samples.clip_path
                 AND existing.speaker = outer_samples.speaker
                 AND existing.backend_id = ?)
         GROUP BY speaker, clip_path
         ORDER BY speaker, clip_path`,
		backendID,
	)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()

	var clips []ClipRef
	for rows.Next() {
		var (
			ref     ClipRef
			dateRaw string
		)
		if err := rows.Scan(&ref.Speaker, &ref.ClipPath, &ref.EpisodeID, &dateRaw, &ref.QualityWeight); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		if ts, err := storage.ParseTime(dateRaw); err == nil {
			ref.SampleDate = ts
		}
		clips = append(clips, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return clips, nil
}

// PruneSamples deletes a speaker's samples by source (empty source removes
// all of them) and rebuilds the centroid in every affected backend space.
// Returns the number of samples removed.
func (s *Store) PruneSamples(ctx context.Context, speaker, source string) (int, error) {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		return 0, services.Wrap(services.ErrValidation, "library", "prune samples", "speaker is required", nil)
	}
	source = strings.TrimSpace(source)

	var (
		affected []string
		removed  int64
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		listQuery := `SELECT DISTINCT backend_id FROM voice_samples WHERE speaker = ?`
		listArgs := []any{speaker}
		if source != "" {
			listQuery += ` AND source = ?`
			listArgs = append(listArgs, source)
		}
		rows, err := tx.QueryContext(ctx, listQuery, listArgs...)
		if err != nil {
			return fmt.Errorf("list affected backends: %w", err)
		}
		defer rows.Close()
		affected = affected[:0]
		for rows.Next() {
			var backendID string
			if err := rows.Scan(&backendID); err != nil {
				return fmt.Errorf("scan backend: %w", err)
			}
			affected = append(affected, backendID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate backends: %w", err)
		}

		deleteQuery := `DELETE FROM voice_samples WHERE speaker = ?`
		deleteArgs := []any{speaker}
		if source != "" {
			deleteQuery += ` AND source = ?`
			deleteArgs = append(deleteArgs, source)
		}
		res, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...)
		if err != nil {
			return fmt.Errorf("delete samples: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, backendID := range affected {
		if _, err := s.RecomputeCentroid(ctx, speaker, backendID); err != nil {
			return int(removed), fmt.Errorf("rebuild centroid for %s/%s: %w", speaker, backendID, err)
		}
	}
	return int(removed), nil
}

const sampleColumns = "id, speaker, backend_id, vector, sample_date, source, episode_id, quality_weight, clip_path, created_at"

func scanSample(scanner interface{ Scan(dest ...any) error }) (*EmbeddingSample, error) {
	var (
		sample     EmbeddingSample
		vectorRaw  []byte
		dateRaw    string
		episodeID  sql.NullString
		clipPath   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&sample.ID,
		&sample.Speaker,
		&sample.BackendID,
		&vectorRaw,
		&dateRaw,
		&sample.Source,
		&episodeID,
		&sample.QualityWeight,
		&clipPath,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	vec, err := DecodeVector(vectorRaw)
	if err != nil {
		return nil, services.Wrap(services.ErrDataIntegrity, "library", "scan sample", fmt.Sprintf("sample %d", sample.ID), err)
	}
	sample.Vector = vec
	if ts, err := storage.ParseTime(dateRaw); err == nil {
		sample.SampleDate = ts
	}
	sample.EpisodeID = episodeID.String
	sample.ClipPath = clipPath.String
	if ts, err := storage.ParseTime(createdRaw); err == nil {
		sample.CreatedAt = ts
	}
	return &sample, nil
}
