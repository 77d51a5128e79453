package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// RecomputeCentroid rebuilds the centroid for one (speaker, backend) pair as
// the weighted mean of its samples, weight = quality_weight * decay. Decay is
// measured against the newest contributing sample rather than the wall clock,
// so rebuilding with no new samples reproduces the previous centroid exactly.
// Rebuilds for the same pair serialize; the swap is a single transaction.
// When the last sample is gone the centroid row is dropped and (nil, nil)
// is returned.
func (s *Store) RecomputeCentroid(ctx context.Context, speaker, backendID string) (*SpeakerCentroid, error) {
	speaker = strings.TrimSpace(speaker)
	backendID = normalizeBackend(backendID)
	if speaker == "" || backendID == "" {
		return nil, services.Wrap(services.ErrValidation, "library", "recompute centroid", "speaker and backend are required", nil)
	}

	unlock := s.locks.lock(centroidKey(speaker, backendID))
	defer unlock()

	backend, err := s.Backend(ctx, backendID)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, services.Wrap(services.ErrConfiguration, "library", "recompute centroid", fmt.Sprintf("backend %s is not registered", backendID), nil)
	}

	samples, err := s.samples(ctx, speaker, backendID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		if err := s.db.ExecRetryNoResult(
			ctx,
			`DELETE FROM speaker_centroids WHERE speaker = ? AND backend_id = ?`,
			speaker, backendID,
		); err != nil {
			return nil, fmt.Errorf("drop centroid: %w", err)
		}
		return nil, nil
	}

	newest := samples[0].SampleDate
	for _, sample := range samples[1:] {
		if sample.SampleDate.After(newest) {
			newest = sample.SampleDate
		}
	}

	acc := make([]float64, backend.Dimension)
	var total float64
	for _, sample := range samples {
		if len(sample.Vector) != backend.Dimension {
			return nil, services.Wrap(services.ErrDataIntegrity, "library", "recompute centroid",
				fmt.Sprintf("sample %d has dimension %d, backend %s expects %d", sample.ID, len(sample.Vector), backendID, backend.Dimension), nil)
		}
		weight := sample.QualityWeight * DecayWeight(sample.SampleDate, newest, s.halfLife)
		for i, v := range sample.Vector {
			acc[i] += weight * float64(v)
		}
		total += weight
	}
	if total <= 0 {
		return nil, services.Wrap(services.ErrDataIntegrity, "library", "recompute centroid",
			fmt.Sprintf("samples for %s/%s carry no positive weight", speaker, backendID), nil)
	}

	vec := make([]float32, backend.Dimension)
	for i := range acc {
		vec[i] = float32(acc[i] / total)
	}

	centroid := &SpeakerCentroid{
		Speaker:     speaker,
		BackendID:   backendID,
		Vector:      vec,
		SampleCount: len(samples),
		LastUpdated: time.Now().UTC(),
	}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM speaker_centroids WHERE speaker = ? AND backend_id = ?`, speaker, backendID); err != nil {
			return fmt.Errorf("swap centroid: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO speaker_centroids (speaker, backend_id, vector, sample_count, last_updated)
             VALUES (?, ?, ?, ?, ?)`,
			speaker, backendID, EncodeVector(vec), len(samples), storage.FormatTime(centroid.LastUpdated),
		); err != nil {
			return fmt.Errorf("write centroid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return centroid, nil
}

// Centroid reads one centroid. Missing centroids return (nil, nil). A stored
// sample count that no longer matches the live samples means the derived row
// has drifted; the read fails so callers recompute instead of matching
// against a stale voiceprint.
func (s *Store) Centroid(ctx context.Context, speaker, backendID string) (*SpeakerCentroid, error) {
	speaker = strings.TrimSpace(speaker)
	backendID = normalizeBackend(backendID)
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+centroidColumns+` FROM speaker_centroids WHERE speaker = ? AND backend_id = ?`,
		speaker, backendID,
	)
	centroid, err := scanCentroid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get centroid: %w", err)
	}

	var live int
	if err := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM voice_samples WHERE speaker = ? AND backend_id = ?`,
		speaker, backendID,
	).Scan(&live); err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}
	if live != centroid.SampleCount {
		return nil, services.Wrap(services.ErrDataIntegrity, "library", "get centroid",
			fmt.Sprintf("centroid for %s/%s derives from %d samples but %d are stored, recompute required", speaker, backendID, centroid.SampleCount, live), nil)
	}
	return centroid, nil
}

// Centroids lists every centroid in one backend space ordered by speaker.
// This is the matcher's working set.
func (s *Store) Centroids(ctx context.Context, backendID string) ([]*SpeakerCentroid, error) {
	backendID = normalizeBackend(backendID)
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+centroidColumns+` FROM speaker_centroids WHERE backend_id = ? ORDER BY speaker`,
		backendID,
	)
	if err != nil {
		return nil, fmt.Errorf("list centroids: %w", err)
	}
	defer rows.Close()

	var centroids []*SpeakerCentroid
	for rows.Next() {
		centroid, err := scanCentroid(rows)
		if err != nil {
			return nil, err
		}
		centroids = append(centroids, centroid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate centroids: %w", err)
	}
	return centroids, nil
}

const centroidColumns = "speaker, backend_id, vector, sample_count, last_updated"

func scanCentroid(scanner interface{ Scan(dest ...any) error }) (*SpeakerCentroid, error) {
	var (
		centroid   SpeakerCentroid
		vectorRaw  []byte
		updatedRaw string
	)
	if err := scanner.Scan(
		&centroid.Speaker,
		&centroid.BackendID,
		&vectorRaw,
		&centroid.SampleCount,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	vec, err := DecodeVector(vectorRaw)
	if err != nil {
		return nil, services.Wrap(services.ErrDataIntegrity, "library", "scan centroid",
			fmt.Sprintf("centroid %s/%s", centroid.Speaker, centroid.BackendID), err)
	}
	centroid.Vector = vec
	if ts, err := storage.ParseTime(updatedRaw); err == nil {
		centroid.LastUpdated = ts
	}
	return &centroid, nil
}
