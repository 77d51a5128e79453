package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// UpsertSpeaker creates or updates a speaker directory entry. Aliases replace
// the stored set wholesale.
func (s *Store) UpsertSpeaker(ctx context.Context, name string, aliases []string, notes string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return services.Wrap(services.ErrValidation, "library", "upsert speaker", "speaker name is required", nil)
	}
	cleaned := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		if alias = strings.TrimSpace(alias); alias != "" {
			cleaned = append(cleaned, alias)
		}
	}
	var aliasesJSON any
	if len(cleaned) > 0 {
		encoded, err := json.Marshal(cleaned)
		if err != nil {
			return fmt.Errorf("encode aliases: %w", err)
		}
		aliasesJSON = string(encoded)
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE speakers SET aliases = ?, notes = ? WHERE name = ?`,
			aliasesJSON, storage.NullableString(strings.TrimSpace(notes)), name,
		)
		if err != nil {
			return fmt.Errorf("update speaker: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO speakers (name, aliases, notes, created_at) VALUES (?, ?, ?, ?)`,
			name, aliasesJSON, storage.NullableString(strings.TrimSpace(notes)), storage.FormatTime(time.Now().UTC()),
		); err != nil {
			return fmt.Errorf("insert speaker: %w", err)
		}
		return nil
	})
}

// EnsureSpeaker adds a directory entry for a name if one does not exist yet.
// Existing entries keep their aliases and notes.
func (s *Store) EnsureSpeaker(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return services.Wrap(services.ErrValidation, "library", "ensure speaker", "speaker name is required", nil)
	}
	if err := s.db.ExecRetryNoResult(
		ctx,
		`INSERT OR IGNORE INTO speakers (name, aliases, notes, created_at) VALUES (?, NULL, NULL, ?)`,
		name, storage.FormatTime(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("ensure speaker: %w", err)
	}
	return nil
}

// SpeakerInfo returns one directory entry. Missing entries return (nil, nil).
func (s *Store) SpeakerInfo(ctx context.Context, name string) (*Speaker, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT name, aliases, notes, created_at FROM speakers WHERE name = ?`,
		strings.TrimSpace(name),
	)
	speaker, err := scanSpeaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get speaker: %w", err)
	}
	return speaker, nil
}

// Directory lists every speaker entry ordered by name.
func (s *Store) Directory(ctx context.Context) ([]*Speaker, error) {
	rows, err := s.db.Handle().QueryContext(ctx, `SELECT name, aliases, notes, created_at FROM speakers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list speakers: %w", err)
	}
	defer rows.Close()

	var speakers []*Speaker
	for rows.Next() {
		speaker, err := scanSpeaker(rows)
		if err != nil {
			return nil, err
		}
		speakers = append(speakers, speaker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speakers: %w", err)
	}
	return speakers, nil
}

// ResolveSpeaker maps a name or alias onto the canonical directory name,
// case-insensitively. Names absent from the directory resolve to themselves
// trimmed; the directory is advisory, not an allowlist.
func (s *Store) ResolveSpeaker(ctx context.Context, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", nil
	}
	entries, err := s.Directory(ctx)
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(trimmed)
	for _, entry := range entries {
		if strings.ToLower(entry.Name) == lower {
			return entry.Name, nil
		}
		for _, alias := range entry.Aliases {
			if strings.ToLower(alias) == lower {
				return entry.Name, nil
			}
		}
	}
	return trimmed, nil
}

// ListSummaries aggregates sample counts and centroid presence per
// (speaker, backend) pair for status surfaces.
func (s *Store) ListSummaries(ctx context.Context) ([]SpeakerSummary, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT s.speaker, s.backend_id, COUNT(*), MAX(s.sample_date),
                EXISTS (
                    SELECT 1 FROM speaker_centroids c
                    WHERE c.speaker = s.speaker AND c.backend_id = s.backend_id
                )
         FROM voice_samples s
         GROUP BY s.speaker, s.backend_id
         ORDER BY s.speaker, s.backend_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []SpeakerSummary
	for rows.Next() {
		var (
			summary   SpeakerSummary
			newestRaw string
			centroid  int
		)
		if err := rows.Scan(&summary.Speaker, &summary.BackendID, &summary.SampleCount, &newestRaw, &centroid); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if ts, err := storage.ParseTime(newestRaw); err == nil {
			summary.NewestSample = ts
		}
		summary.HasCentroid = centroid != 0
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}

func scanSpeaker(scanner interface{ Scan(dest ...any) error }) (*Speaker, error) {
	var (
		speaker    Speaker
		aliasesRaw sql.NullString
		notes      sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&speaker.Name, &aliasesRaw, &notes, &createdRaw); err != nil {
		return nil, err
	}
	if aliasesRaw.Valid && aliasesRaw.String != "" {
		if err := json.Unmarshal([]byte(aliasesRaw.String), &speaker.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %s: %w", speaker.Name, err)
		}
	}
	speaker.Notes = notes.String
	if ts, err := storage.ParseTime(createdRaw); err == nil {
		speaker.CreatedAt = ts
	}
	return &speaker, nil
}
