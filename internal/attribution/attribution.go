// Package attribution persists per-cluster speaker assignments, the job
// output the review surface reads.
//
// Rows carry provenance (job id, assignment source, similarity) and outlive
// the jobs that produced them; a rerun replaces the episode's assignment set
// wholesale in one transaction.
package attribution

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// Assignment sources.
const (
	// SourceAnchor marks identities pinned by human corrections.
	SourceAnchor = "anchor"
	// SourceAuto marks identities the matcher accepted on its own.
	SourceAuto = "auto"
	// SourceExcluded marks character-voice clusters that bypassed matching.
	SourceExcluded = "excluded"
	// SourceUnmatched marks clusters left for review.
	SourceUnmatched = "unmatched"
)

// Assignment is one cluster's resolved identity for an episode.
type Assignment struct {
	ID         int64
	EpisodeID  string
	JobID      int64
	Cluster    string
	Speaker    string
	Confidence string
	Similarity *float64
	BackendID  string
	Source     string
	CreatedAt  time.Time
}

// Store manages episode speaker assignments on the shared database.
type Store struct {
	db *storage.DB
}

// NewStore wraps the shared database with attribution access.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// SaveJobOutput replaces an episode's assignments with a job's output in one
// transaction, so readers never observe a half-written set.
func (s *Store) SaveJobOutput(ctx context.Context, episodeID string, jobID int64, assignments []Assignment) error {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return services.Wrap(services.ErrValidation, "attribution", "save output", "episode id is required", nil)
	}
	for i, assignment := range assignments {
		if strings.TrimSpace(assignment.Cluster) == "" {
			return services.Wrap(services.ErrValidation, "attribution", "save output", fmt.Sprintf("assignment %d has no cluster", i), nil)
		}
	}

	now := storage.FormatTime(time.Now().UTC())
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM episode_speakers WHERE episode_id = ?`, episodeID); err != nil {
			return fmt.Errorf("clear assignments: %w", err)
		}
		for _, assignment := range assignments {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO episode_speakers (
                    episode_id, job_id, cluster, speaker, confidence,
                    similarity, backend_id, source, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				episodeID,
				jobID,
				strings.TrimSpace(assignment.Cluster),
				storage.NullableString(strings.TrimSpace(assignment.Speaker)),
				assignment.Confidence,
				assignment.Similarity,
				storage.NullableString(strings.TrimSpace(assignment.BackendID)),
				assignment.Source,
				now,
			); err != nil {
				return fmt.Errorf("insert assignment for cluster %s: %w", assignment.Cluster, err)
			}
		}
		return nil
	})
}

// ListForEpisode returns an episode's assignments ordered by cluster.
func (s *Store) ListForEpisode(ctx context.Context, episodeID string) ([]*Assignment, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT id, episode_id, job_id, cluster, speaker, confidence,
                similarity, backend_id, source, created_at
         FROM episode_speakers WHERE episode_id = ? ORDER BY cluster, id`,
		strings.TrimSpace(episodeID),
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*Assignment
	for rows.Next() {
		var (
			assignment Assignment
			speaker    sql.NullString
			similarity sql.NullFloat64
			backendID  sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&assignment.ID,
			&assignment.EpisodeID,
			&assignment.JobID,
			&assignment.Cluster,
			&speaker,
			&assignment.Confidence,
			&similarity,
			&backendID,
			&assignment.Source,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignment.Speaker = speaker.String
		if similarity.Valid {
			v := similarity.Float64
			assignment.Similarity = &v
		}
		assignment.BackendID = backendID.String
		if ts, err := storage.ParseTime(createdRaw); err == nil {
			assignment.CreatedAt = ts
		}
		assignments = append(assignments, &assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return assignments, nil
}

// UnresolvedForEpisode returns the clusters awaiting review.
func (s *Store) UnresolvedForEpisode(ctx context.Context, episodeID string) ([]*Assignment, error) {
	assignments, err := s.ListForEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	var unresolved []*Assignment
	for _, assignment := range assignments {
		if assignment.Source == SourceUnmatched {
			unresolved = append(unresolved, assignment)
		}
	}
	return unresolved, nil
}

// Counts aggregates assignment sources for one episode.
type Counts struct {
	Total     int
	Anchored  int
	Auto      int
	Excluded  int
	Unmatched int
}

// CountsForEpisode summarizes an episode's assignment sources.
func (s *Store) CountsForEpisode(ctx context.Context, episodeID string) (Counts, error) {
	assignments, err := s.ListForEpisode(ctx, episodeID)
	if err != nil {
		return Counts{}, err
	}
	var counts Counts
	for _, assignment := range assignments {
		counts.Total++
		switch assignment.Source {
		case SourceAnchor:
			counts.Anchored++
		case SourceAuto:
			counts.Auto++
		case SourceExcluded:
			counts.Excluded++
		case SourceUnmatched:
			counts.Unmatched++
		}
	}
	return counts, nil
}
