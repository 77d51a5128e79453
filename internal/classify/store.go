package classify

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

// Proposal statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Proposal is one LLM identity suggestion awaiting human review.
type Proposal struct {
	ID               int64
	EpisodeID        string
	SegmentIndex     int
	StartSeconds     float64
	EndSeconds       float64
	ProposedSpeaker  string
	IsCharacterVoice bool
	Confidence       float64
	Rationale        string
	Status           string
	CreatedAt        time.Time
}

// Store manages classification proposals on the shared database.
type Store struct {
	db *storage.DB
}

// NewStore wraps the shared database with proposal access.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

const proposalColumns = `id, episode_id, segment_index, start_seconds, end_seconds,
    proposed_speaker, is_character_voice, confidence, rationale, status, created_at`

// ReplacePending swaps an episode's pending proposals for a fresh batch.
// Approved and rejected proposals are history and stay untouched.
func (s *Store) ReplacePending(ctx context.Context, episodeID string, proposals []Proposal) ([]*Proposal, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return nil, services.Wrap(services.ErrValidation, "classify", "replace pending", "episode id is required", nil)
	}

	now := storage.FormatTime(time.Now().UTC())
	ids := make([]int64, 0, len(proposals))
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM classification_proposals WHERE episode_id = ? AND status = ?`,
			episodeID, StatusPending,
		); err != nil {
			return fmt.Errorf("clear pending proposals: %w", err)
		}
		for _, proposal := range proposals {
			res, err := tx.ExecContext(
				ctx,
				`INSERT INTO classification_proposals (
                    episode_id, segment_index, start_seconds, end_seconds,
                    proposed_speaker, is_character_voice, confidence,
                    rationale, status, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				episodeID,
				proposal.SegmentIndex,
				proposal.StartSeconds,
				proposal.EndSeconds,
				strings.TrimSpace(proposal.ProposedSpeaker),
				storage.BoolToInt(proposal.IsCharacterVoice),
				proposal.Confidence,
				storage.NullableString(strings.TrimSpace(proposal.Rationale)),
				StatusPending,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert proposal for segment %d: %w", proposal.SegmentIndex, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("proposal id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stored := make([]*Proposal, 0, len(ids))
	for _, id := range ids {
		proposal, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		stored = append(stored, proposal)
	}
	return stored, nil
}

// Get fetches one proposal by id.
func (s *Store) Get(ctx context.Context, id int64) (*Proposal, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+proposalColumns+` FROM classification_proposals WHERE id = ?`,
		id,
	)
	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "classify", "get proposal", fmt.Sprintf("proposal %d not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return proposal, nil
}

// ListForEpisode returns an episode's proposals, optionally filtered by
// status, ordered by segment index.
func (s *Store) ListForEpisode(ctx context.Context, episodeID, status string) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM classification_proposals WHERE episode_id = ?`
	args := []any{strings.TrimSpace(episodeID)}
	if status = strings.TrimSpace(status); status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY segment_index, id`

	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

// Resolve marks a pending proposal approved or rejected and returns the
// updated row. Only pending proposals can move.
func (s *Store) Resolve(ctx context.Context, id int64, status string) (*Proposal, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, services.Wrap(services.ErrValidation, "classify", "resolve proposal", fmt.Sprintf("invalid status %q", status), nil)
	}
	res, err := s.db.ExecRetry(
		ctx,
		`UPDATE classification_proposals SET status = ? WHERE id = ? AND status = ?`,
		status, id, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve proposal: %w", err)
	}
	if affected == 0 {
		proposal, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, services.Wrap(
			services.ErrValidation,
			"classify", "resolve proposal",
			fmt.Sprintf("proposal %d already %s", id, proposal.Status),
			nil,
		)
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		proposal    Proposal
		isCharacter int
		rationale   sql.NullString
		createdRaw  string
	)
	if err := row.Scan(
		&proposal.ID,
		&proposal.EpisodeID,
		&proposal.SegmentIndex,
		&proposal.StartSeconds,
		&proposal.EndSeconds,
		&proposal.ProposedSpeaker,
		&isCharacter,
		&proposal.Confidence,
		&rationale,
		&proposal.Status,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	proposal.IsCharacterVoice = isCharacter != 0
	proposal.Rationale = rationale.String
	if ts, err := storage.ParseTime(createdRaw); err == nil {
		proposal.CreatedAt = ts
	}
	return &proposal, nil
}
