package hints

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/services"
	"rollcall/internal/storage"
)

// Store appends and reads correction signals on the shared database.
type Store struct {
	db *storage.DB
}

// NewStore wraps the shared database with ledger access.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Append records one correction signal. The ledger is append-only; callers
// never update or delete rows, later signals simply outrank earlier ones.
func (s *Store) Append(ctx context.Context, signal Signal) (*Signal, error) {
	signal.EpisodeID = strings.TrimSpace(signal.EpisodeID)
	signal.CorrectedSpeaker = strings.TrimSpace(signal.CorrectedSpeaker)
	signal.ConfidenceSource = strings.TrimSpace(signal.ConfidenceSource)
	if signal.EpisodeID == "" {
		return nil, services.Wrap(services.ErrValidation, "hints", "append signal", "episode id is required", nil)
	}
	if signal.SegmentIndex < 0 {
		return nil, services.Wrap(services.ErrValidation, "hints", "append signal", "segment index must not be negative", nil)
	}
	if signal.CorrectedSpeaker == "" {
		return nil, services.Wrap(services.ErrValidation, "hints", "append signal", "corrected speaker is required", nil)
	}
	if !KnownSource(signal.ConfidenceSource) {
		return nil, services.Wrap(services.ErrValidation, "hints", "append signal", fmt.Sprintf("unknown confidence source %q", signal.ConfidenceSource), nil)
	}
	if signal.EndSeconds < signal.StartSeconds {
		return nil, services.Wrap(services.ErrValidation, "hints", "append signal", "segment end precedes start", nil)
	}

	signal.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecRetry(
		ctx,
		`INSERT INTO correction_signals (
            episode_id, segment_index, start_seconds, end_seconds,
            corrected_speaker, is_character_voice, confidence_source,
            excluded_from_voiceprint, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.EpisodeID,
		signal.SegmentIndex,
		signal.StartSeconds,
		signal.EndSeconds,
		signal.CorrectedSpeaker,
		storage.BoolToInt(signal.IsCharacterVoice),
		signal.ConfidenceSource,
		storage.BoolToInt(signal.ExcludedFromVoiceprint),
		storage.FormatTime(signal.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert signal: %w", err)
	}
	signal.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &signal, nil
}

// ListForEpisode returns every signal for an episode in insertion order.
func (s *Store) ListForEpisode(ctx context.Context, episodeID string) ([]*Signal, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT id, episode_id, segment_index, start_seconds, end_seconds,
                corrected_speaker, is_character_voice, confidence_source,
                excluded_from_voiceprint, created_at
         FROM correction_signals WHERE episode_id = ? ORDER BY id`,
		strings.TrimSpace(episodeID),
	)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		var (
			signal     Signal
			character  int
			excluded   int
			createdRaw string
		)
		if err := rows.Scan(
			&signal.ID,
			&signal.EpisodeID,
			&signal.SegmentIndex,
			&signal.StartSeconds,
			&signal.EndSeconds,
			&signal.CorrectedSpeaker,
			&character,
			&signal.ConfidenceSource,
			&excluded,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signal.IsCharacterVoice = character != 0
		signal.ExcludedFromVoiceprint = excluded != 0
		if ts, err := storage.ParseTime(createdRaw); err == nil {
			signal.CreatedAt = ts
		}
		signals = append(signals, &signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return signals, nil
}

// AssembleForEpisode loads the episode's ledger and resolves it into a Set.
func (s *Store) AssembleForEpisode(ctx context.Context, episodeID string, episodeDate *time.Time) (Set, error) {
	signals, err := s.ListForEpisode(ctx, episodeID)
	if err != nil {
		return Set{}, err
	}
	return Assemble(episodeID, signals, episodeDate), nil
}
