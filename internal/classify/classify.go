// Package classify runs an LLM pass over segments the matcher could not
// attribute, proposing speaker or character identities for human review.
//
// The classifier never writes to the signal ledger on its own. Proposals land
// in classification_proposals as pending rows; only explicit approval turns
// one into an approved_classification signal.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"rollcall/internal/config"
	"rollcall/internal/library"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/services"
	"rollcall/internal/services/llm"
)

// completer abstracts the LLM JSON-completion call for testability.
type completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Target describes one unattributed segment handed to the classifier.
// Timings and matcher context come from the diarization run; the model only
// contributes identity, never timing.
type Target struct {
	SegmentIndex int
	StartSeconds float64
	EndSeconds   float64
	Cluster      string
	Candidates   []match.Candidate
}

// Classifier turns unattributed segments into pending proposals.
type Classifier struct {
	client        completer
	store         *Store
	minConfidence float64
	logger        *slog.Logger
}

// Option customizes the classifier.
type Option func(*Classifier)

// WithCompleter overrides the LLM client (useful for tests).
func WithCompleter(client completer) Option {
	return func(c *Classifier) {
		c.client = client
	}
}

// NewClassifier builds a classifier from configuration. When the classifier
// section is disabled or missing an API key, the returned classifier reports
// Enabled() == false and Propose fails with a configuration error.
func NewClassifier(cfg *config.Config, store *Store, logger *slog.Logger, opts ...Option) *Classifier {
	classifier := &Classifier{
		store:         store,
		minConfidence: cfg.Classifier.MinConfidence,
		logger:        logging.NewComponentLogger(logger, "classify"),
	}
	llmCfg := cfg.ClassifierLLM()
	if cfg.Classifier.Enabled && llmCfg.APIKey != "" {
		classifier.client = llm.NewClient(llm.Config{
			APIKey:         llmCfg.APIKey,
			BaseURL:        llmCfg.BaseURL,
			Model:          llmCfg.Model,
			Referer:        llmCfg.Referer,
			Title:          llmCfg.Title,
			TimeoutSeconds: llmCfg.TimeoutSeconds,
		})
	}
	for _, opt := range opts {
		opt(classifier)
	}
	return classifier
}

// Enabled reports whether the classifier can issue requests.
func (c *Classifier) Enabled() bool {
	return c != nil && c.client != nil
}

// Store exposes the proposal store for review surfaces.
func (c *Classifier) Store() *Store {
	return c.store
}

type wireProposal struct {
	SegmentIdx       int     `json:"segment_idx"`
	ProposedSpeaker  string  `json:"proposed_speaker"`
	IsCharacterVoice bool    `json:"is_character_voice"`
	Confidence       float64 `json:"confidence"`
	Rationale        string  `json:"rationale"`
}

type wirePayload struct {
	Proposals []wireProposal `json:"proposals"`
}

// Propose sends the targets to the LLM and replaces the episode's pending
// proposals with the normalized results. Targets with no usable proposal are
// simply absent from the stored batch.
func (c *Classifier) Propose(ctx context.Context, episodeID string, targets []Target, roster []*library.Speaker) ([]*Proposal, error) {
	if !c.Enabled() {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "propose", "classifier is not configured", nil)
	}
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return nil, services.Wrap(services.ErrValidation, "classify", "propose", "episode id is required", nil)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	content, err := c.client.CompleteJSON(ctx, SegmentClassificationPrompt, buildUserPrompt(targets, roster))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "classify", "propose", "classifier request failed", err)
	}
	var payload wirePayload
	if err := llm.DecodeLLMJSON(content, &payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "classify", "propose", "classifier returned malformed payload", err)
	}

	proposals := c.normalize(payload.Proposals, targets, roster)
	c.logger.Info("classification pass complete",
		logging.String("episode_id", episodeID),
		logging.Int("targets", len(targets)),
		logging.Int("proposals", len(proposals)))
	return c.store.ReplacePending(ctx, episodeID, proposals)
}

// normalize validates the wire proposals against the targets and roster,
// mirroring what the matcher would accept: timings come from the target,
// names must resolve against the roster, and weak guesses are dropped.
func (c *Classifier) normalize(raw []wireProposal, targets []Target, roster []*library.Speaker) []Proposal {
	byIndex := make(map[int]Target, len(targets))
	for _, target := range targets {
		byIndex[target.SegmentIndex] = target
	}

	seen := make(map[int]bool, len(raw))
	proposals := make([]Proposal, 0, len(raw))
	for _, wire := range raw {
		target, ok := byIndex[wire.SegmentIdx]
		if !ok {
			c.logger.Warn("classifier proposed an unknown segment", logging.Int("segment_idx", wire.SegmentIdx))
			continue
		}
		if seen[wire.SegmentIdx] {
			continue
		}

		speaker := resolveRosterName(wire.ProposedSpeaker, roster)
		if speaker == "" && !wire.IsCharacterVoice {
			continue
		}
		confidence := wire.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence < c.minConfidence {
			c.logger.Debug("dropping low-confidence proposal",
				logging.Int("segment_idx", wire.SegmentIdx),
				logging.Float64("confidence", confidence))
			continue
		}

		seen[wire.SegmentIdx] = true
		proposals = append(proposals, Proposal{
			SegmentIndex:     target.SegmentIndex,
			StartSeconds:     target.StartSeconds,
			EndSeconds:       target.EndSeconds,
			ProposedSpeaker:  speaker,
			IsCharacterVoice: wire.IsCharacterVoice,
			Confidence:       confidence,
			Rationale:        strings.TrimSpace(wire.Rationale),
		})
	}

	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].SegmentIndex < proposals[j].SegmentIndex
	})
	return proposals
}

// resolveRosterName maps a model-proposed name onto the roster. Exact
// case-insensitive matches on names and aliases win; a containment match is
// accepted as a fallback. Anything else resolves to empty.
func resolveRosterName(proposed string, roster []*library.Speaker) string {
	proposed = strings.TrimSpace(proposed)
	if proposed == "" {
		return ""
	}
	lowered := strings.ToLower(proposed)

	for _, entry := range roster {
		if strings.EqualFold(entry.Name, proposed) {
			return entry.Name
		}
		for _, alias := range entry.Aliases {
			if strings.EqualFold(alias, proposed) {
				return entry.Name
			}
		}
	}
	for _, entry := range roster {
		name := strings.ToLower(entry.Name)
		if name == "" {
			continue
		}
		if strings.Contains(name, lowered) || strings.Contains(lowered, name) {
			return entry.Name
		}
	}
	return ""
}

func buildUserPrompt(targets []Target, roster []*library.Speaker) string {
	var b strings.Builder

	b.WriteString("Roster:\n")
	if len(roster) == 0 {
		b.WriteString("- No roster entries.\n")
	}
	for _, entry := range roster {
		b.WriteString("- \"")
		b.WriteString(entry.Name)
		b.WriteString("\"")
		if len(entry.Aliases) > 0 {
			b.WriteString(" (aliases: ")
			b.WriteString(strings.Join(entry.Aliases, ", "))
			b.WriteString(")")
		}
		if notes := strings.TrimSpace(entry.Notes); notes != "" {
			b.WriteString(": ")
			b.WriteString(notes)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nSegments:\n")
	for _, target := range targets {
		fmt.Fprintf(&b, "- segment %d: %ss to %ss (%ss), cluster %s",
			target.SegmentIndex,
			formatSeconds(target.StartSeconds),
			formatSeconds(target.EndSeconds),
			formatSeconds(target.EndSeconds-target.StartSeconds),
			target.Cluster)
		if len(target.Candidates) == 0 {
			b.WriteString(", no voiceprint ranking")
		} else {
			b.WriteString(", closest voiceprints: ")
			for i, candidate := range target.Candidates {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s %.2f", candidate.Speaker, candidate.Similarity)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}
