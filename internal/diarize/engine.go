package diarize

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Segment is one diarized span attributed to an anonymous cluster label.
type Segment struct {
	Cluster string  `json:"cluster"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Midpoint returns the segment's temporal midpoint in seconds.
func (s Segment) Midpoint() float64 {
	return s.Start + (s.End-s.Start)/2
}

// ProgressUpdate captures an engine progress event.
type ProgressUpdate struct {
	Percent float64
	Stage   string
}

// Request describes one diarization run.
type Request struct {
	// AudioPath is the episode audio the engine reads. Must exist.
	AudioPath string
	// OutputPath is where the engine writes its segment list JSON.
	OutputPath string
	// HintsPath points at the assembled hints file, when one exists.
	HintsPath string
	// NumSpeakers passes the expected speaker count hint when positive.
	NumSpeakers int
	// Backend overrides the engine's embedding backend for guided runs.
	Backend string
	// EpisodeDate gives the engine era context for its own matching.
	EpisodeDate *time.Time
	// Progress receives engine progress events as they stream in.
	Progress func(ProgressUpdate)
}

// Result is the engine's parsed output.
type Result struct {
	Segments   []Segment
	OutputPath string
}

// Engine abstracts the external diarization engine for the orchestrator.
type Engine interface {
	// Probe verifies the engine is runnable.
	Probe(ctx context.Context) error
	// Diarize runs one episode through the engine.
	Diarize(ctx context.Context, req Request) (*Result, error)
	// Embed produces a voice embedding for a clip in one backend's space.
	Embed(ctx context.Context, clipPath, backend string) ([]float32, error)
}

// ProgressPrefix marks engine progress lines on stdout.
const ProgressPrefix = "DIARIZATION_PROGRESS"

// ParseProgressLine parses "DIARIZATION_PROGRESS <percent> <stage...>".
// Percent values clamp to [0, 100]; a trailing percent sign is tolerated.
func ParseProgressLine(line string) (ProgressUpdate, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), ProgressPrefix)
	if !ok {
		return ProgressUpdate{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return ProgressUpdate{}, false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	update := ProgressUpdate{Percent: percent}
	if len(fields) > 1 {
		update.Stage = strings.Join(fields[1:], " ")
	}
	return update, true
}
