package diarize

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/services"
)

var commandContext = exec.CommandContext

// ExecEngine shells out to the configured diarization engine command. The
// command may carry leading arguments ("python3 /opt/engine/diarize.py");
// every token after the executable is replayed before the subcommand.
type ExecEngine struct {
	binary       string
	leadingArgs  []string
	timeout      time.Duration
	embedTimeout time.Duration
}

// Option configures an ExecEngine.
type Option func(*ExecEngine)

// WithBinary replaces the engine command with a bare executable.
func WithBinary(binary string) Option {
	return func(e *ExecEngine) {
		if binary != "" {
			e.binary = binary
			e.leadingArgs = nil
		}
	}
}

// WithTimeouts overrides the diarize and embed timeouts.
func WithTimeouts(diarize, embed time.Duration) Option {
	return func(e *ExecEngine) {
		e.timeout = diarize
		e.embedTimeout = embed
	}
}

// NewExecEngine builds the production engine from the [diarization] config
// section.
func NewExecEngine(cfg *config.Config, opts ...Option) *ExecEngine {
	engine := &ExecEngine{
		timeout:      time.Duration(cfg.Diarization.TimeoutSeconds) * time.Second,
		embedTimeout: time.Duration(cfg.Diarization.EmbedTimeoutSeconds) * time.Second,
	}
	if argv := cfg.EngineCommandArgs(); len(argv) > 0 {
		engine.binary = argv[0]
		engine.leadingArgs = argv[1:]
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Binary reports the engine executable in use.
func (e *ExecEngine) Binary() string {
	return e.binary
}

// command assembles an engine invocation, replaying any leading arguments
// from the configured command ahead of the subcommand.
func (e *ExecEngine) command(ctx context.Context, args ...string) *exec.Cmd {
	argv := make([]string, 0, len(e.leadingArgs)+len(args))
	argv = append(argv, e.leadingArgs...)
	argv = append(argv, args...)
	return commandContext(ctx, e.binary, argv...) //nolint:gosec
}

// Probe runs the engine's probe subcommand to confirm it is installed and
// its model stack loads.
func (e *ExecEngine) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := e.command(probeCtx, "probe")
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, "diarize", "probe", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Diarize runs one episode through the engine, streaming progress lines as
// they arrive and parsing the segment list the engine writes to
// req.OutputPath.
func (e *ExecEngine) Diarize(ctx context.Context, req Request) (*Result, error) {
	audio := strings.TrimSpace(req.AudioPath)
	if audio == "" {
		return nil, services.Wrap(services.ErrValidation, "diarize", "run", "audio path is required", nil)
	}
	if _, err := os.Stat(audio); err != nil {
		// Retrying cannot conjure the file; fail terminally.
		return nil, services.Wrap(services.ErrValidation, "diarize", "run", fmt.Sprintf("audio file %s is unreadable", audio), err)
	}
	output := strings.TrimSpace(req.OutputPath)
	if output == "" {
		return nil, services.Wrap(services.ErrValidation, "diarize", "run", "output path is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "diarize", "run", "create output directory", err)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := e.command(runCtx, e.buildDiarizeArgs(req, audio, output)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "run", "stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "run", "start engine", err)
	}

	// Non-progress lines are kept as error context for failed runs.
	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if update, ok := ParseProgressLine(line); ok {
			if req.Progress != nil {
				req.Progress(update)
			}
			continue
		}
		tail = append(tail, line)
		if len(tail) > 10 {
			tail = tail[1:]
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "diarize", "run", fmt.Sprintf("engine exceeded %s", e.timeout), err)
		}
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "run", strings.Join(tail, "; "), err)
	}
	if scanErr != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "run", "read engine output", scanErr)
	}

	segments, err := readSegments(output)
	if err != nil {
		return nil, err
	}
	return &Result{Segments: segments, OutputPath: output}, nil
}

func (e *ExecEngine) buildDiarizeArgs(req Request, audio, output string) []string {
	args := []string{"diarize", audio, "--output", output}
	if hints := strings.TrimSpace(req.HintsPath); hints != "" {
		args = append(args, "--hints-file", hints)
	}
	if req.NumSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(req.NumSpeakers))
	}
	if backend := strings.TrimSpace(req.Backend); backend != "" {
		args = append(args, "--backend", backend)
	}
	if req.EpisodeDate != nil {
		args = append(args, "--episode-date", req.EpisodeDate.UTC().Format("2006-01-02"))
	}
	return args
}

// readSegments parses and validates the engine's output file. The contract
// is a JSON array of {cluster, start, end} ordered by start time; anything
// else is malformed and retryable, since engine hiccups are usually
// transient.
func readSegments(path string) ([]Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", fmt.Sprintf("engine wrote no output at %s", path), err)
	}
	var segments []Segment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", "malformed engine output", err)
	}
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", "engine produced no segments", nil)
	}
	var prev float64
	for i, segment := range segments {
		if strings.TrimSpace(segment.Cluster) == "" {
			return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", fmt.Sprintf("segment %d has no cluster", i), nil)
		}
		if segment.End < segment.Start {
			return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", fmt.Sprintf("segment %d ends before it starts", i), nil)
		}
		if segment.Start < prev {
			return nil, services.Wrap(services.ErrExternalTool, "diarize", "read output", fmt.Sprintf("segment %d is out of order", i), nil)
		}
		prev = segment.Start
	}
	return segments, nil
}

// Embed produces an embedding for one clip by running the engine's embed
// subcommand and parsing the JSON it prints to stdout.
func (e *ExecEngine) Embed(ctx context.Context, clipPath, backend string) ([]float32, error) {
	clip := strings.TrimSpace(clipPath)
	if clip == "" {
		return nil, services.Wrap(services.ErrValidation, "diarize", "embed", "clip path is required", nil)
	}
	if _, err := os.Stat(clip); err != nil {
		return nil, services.Wrap(services.ErrValidation, "diarize", "embed", fmt.Sprintf("clip %s is unreadable", clip), err)
	}
	backend = strings.TrimSpace(backend)
	if backend == "" {
		return nil, services.Wrap(services.ErrValidation, "diarize", "embed", "backend is required", nil)
	}

	runCtx := ctx
	if e.embedTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.embedTimeout)
		defer cancel()
	}

	cmd := e.command(runCtx, "embed", clip, "--backend", backend)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "diarize", "embed", fmt.Sprintf("embedding exceeded %s", e.embedTimeout), err)
		}
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "embed", detail, err)
	}

	var payload struct {
		Backend   string    `json:"backend"`
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "embed", "malformed embedding output", err)
	}
	if len(payload.Embedding) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "embed", "engine returned an empty embedding", nil)
	}
	vec := make([]float32, len(payload.Embedding))
	for i, v := range payload.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ Engine = (*ExecEngine)(nil)
