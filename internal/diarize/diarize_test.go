package diarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/services"
)

func newTestEngine(opts ...Option) *ExecEngine {
	cfg := config.Default()
	return NewExecEngine(&cfg, opts...)
}

func stubCommand(t *testing.T, mode string, capture *[][]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if capture != nil {
			*capture = append(*capture, append([]string{name}, args...))
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "ENGINE_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line    string
		percent float64
		stage   string
		ok      bool
	}{
		{"DIARIZATION_PROGRESS 42.5 embedding clusters", 42.5, "embedding clusters", true},
		{"DIARIZATION_PROGRESS 10% segmentation", 10, "segmentation", true},
		{"  DIARIZATION_PROGRESS 150 done", 100, "done", true},
		{"DIARIZATION_PROGRESS -3 warmup", 0, "warmup", true},
		{"DIARIZATION_PROGRESS", 0, "", false},
		{"DIARIZATION_PROGRESS pending", 0, "", false},
		{"loading model weights", 0, "", false},
	}
	for _, tc := range cases {
		update, ok := ParseProgressLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("%q: ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if update.Percent != tc.percent || update.Stage != tc.stage {
			t.Fatalf("%q: got %+v", tc.line, update)
		}
	}
}

func TestDiarizeValidatesInput(t *testing.T) {
	var calls [][]string
	stubCommand(t, "silent", &calls)
	engine := newTestEngine()
	ctx := context.Background()

	_, err := engine.Diarize(ctx, Request{OutputPath: "/tmp/out.json"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing audio path, got %v", err)
	}

	_, err = engine.Diarize(ctx, Request{AudioPath: "/nonexistent/episode.wav", OutputPath: "/tmp/out.json"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unreadable audio, got %v", err)
	}

	_, err = engine.Diarize(ctx, Request{AudioPath: writeAudio(t)})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing output path, got %v", err)
	}

	if len(calls) != 0 {
		t.Fatalf("engine must not run on invalid input, saw %v", calls)
	}
}

func TestDiarizeSuccess(t *testing.T) {
	segments := []Segment{
		{Cluster: "SPEAKER_00", Start: 0, End: 4.2},
		{Cluster: "SPEAKER_01", Start: 4.2, End: 9.8},
	}
	output := filepath.Join(t.TempDir(), "segments.json")

	var calls [][]string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls = append(calls, append([]string{name}, args...))
		encoded, _ := json.Marshal(segments)
		if err := os.WriteFile(output, encoded, 0o644); err != nil {
			t.Errorf("write engine output: %v", err)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "ENGINE_HELPER_MODE=success")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	aired := time.Date(1997, 11, 3, 0, 0, 0, 0, time.UTC)
	var updates []ProgressUpdate
	engine := newTestEngine(WithBinary("/opt/diarize-engine"))
	result, err := engine.Diarize(context.Background(), Request{
		AudioPath:   writeAudio(t),
		OutputPath:  output,
		HintsPath:   "/staging/hints.json",
		NumSpeakers: 3,
		Backend:     "ecapa-tdnn",
		EpisodeDate: &aired,
		Progress: func(update ProgressUpdate) {
			updates = append(updates, update)
		},
	})
	if err != nil {
		t.Fatalf("Diarize failed: %v", err)
	}
	if len(result.Segments) != 2 || result.Segments[1].Cluster != "SPEAKER_01" {
		t.Fatalf("unexpected segments: %#v", result.Segments)
	}

	if len(calls) != 1 {
		t.Fatalf("expected one engine invocation, got %d", len(calls))
	}
	args := calls[0]
	if args[0] != "/opt/diarize-engine" || args[1] != "diarize" {
		t.Fatalf("unexpected command: %v", args)
	}
	for _, want := range [][2]string{
		{"--output", output},
		{"--hints-file", "/staging/hints.json"},
		{"--num-speakers", "3"},
		{"--backend", "ecapa-tdnn"},
		{"--episode-date", "1997-11-03"},
	} {
		if !hasFlagValue(args, want[0], want[1]) {
			t.Fatalf("missing %s %s in args %v", want[0], want[1], args)
		}
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %v", updates)
	}
	if updates[0].Percent != 10 || updates[0].Stage != "segmentation" {
		t.Fatalf("unexpected first update: %+v", updates[0])
	}
	if updates[1].Percent != 90 || updates[1].Stage != "matching clusters" {
		t.Fatalf("unexpected second update: %+v", updates[1])
	}
}

func TestDiarizeEngineFailure(t *testing.T) {
	stubCommand(t, "failure", nil)
	engine := newTestEngine()

	_, err := engine.Diarize(context.Background(), Request{
		AudioPath:  writeAudio(t),
		OutputPath: filepath.Join(t.TempDir(), "segments.json"),
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if errors.Is(err, services.ErrValidation) {
		t.Fatalf("engine exit must stay retryable, got %v", err)
	}
}

func TestDiarizeRejectsBadOutput(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"garbage", "not json"},
		{"empty", "[]"},
		{"missing cluster", `[{"cluster":"","start":0,"end":1}]`},
		{"inverted range", `[{"cluster":"SPEAKER_00","start":5,"end":1}]`},
		{"out of order", `[{"cluster":"SPEAKER_00","start":5,"end":6},{"cluster":"SPEAKER_01","start":1,"end":2}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "segments.json")
			original := commandContext
			commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
				if err := os.WriteFile(output, []byte(tc.payload), 0o644); err != nil {
					t.Errorf("write engine output: %v", err)
				}
				cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
				cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "ENGINE_HELPER_MODE=silent")
				return cmd
			}
			t.Cleanup(func() {
				commandContext = original
			})

			engine := newTestEngine()
			_, err := engine.Diarize(context.Background(), Request{AudioPath: writeAudio(t), OutputPath: output})
			if !errors.Is(err, services.ErrExternalTool) {
				t.Fatalf("expected external tool error, got %v", err)
			}
		})
	}
}

func TestDiarizeTimeout(t *testing.T) {
	stubCommand(t, "sleep", nil)
	engine := newTestEngine(WithTimeouts(100*time.Millisecond, time.Second))

	_, err := engine.Diarize(context.Background(), Request{
		AudioPath:  writeAudio(t),
		OutputPath: filepath.Join(t.TempDir(), "segments.json"),
	})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestEmbed(t *testing.T) {
	var calls [][]string
	stubCommand(t, "embed", &calls)
	engine := newTestEngine()

	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	vec, err := engine.Embed(context.Background(), clip, "pyannote")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 4 || vec[0] != 0.25 || vec[3] != -1 {
		t.Fatalf("unexpected embedding: %v", vec)
	}

	args := calls[0]
	if args[1] != "embed" || args[2] != clip || !hasFlagValue(args, "--backend", "pyannote") {
		t.Fatalf("unexpected embed args: %v", args)
	}

	if _, err := engine.Embed(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "pyannote"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing clip, got %v", err)
	}
}

func TestInterpreterWrappedEngineCommand(t *testing.T) {
	var calls [][]string
	stubCommand(t, "embed", &calls)

	cfg := config.Default()
	cfg.Diarization.EngineCommand = "python3 /opt/engine/diarize.py"
	engine := NewExecEngine(&cfg)
	if engine.Binary() != "python3" {
		t.Fatalf("unexpected executable: %q", engine.Binary())
	}

	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	if _, err := engine.Embed(context.Background(), clip, "pyannote"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	args := calls[0]
	if args[0] != "python3" || args[1] != "/opt/engine/diarize.py" || args[2] != "embed" {
		t.Fatalf("script argument must survive: %v", args)
	}

	calls = nil
	output := filepath.Join(t.TempDir(), "segments.json")
	if _, err := engine.Diarize(context.Background(), Request{AudioPath: writeAudio(t), OutputPath: output}); err == nil {
		// The embed helper writes no segment file, so Diarize fails after
		// the invocation we care about; only the argv matters here.
		t.Log("diarize unexpectedly succeeded without output")
	}
	args = calls[0]
	if args[0] != "python3" || args[1] != "/opt/engine/diarize.py" || args[2] != "diarize" {
		t.Fatalf("script argument must survive: %v", args)
	}
}

func TestEmbedRejectsGarbage(t *testing.T) {
	stubCommand(t, "embed-garbage", nil)
	engine := newTestEngine()

	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	if _, err := engine.Embed(context.Background(), clip, "pyannote"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestExtractClip(t *testing.T) {
	var calls [][]string
	stubCommand(t, "silent", &calls)

	source := writeAudio(t)
	dest := filepath.Join(t.TempDir(), "clips", "sample.wav")
	if err := ExtractClip(context.Background(), "ffmpeg", source, 12.5, 18.25, dest); err != nil {
		t.Fatalf("ExtractClip failed: %v", err)
	}

	args := calls[0]
	if args[0] != "ffmpeg" {
		t.Fatalf("unexpected binary: %v", args)
	}
	for _, want := range [][2]string{
		{"-ss", "12.500"},
		{"-t", "5.750"},
		{"-ar", "16000"},
		{"-c:a", "pcm_s16le"},
	} {
		if !hasFlagValue(args, want[0], want[1]) {
			t.Fatalf("missing %s %s in args %v", want[0], want[1], args)
		}
	}

	if err := ExtractClip(context.Background(), "ffmpeg", source, 9, 9, dest); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty range, got %v", err)
	}
}

func hasFlagValue(args []string, flag, value string) bool {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("ENGINE_HELPER_MODE") {
	case "success":
		fmt.Println("loading model weights")
		fmt.Println("DIARIZATION_PROGRESS 10 segmentation")
		fmt.Println("DIARIZATION_PROGRESS 90 matching clusters")
		os.Exit(0)
	case "failure":
		fmt.Println("CUDA out of memory")
		os.Exit(1)
	case "sleep":
		time.Sleep(3 * time.Second)
		os.Exit(0)
	case "embed":
		fmt.Println(`{"backend":"pyannote","embedding":[0.25,0.5,0.75,-1.0]}`)
		os.Exit(0)
	case "embed-garbage":
		fmt.Println("segfault")
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
