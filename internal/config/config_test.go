package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"rollcall/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "rollcall", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.ArchiveDir != filepath.Join(tempHome, "archive", "audio") {
		t.Fatalf("unexpected archive dir: %q", cfg.Paths.ArchiveDir)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "rollcall", "rollcall.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Diarization.PrimaryBackend != "pyannote" {
		t.Fatalf("unexpected primary backend: %q", cfg.Diarization.PrimaryBackend)
	}
	if cfg.BackendDimension("pyannote") != 512 {
		t.Fatalf("unexpected pyannote dimension: %d", cfg.BackendDimension("pyannote"))
	}
	if cfg.BackendDimension("ecapa-tdnn") != 192 {
		t.Fatalf("unexpected ecapa-tdnn dimension: %d", cfg.BackendDimension("ecapa-tdnn"))
	}
	if cfg.Matching.AcceptThreshold != 0.75 {
		t.Fatalf("unexpected accept threshold: %f", cfg.Matching.AcceptThreshold)
	}
	if cfg.Matching.Margin != 0.05 {
		t.Fatalf("unexpected margin: %f", cfg.Matching.Margin)
	}
	if cfg.Classifier.Enabled {
		t.Fatal("expected classifier disabled by default")
	}
	if !cfg.Harvest.Enabled {
		t.Fatal("expected harvest enabled by default")
	}
	if cfg.Workflow.HeartbeatInterval != config.Default().Workflow.HeartbeatInterval {
		t.Fatalf("unexpected heartbeat interval: %d", cfg.Workflow.HeartbeatInterval)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.LibraryDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rollcall.toml")

	type payload struct {
		Diarization struct {
			EngineCommand  string `toml:"engine_command"`
			PrimaryBackend string `toml:"primary_backend"`
		} `toml:"diarization"`
		Matching struct {
			AcceptThreshold float64 `toml:"accept_threshold"`
			Margin          float64 `toml:"margin"`
		} `toml:"matching"`
		Workflow struct {
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.Diarization.EngineCommand = "python3 /opt/engine/diarize.py"
	custom.Diarization.PrimaryBackend = "Pyannote"
	custom.Matching.AcceptThreshold = 0.82
	custom.Matching.Margin = 0.1
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Diarization.EngineCommand != "python3 /opt/engine/diarize.py" {
		t.Fatalf("expected engine command override, got %q", cfg.Diarization.EngineCommand)
	}
	if cfg.EngineBinary() != "python3" {
		t.Fatalf("expected engine binary python3, got %q", cfg.EngineBinary())
	}
	if argv := cfg.EngineCommandArgs(); len(argv) != 2 || argv[1] != "/opt/engine/diarize.py" {
		t.Fatalf("expected script token preserved, got %v", argv)
	}
	if cfg.Diarization.PrimaryBackend != "pyannote" {
		t.Fatalf("expected primary backend lowercased, got %q", cfg.Diarization.PrimaryBackend)
	}
	if cfg.Matching.AcceptThreshold != 0.82 {
		t.Fatalf("expected accept threshold 0.82, got %f", cfg.Matching.AcceptThreshold)
	}
	if cfg.Matching.Margin != 0.1 {
		t.Fatalf("expected margin 0.1, got %f", cfg.Matching.Margin)
	}
	if cfg.Workflow.HeartbeatInterval != 20 {
		t.Fatalf("expected heartbeat interval 20, got %d", cfg.Workflow.HeartbeatInterval)
	}
	if cfg.Workflow.HeartbeatTimeout != 200 {
		t.Fatalf("expected heartbeat timeout 200, got %d", cfg.Workflow.HeartbeatTimeout)
	}
}

func TestEnvVarFallbackForClassifierKey(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rollcall.toml")

	type payload struct {
		Classifier struct {
			Enabled bool `toml:"enabled"`
		} `toml:"classifier"`
	}
	custom := payload{}
	custom.Classifier.Enabled = true
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("OPENROUTER_API_KEY", "env-classifier")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Classifier.APIKey != "env-classifier" {
		t.Fatalf("expected classifier key from env, got %q", cfg.Classifier.APIKey)
	}
	if got := cfg.ClassifierLLM().APIKey; got != "env-classifier" {
		t.Fatalf("expected ClassifierLLM key from env, got %q", got)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "engine_command") {
		t.Fatalf("sample config missing engine command: %s", contents)
	}

	// Validate it decodes
	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}

	if runtime.GOOS != "windows" {
		if !strings.Contains(cfg.Paths.StagingDir, "rollcall") {
			t.Fatalf("expected staging dir to contain rollcall, got %q", cfg.Paths.StagingDir)
		}
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Diarization.TimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive engine timeout")
	}

	cfg = config.Default()
	cfg.Workflow.HeartbeatInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for heartbeat interval")
	}

	cfg = config.Default()
	cfg.Workflow.HeartbeatTimeout = cfg.Workflow.HeartbeatInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when timeout <= interval")
	}

	cfg = config.Default()
	cfg.Matching.AcceptThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range accept threshold")
	}

	cfg = config.Default()
	cfg.Diarization.SecondaryBackend = cfg.Diarization.PrimaryBackend
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when backends collide")
	}

	cfg = config.Default()
	cfg.Diarization.Dimensions = map[string]int{cfg.Diarization.PrimaryBackend: 512}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when secondary backend has no dimension")
	}

	cfg = config.Default()
	cfg.Classifier.Enabled = true
	cfg.Classifier.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when classifier enabled without API key")
	}
}
