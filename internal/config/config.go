package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ArchiveDir string `toml:"archive_dir"`
	IntakeDir  string `toml:"intake_dir"`
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// Queue contains scheduling, retry, and retention settings.
type Queue struct {
	MaxRetries             int `toml:"max_retries"`
	RetryBackoffSeconds    int `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int `toml:"retry_backoff_max_seconds"`
	AgingRounds            int `toml:"aging_rounds"`
	AgingBoost             int `toml:"aging_boost"`
	RetentionDays          int `toml:"retention_days"`
}

// Diarization contains settings for the external diarization engine and the
// embedding backends it exposes.
type Diarization struct {
	EngineCommand       string         `toml:"engine_command"`
	TimeoutSeconds      int            `toml:"timeout_seconds"`
	EmbedTimeoutSeconds int            `toml:"embed_timeout_seconds"`
	PrimaryBackend      string         `toml:"primary_backend"`
	SecondaryBackend    string         `toml:"secondary_backend"`
	Dimensions          map[string]int `toml:"dimensions"`
}

// Matching contains speaker matching thresholds.
type Matching struct {
	AcceptThreshold   float64 `toml:"accept_threshold"`
	Margin            float64 `toml:"margin"`
	ClusterTopN       int     `toml:"cluster_top_segments"`
	MinSegmentSeconds float64 `toml:"min_segment_seconds"`
}

// Library contains voice library settings.
type Library struct {
	HalfLifeDays int `toml:"half_life_days"`
}

// Harvest contains settings for collecting voice samples from approved segments.
type Harvest struct {
	Enabled              bool    `toml:"enabled"`
	MinSegmentSeconds    float64 `toml:"min_segment_seconds"`
	MaxSamplesPerSpeaker int     `toml:"max_samples_per_speaker"`
}

// Classifier contains LLM connection settings for segment classification proposals.
type Classifier struct {
	Enabled        bool    `toml:"enabled"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Referer        string  `toml:"referer"`
	Title          string  `toml:"title"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MinConfidence  float64 `toml:"min_confidence"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	IntakeScanInterval  int `toml:"intake_scan_interval"`
	CleanupScanInterval int `toml:"cleanup_scan_interval"`
}

// Notifications contains push notification settings. An empty topic disables
// delivery.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for rollcall.
//
// Configuration sections by subsystem:
//   - Paths: archive, intake, staging, library, state, and log directories
//   - Queue: retry budget, backoff, anti-starvation aging, retention
//   - Diarization: external engine command, timeouts, embedding backends
//   - Matching: acceptance threshold, margin, cluster sampling
//   - Library: centroid decay half-life
//   - Harvest: voice sample collection limits
//   - Classifier: LLM connection for segment classification proposals
//   - Workflow: daemon polling intervals and timeouts
//   - Notifications: ntfy topic for review and failure pushes
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Diarization   Diarization   `toml:"diarization"`
	Matching      Matching      `toml:"matching"`
	Library       Library       `toml:"library"`
	Harvest       Harvest       `toml:"harvest"`
	Classifier    Classifier    `toml:"classifier"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/rollcall/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/rollcall/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rollcall.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// ArchiveDir and IntakeDir are created on a best-effort basis so the daemon can
// run when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LibraryDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Paths.ArchiveDir, c.Paths.IntakeDir} {
		if strings.TrimSpace(dir) != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

// DatabasePath returns the path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "rollcall.db")
}

// FFmpegBinary returns the ffmpeg executable name used for clip extraction.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// EngineCommandArgs returns the diarization engine command split into argv
// tokens. Interpreter-wrapped engines keep their script argument: an
// engine_command of "python3 /opt/engine/diarize.py" yields both tokens.
func (c *Config) EngineCommandArgs() []string {
	return strings.Fields(c.Diarization.EngineCommand)
}

// EngineBinary returns the executable token of the diarization engine
// command, for availability checks and status output.
func (c *Config) EngineBinary() string {
	args := c.EngineCommandArgs()
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across features.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// ClassifierLLM returns the LLM settings for segment classification proposals.
func (c *Config) ClassifierLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.Classifier.APIKey),
		BaseURL:        strings.TrimSpace(c.Classifier.BaseURL),
		Model:          strings.TrimSpace(c.Classifier.Model),
		Referer:        strings.TrimSpace(c.Classifier.Referer),
		Title:          strings.TrimSpace(c.Classifier.Title),
		TimeoutSeconds: c.Classifier.TimeoutSeconds,
	}
}

// BackendDimension returns the configured feature dimension for a backend id,
// or 0 when the backend is unknown.
func (c *Config) BackendDimension(backend string) int {
	if c.Diarization.Dimensions == nil {
		return 0
	}
	return c.Diarization.Dimensions[strings.ToLower(strings.TrimSpace(backend))]
}

// EmbeddingBackends returns the configured backends in fusion order: primary
// first, then secondary. Blank and duplicate entries are dropped.
func (c *Config) EmbeddingBackends() []string {
	var backends []string
	for _, backend := range []string{c.Diarization.PrimaryBackend, c.Diarization.SecondaryBackend} {
		backend = strings.ToLower(strings.TrimSpace(backend))
		if backend == "" {
			continue
		}
		if len(backends) > 0 && backends[0] == backend {
			continue
		}
		backends = append(backends, backend)
	}
	return backends
}
