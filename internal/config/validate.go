package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDiarization(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateHarvest(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		return errors.New("paths.archive_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateDiarization() error {
	if c.Diarization.EngineCommand == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/rollcall/config.toml"
		}
		return fmt.Errorf("diarization.engine_command is required. Edit %s (create with 'rollcall config init')", defaultPath)
	}
	if c.Diarization.PrimaryBackend == "" {
		return errors.New("diarization.primary_backend must be set")
	}
	if c.Diarization.SecondaryBackend == c.Diarization.PrimaryBackend {
		return errors.New("diarization.secondary_backend must differ from primary_backend")
	}
	if _, ok := c.Diarization.Dimensions[c.Diarization.PrimaryBackend]; !ok {
		return fmt.Errorf("diarization.dimensions is missing primary backend %q", c.Diarization.PrimaryBackend)
	}
	if c.Diarization.SecondaryBackend != "" {
		if _, ok := c.Diarization.Dimensions[c.Diarization.SecondaryBackend]; !ok {
			return fmt.Errorf("diarization.dimensions is missing secondary backend %q", c.Diarization.SecondaryBackend)
		}
	}
	for backend, dim := range c.Diarization.Dimensions {
		if dim <= 0 {
			return fmt.Errorf("diarization.dimensions[%s] must be positive", backend)
		}
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.AcceptThreshold <= 0 || c.Matching.AcceptThreshold > 1 {
		return errors.New("matching.accept_threshold must be between 0 and 1")
	}
	if c.Matching.Margin < 0 || c.Matching.Margin >= 1 {
		return errors.New("matching.margin must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateHarvest() error {
	if !c.Harvest.Enabled {
		return nil
	}
	if c.Harvest.MinSegmentSeconds <= 0 {
		return errors.New("harvest.min_segment_seconds must be positive")
	}
	if c.Harvest.MaxSamplesPerSpeaker < 1 {
		return errors.New("harvest.max_samples_per_speaker must be >= 1")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.Enabled && strings.TrimSpace(c.Classifier.APIKey) == "" {
		return errors.New("classifier.api_key must be set when classifier.enabled is true (or set OPENROUTER_API_KEY)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"diarization.timeout_seconds":       c.Diarization.TimeoutSeconds,
		"diarization.embed_timeout_seconds": c.Diarization.EmbedTimeoutSeconds,
		"workflow.queue_poll_interval":      c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":     c.Workflow.ErrorRetryInterval,
		"workflow.intake_scan_interval":     c.Workflow.IntakeScanInterval,
		"queue.retry_backoff_seconds":       c.Queue.RetryBackoffSeconds,
		"queue.aging_rounds":                c.Queue.AgingRounds,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
