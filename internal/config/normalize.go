package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeDiarization()
	c.normalizeMatching()
	c.normalizeLibrary()
	c.normalizeHarvest()
	c.normalizeClassifier()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Paths.IntakeDir, err = expandPath(c.Paths.IntakeDir); err != nil {
		return fmt.Errorf("paths.intake_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = 0
	}
	if c.Queue.RetryBackoffSeconds <= 0 {
		c.Queue.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if c.Queue.RetryBackoffMaxSeconds < c.Queue.RetryBackoffSeconds {
		c.Queue.RetryBackoffMaxSeconds = defaultRetryBackoffMaxSeconds
	}
	if c.Queue.AgingRounds <= 0 {
		c.Queue.AgingRounds = defaultAgingRounds
	}
	if c.Queue.AgingBoost <= 0 {
		c.Queue.AgingBoost = defaultAgingBoost
	}
	if c.Queue.RetentionDays < 0 {
		c.Queue.RetentionDays = 0
	}
}

func (c *Config) normalizeDiarization() {
	c.Diarization.EngineCommand = strings.TrimSpace(c.Diarization.EngineCommand)
	if c.Diarization.TimeoutSeconds <= 0 {
		c.Diarization.TimeoutSeconds = defaultEngineTimeout
	}
	if c.Diarization.EmbedTimeoutSeconds <= 0 {
		c.Diarization.EmbedTimeoutSeconds = defaultEmbedTimeout
	}
	c.Diarization.PrimaryBackend = strings.ToLower(strings.TrimSpace(c.Diarization.PrimaryBackend))
	if c.Diarization.PrimaryBackend == "" {
		c.Diarization.PrimaryBackend = defaultPrimaryBackend
	}
	c.Diarization.SecondaryBackend = strings.ToLower(strings.TrimSpace(c.Diarization.SecondaryBackend))
	if c.Diarization.Dimensions == nil {
		c.Diarization.Dimensions = map[string]int{}
	}
	normalized := make(map[string]int, len(c.Diarization.Dimensions))
	for backend, dim := range c.Diarization.Dimensions {
		key := strings.ToLower(strings.TrimSpace(backend))
		if key == "" {
			continue
		}
		normalized[key] = dim
	}
	if _, ok := normalized[defaultPrimaryBackend]; !ok {
		normalized[defaultPrimaryBackend] = defaultPyannoteDimension
	}
	if _, ok := normalized[defaultSecondaryBackend]; !ok {
		normalized[defaultSecondaryBackend] = defaultEcapaDimension
	}
	c.Diarization.Dimensions = normalized
}

func (c *Config) normalizeMatching() {
	if c.Matching.AcceptThreshold <= 0 {
		c.Matching.AcceptThreshold = defaultAcceptThreshold
	}
	if c.Matching.Margin < 0 {
		c.Matching.Margin = defaultMatchMargin
	}
	if c.Matching.ClusterTopN <= 0 {
		c.Matching.ClusterTopN = defaultClusterTopSegments
	}
	if c.Matching.MinSegmentSeconds <= 0 {
		c.Matching.MinSegmentSeconds = defaultMinMatchSeconds
	}
}

func (c *Config) normalizeLibrary() {
	if c.Library.HalfLifeDays <= 0 {
		c.Library.HalfLifeDays = defaultHalfLifeDays
	}
}

func (c *Config) normalizeHarvest() {
	if c.Harvest.MinSegmentSeconds <= 0 {
		c.Harvest.MinSegmentSeconds = defaultHarvestMinSeconds
	}
	if c.Harvest.MaxSamplesPerSpeaker <= 0 {
		c.Harvest.MaxSamplesPerSpeaker = defaultHarvestMaxPerSpkr
	}
}

func (c *Config) normalizeClassifier() {
	c.Classifier.BaseURL = strings.TrimSpace(c.Classifier.BaseURL)
	if c.Classifier.BaseURL == "" {
		c.Classifier.BaseURL = defaultClassifierBaseURL
	}
	c.Classifier.Model = strings.TrimSpace(c.Classifier.Model)
	if c.Classifier.Model == "" {
		c.Classifier.Model = defaultClassifierModel
	}
	c.Classifier.Referer = strings.TrimSpace(c.Classifier.Referer)
	if c.Classifier.Referer == "" {
		c.Classifier.Referer = defaultClassifierReferer
	}
	c.Classifier.Title = strings.TrimSpace(c.Classifier.Title)
	if c.Classifier.Title == "" {
		c.Classifier.Title = defaultClassifierTitle
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		c.Classifier.TimeoutSeconds = defaultClassifierTimeout
	}
	if c.Classifier.MinConfidence <= 0 || c.Classifier.MinConfidence > 1 {
		c.Classifier.MinConfidence = defaultClassifierMinConf
	}
	c.Classifier.APIKey = strings.TrimSpace(c.Classifier.APIKey)
	if c.Classifier.APIKey == "" {
		if value, ok := os.LookupEnv("ROLLCALL_CLASSIFIER_API_KEY"); ok {
			c.Classifier.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Classifier.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.IntakeScanInterval <= 0 {
		c.Workflow.IntakeScanInterval = defaultIntakeScanInterval
	}
	if c.Workflow.CleanupScanInterval <= 0 {
		c.Workflow.CleanupScanInterval = defaultCleanupScanInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
