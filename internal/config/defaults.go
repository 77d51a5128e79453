package config

const (
	defaultArchiveDir   = "~/archive/audio"
	defaultIntakeDir    = "~/archive/intake"
	defaultStagingDir   = "~/.local/share/rollcall/staging"
	defaultLibraryDir   = "~/.local/share/rollcall/library"
	defaultStateDir     = "~/.local/share/rollcall"
	defaultLogDir       = "~/.local/share/rollcall/logs"
	defaultLogFormat    = "console"
	defaultLogLevel     = "info"
	defaultLogRetention = 60

	defaultMaxRetries             = 3
	defaultRetryBackoffSeconds    = 30
	defaultRetryBackoffMaxSeconds = 900
	defaultAgingRounds            = 10
	defaultAgingBoost             = 1
	defaultQueueRetentionDays     = 30

	defaultEngineCommand       = "diarize-engine"
	defaultEngineTimeout       = 7200
	defaultEmbedTimeout        = 300
	defaultPrimaryBackend      = "pyannote"
	defaultSecondaryBackend    = "ecapa-tdnn"
	defaultPyannoteDimension   = 512
	defaultEcapaDimension      = 192
	defaultAcceptThreshold     = 0.75
	defaultMatchMargin         = 0.05
	defaultClusterTopSegments  = 5
	defaultMinMatchSeconds     = 1.0
	defaultHalfLifeDays        = 180
	defaultHarvestMinSeconds   = 4.0
	defaultHarvestMaxPerSpkr   = 5
	defaultClassifierBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultClassifierModel     = "qwen/qwen3-30b-a3b-instruct"
	defaultClassifierReferer   = "https://github.com/rollcall-dev/rollcall"
	defaultClassifierTitle     = "Rollcall Segment Classifier"
	defaultClassifierTimeout   = 60
	defaultClassifierMinConf   = 0.5
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 30
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultIntakeScanInterval  = 30
	defaultCleanupScanInterval = 3600
	defaultNtfyTimeout         = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveDir: defaultArchiveDir,
			IntakeDir:  defaultIntakeDir,
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Queue: Queue{
			MaxRetries:             defaultMaxRetries,
			RetryBackoffSeconds:    defaultRetryBackoffSeconds,
			RetryBackoffMaxSeconds: defaultRetryBackoffMaxSeconds,
			AgingRounds:            defaultAgingRounds,
			AgingBoost:             defaultAgingBoost,
			RetentionDays:          defaultQueueRetentionDays,
		},
		Diarization: Diarization{
			EngineCommand:       defaultEngineCommand,
			TimeoutSeconds:      defaultEngineTimeout,
			EmbedTimeoutSeconds: defaultEmbedTimeout,
			PrimaryBackend:      defaultPrimaryBackend,
			SecondaryBackend:    defaultSecondaryBackend,
			Dimensions: map[string]int{
				defaultPrimaryBackend:   defaultPyannoteDimension,
				defaultSecondaryBackend: defaultEcapaDimension,
			},
		},
		Matching: Matching{
			AcceptThreshold:   defaultAcceptThreshold,
			Margin:            defaultMatchMargin,
			ClusterTopN:       defaultClusterTopSegments,
			MinSegmentSeconds: defaultMinMatchSeconds,
		},
		Library: Library{
			HalfLifeDays: defaultHalfLifeDays,
		},
		Harvest: Harvest{
			Enabled:              true,
			MinSegmentSeconds:    defaultHarvestMinSeconds,
			MaxSamplesPerSpeaker: defaultHarvestMaxPerSpkr,
		},
		Classifier: Classifier{
			BaseURL:        defaultClassifierBaseURL,
			Model:          defaultClassifierModel,
			Referer:        defaultClassifierReferer,
			Title:          defaultClassifierTitle,
			TimeoutSeconds: defaultClassifierTimeout,
			MinConfidence:  defaultClassifierMinConf,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			IntakeScanInterval:  defaultIntakeScanInterval,
			CleanupScanInterval: defaultCleanupScanInterval,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetention,
		},
	}
}
