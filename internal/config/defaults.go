package config

const (
	StorageBackendMinIO = "minio"
	StorageBackendDir   = "dir"

	MalformedRowsPass = "pass"
	MalformedRowsDrop = "drop"

	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
)

const (
	defaultTempDir               = "/tmp"
	defaultSchemaDir             = "~/.config/fecingest/schemas"
	defaultLogDir                = "~/.local/share/fecingest/logs"
	defaultLogRetentionDays      = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultFetchBaseURL          = "https://www.fec.gov/files/bulk-downloads"
	defaultFetchTimeoutSeconds   = 900
	defaultFetchUserAgent        = "fecingest/dev"
	defaultStorageEndpoint       = "localhost:9000"
	defaultStorageRegion         = "us-east-1"
	defaultStorageNamespace      = "campaign-finance"
	defaultStorageDir            = "~/.local/share/fecingest/objects"
	defaultOutboxTable           = "pipeline_triggers"
	defaultPingTimeoutSeconds    = 5
	defaultStageTarget           = "stage"
	defaultDownstreamTarget      = "load_data"
	defaultRetryAttempts         = 2
	defaultRetryDelaySeconds     = 30
	defaultRetryMultiplier       = 1.0
	defaultHandoffAttempts       = 1
	defaultSchedulerWorkers      = 2
	defaultSchedulerPollInterval = 5
	defaultStuckAfterSeconds     = 300
	defaultHeartbeatSeconds      = 15
	defaultNotifyRequestTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempDir:   defaultTempDir,
			SchemaDir: defaultSchemaDir,
			StateDir:  defaultStateDir(),
			LogDir:    defaultLogDir,
		},
		Fetch: Fetch{
			BaseURL:        defaultFetchBaseURL,
			TimeoutSeconds: defaultFetchTimeoutSeconds,
			SourceEncoding: EncodingUTF8,
			MalformedRows:  MalformedRowsPass,
			UserAgent:      defaultFetchUserAgent,
		},
		Storage: Storage{
			Backend:   StorageBackendMinIO,
			Endpoint:  defaultStorageEndpoint,
			Region:    defaultStorageRegion,
			Namespace: defaultStorageNamespace,
			Dir:       defaultStorageDir,
		},
		Handoff: Handoff{
			OutboxTable:        defaultOutboxTable,
			PingTimeoutSeconds: defaultPingTimeoutSeconds,
		},
		Pipelines: Pipelines{
			StageTarget:      defaultStageTarget,
			DownstreamTarget: defaultDownstreamTarget,
		},
		Retry: Retry{
			Attempts:        defaultRetryAttempts,
			DelaySeconds:    defaultRetryDelaySeconds,
			Multiplier:      defaultRetryMultiplier,
			HandoffAttempts: defaultHandoffAttempts,
		},
		Scheduler: Scheduler{
			Workers:           defaultSchedulerWorkers,
			PollInterval:      defaultSchedulerPollInterval,
			StuckAfterSeconds: defaultStuckAfterSeconds,
			HeartbeatSeconds:  defaultHeartbeatSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			OnFailure:      true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
