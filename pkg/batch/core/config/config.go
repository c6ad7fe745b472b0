// Package config defines caseflow's configuration tree and its defaults.
package config

// EmbeddedConfig holds the raw YAML bundled into the binary.
type EmbeddedConfig []byte

// Config is the root of the configuration tree.
type Config struct {
	Caseflow CaseflowConfig `yaml:"caseflow"`
}

// CaseflowConfig groups every component's settings.
type CaseflowConfig struct {
	System         SystemConfig         `yaml:"system"`
	Batch          BatchConfig          `yaml:"batch"`
	Queue          QueueConfig          `yaml:"queue"`
	Verification   VerificationConfig   `yaml:"verification"`
	Source         SourceConfig         `yaml:"source"`
	Progress       ProgressConfig       `yaml:"progress"`
	HTTP           HTTPConfig           `yaml:"http"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	// AdaptorConfigs holds named database connections, decoded by configbinder.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds named object storage connections.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR, FATAL.
	Level string `yaml:"level"`
}

// BatchConfig controls planning and batch execution.
type BatchConfig struct {
	DefaultBatchSize int `yaml:"default_batch_size"`
	MaxBatchSize     int `yaml:"max_batch_size"`
	// DefaultConcurrency bounds in-flight batches per process.
	DefaultConcurrency int `yaml:"default_concurrency"`
	// ItemConcurrency bounds concurrent item fetches inside one batch.
	ItemConcurrency int `yaml:"item_concurrency"`
	// PollingIntervalSeconds drives the completion-detection fallback.
	PollingIntervalSeconds int `yaml:"polling_interval_seconds"`
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size"`
}

// RetryConfig configures queue redelivery backoff.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// InitialInterval and MaxInterval are milliseconds.
	InitialInterval int     `yaml:"initial_interval"`
	MaxInterval     int     `yaml:"max_interval"`
	Factor          float64 `yaml:"factor"`
}

// QueueConfig configures the in-process job queue.
type QueueConfig struct {
	Name            string      `yaml:"name"`
	Workers         int         `yaml:"workers"`
	BufferSize      int         `yaml:"buffer_size"`
	DeadLetterLimit int         `yaml:"dead_letter_limit"`
	Retry           RetryConfig `yaml:"retry"`
}

// VerificationConfig configures the verification engine and its watchdog.
type VerificationConfig struct {
	ChunkSize          int    `yaml:"chunk_size"`
	ProgressEvery      int    `yaml:"progress_every"`
	ProgressTTLSeconds int    `yaml:"progress_ttl_seconds"`
	QuickSampleSize    int    `yaml:"quick_sample_size"`
	StaleAfterSeconds  int    `yaml:"stale_after_seconds"`
	WatchdogSchedule   string `yaml:"watchdog_schedule"`
	// AutoRecover continues stale runs instead of only reporting them.
	AutoRecover bool `yaml:"auto_recover"`
}

// SourceConfig configures the HTTP client of the case-management API.
type SourceConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

// ProgressConfig selects the progress store backend.
type ProgressConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Mode    string `yaml:"mode"`
}

// InfrastructureConfig selects the database connection and tracing exporter.
type InfrastructureConfig struct {
	// DatabaseRef names the entry of AdaptorConfigs used for all tables.
	DatabaseRef string        `yaml:"database_ref"`
	Migrate     bool          `yaml:"migrate"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	// Protocol is "http" or "grpc".
	Protocol    string `yaml:"protocol"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// MetricsConfig selects the metric backend.
type MetricsConfig struct {
	// Exporter is "prometheus" (scraped at /metrics) or "otlp" (pushed).
	Exporter string     `yaml:"exporter"`
	OTLP     OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the OTLP metric exporter.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Protocol is "http" or "grpc".
	Protocol        string `yaml:"protocol"`
	Insecure        bool   `yaml:"insecure"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// ArchiveConfig configures parquet snapshots of raw payloads.
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	// Compression is SNAPPY, GZIP or NONE.
	Compression string `yaml:"compression"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Caseflow: CaseflowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				DefaultBatchSize:       100,
				MaxBatchSize:           1000,
				DefaultConcurrency:     4,
				ItemConcurrency:        1,
				PollingIntervalSeconds: 30,
				MetricsAsyncBufferSize: 256,
			},
			Queue: QueueConfig{
				Name:            "caseflow-batches",
				Workers:         4,
				BufferSize:      128,
				DeadLetterLimit: 1000,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1000,
					MaxInterval:     30000,
					Factor:          2.0,
				},
			},
			Verification: VerificationConfig{
				ChunkSize:          50,
				ProgressEvery:      10,
				ProgressTTLSeconds: 3600,
				QuickSampleSize:    10,
				StaleAfterSeconds:  300,
				WatchdogSchedule:   "@every 1m",
			},
			Source: SourceConfig{
				TimeoutSeconds: 10,
				UserAgent:      "caseflow/1.0",
			},
			Progress: ProgressConfig{
				Backend: "memory",
				Redis: RedisConfig{
					Address:   "localhost:6379",
					KeyPrefix: "caseflow",
				},
			},
			HTTP: HTTPConfig{
				Address: ":8080",
				Mode:    "release",
			},
			Infrastructure: InfrastructureConfig{
				DatabaseRef: "default",
				Migrate:     true,
				Tracing:     TracingConfig{Protocol: "http", ServiceName: "caseflow"},
			},
			Metrics: MetricsConfig{
				Exporter: "prometheus",
				OTLP:     OTLPConfig{Protocol: "http", IntervalSeconds: 30},
			},
			Archive: ArchiveConfig{
				StorageRef:  "archive",
				Prefix:      "payloads",
				Compression: "SNAPPY",
			},
			AdaptorConfigs: map[string]interface{}{},
			StorageConfigs: map[string]interface{}{},
		},
	}
}
