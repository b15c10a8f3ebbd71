package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Drain         DrainConfig         `mapstructure:"drain"`
	Export        ExportConfig        `mapstructure:"export"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BufferConfig sizes the trace ring
type BufferConfig struct {
	SlotCount        int   `mapstructure:"slot_count"`
	MaxPayloadBytes  int   `mapstructure:"max_payload_bytes"`
	MemoryLimitBytes int64 `mapstructure:"memory_limit_bytes"`
}

// DrainConfig controls the periodic ring consumer
type DrainConfig struct {
	IntervalMS     int `mapstructure:"interval_ms"`
	ChunkSizeBytes int `mapstructure:"chunk_size_bytes"`
}

// Interval returns the drain period.
func (c DrainConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// ExportConfig contains the storage sink configuration
type ExportConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Backend     string         `mapstructure:"backend"`
	Format      string         `mapstructure:"format"`
	Compression string         `mapstructure:"compression"`
	S3          S3Config       `mapstructure:"s3"`
	Azure       AzureConfig    `mapstructure:"azure"`
	GCS         GCSConfig      `mapstructure:"gcs"`
	File        FileConfig     `mapstructure:"file"`
	Rotation    RotationConfig `mapstructure:"rotation"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// RotationConfig decides when a per-device batch is flushed
type RotationConfig struct {
	MaxRecords         int    `mapstructure:"max_records"`
	MaxSizeBytes       int64  `mapstructure:"max_size_bytes"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string      `mapstructure:"bootstrap_servers"`
	SecurityProtocol string        `mapstructure:"security_protocol"`
	SASLMechanism    string        `mapstructure:"sasl_mechanism"`
	SASLUsername     string        `mapstructure:"sasl_username"`
	SASLPassword     string        `mapstructure:"sasl_password"`
	AWSRegion        string        `mapstructure:"aws_region"`
	Ingest           IngestConfig  `mapstructure:"ingest"`
	Publish          PublishConfig `mapstructure:"publish"`
}

// Enabled reports whether any Kafka component is switched on.
func (c KafkaConfig) Enabled() bool {
	return c.Ingest.Enabled || c.Publish.Enabled
}

// IngestConfig configures the capture consumer
type IngestConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// PublishConfig configures the drained-record publisher
type PublishConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Topic        string `mapstructure:"topic"`
	RequiredAcks string `mapstructure:"required_acks"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// RetryConfig contains export retry settings
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	EnableJitter      bool    `mapstructure:"enable_jitter"`
}

// ServerConfig contains the HTTP control channel settings
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeoutMS   int `mapstructure:"read_timeout_ms"`
	WriteTimeoutMS  int `mapstructure:"write_timeout_ms"`
	MaxRequestBytes int `mapstructure:"max_request_bytes"`
	MaxDrainBytes   int `mapstructure:"max_drain_bytes"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if c.Buffer.SlotCount < 1 {
		return fmt.Errorf("buffer slot count must be positive")
	}
	if c.Drain.ChunkSizeBytes < 1 {
		return fmt.Errorf("drain chunk size must be positive")
	}
	if c.Export.Enabled && c.Export.Backend == "" {
		return fmt.Errorf("export backend is required")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
