package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/bustrace/internal/config/dto"
	apperrors "github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	// Set defaults
	l.setDefaults()

	// Load from file if provided
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	// Unmarshal configuration
	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "bustrace")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Ring defaults
	l.v.SetDefault("buffer.slot_count", 1024)
	l.v.SetDefault("buffer.max_payload_bytes", 64*1024)
	l.v.SetDefault("buffer.memory_limit_bytes", 0)

	// Drain defaults
	l.v.SetDefault("drain.interval_ms", 1000)
	l.v.SetDefault("drain.chunk_size_bytes", 256*1024)

	// Export defaults
	l.v.SetDefault("export.enabled", false)
	l.v.SetDefault("export.backend", "file")
	l.v.SetDefault("export.format", "parquet")
	l.v.SetDefault("export.compression", "snappy")
	l.v.SetDefault("export.s3.use_path_style", false)
	l.v.SetDefault("export.s3.sse_enabled", true)
	l.v.SetDefault("export.rotation.max_records", 10000)
	l.v.SetDefault("export.rotation.max_size_bytes", 16*1024*1024)
	l.v.SetDefault("export.rotation.max_duration_seconds", 60)
	l.v.SetDefault("export.rotation.strategy", "any")

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.aws_region", "us-east-1")
	l.v.SetDefault("kafka.ingest.enabled", false)
	l.v.SetDefault("kafka.ingest.auto_offset_reset", "latest")
	l.v.SetDefault("kafka.ingest.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.ingest.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.ingest.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.publish.enabled", false)
	l.v.SetDefault("kafka.publish.required_acks", "all")
	l.v.SetDefault("kafka.publish.max_retries", 3)

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 3)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 5000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)
	l.v.SetDefault("retry.enable_jitter", true)

	// Control channel defaults
	l.v.SetDefault("server.port", 8081)
	l.v.SetDefault("server.read_timeout_ms", 10000)
	l.v.SetDefault("server.write_timeout_ms", 10000)
	l.v.SetDefault("server.max_request_bytes", 1024*1024)
	l.v.SetDefault("server.max_drain_bytes", 4*1024*1024)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Ring validation
	if config.Buffer.SlotCount < 1 {
		return fmt.Errorf("buffer.slot_count must be positive: %d", config.Buffer.SlotCount)
	}
	if config.Buffer.MaxPayloadBytes < 1 || int64(config.Buffer.MaxPayloadBytes) > trace.MaxPayloadLength {
		return fmt.Errorf("buffer.max_payload_bytes out of range: %d", config.Buffer.MaxPayloadBytes)
	}
	if config.Buffer.MemoryLimitBytes < 0 {
		return fmt.Errorf("buffer.memory_limit_bytes cannot be negative: %d", config.Buffer.MemoryLimitBytes)
	}

	// Drain validation
	if config.Drain.IntervalMS < 1 {
		return fmt.Errorf("drain.interval_ms must be positive: %d", config.Drain.IntervalMS)
	}
	// A record larger than the drain chunk could never leave the ring.
	if need := trace.Footprint(config.Buffer.MaxPayloadBytes); config.Drain.ChunkSizeBytes < need {
		return fmt.Errorf("drain.chunk_size_bytes (%d) must hold the largest record (%d bytes)",
			config.Drain.ChunkSizeBytes, need)
	}

	if config.Export.Enabled {
		if err := validateExport(&config.Export); err != nil {
			return err
		}
	}

	if err := validateKafka(&config.Kafka); err != nil {
		return err
	}

	// Port validation
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

func validateExport(export *dto.ExportConfig) error {
	// Storage validation
	var err error
	switch export.Backend {
	case "s3":
		err = export.S3.Validate()
	case "azure":
		err = export.Azure.Validate()
	case "gcs":
		err = export.GCS.Validate()
	case "file":
		err = export.File.Validate()
	default:
		return fmt.Errorf("unsupported export backend: %s", export.Backend)
	}
	if err != nil {
		return fmt.Errorf("export.%s: %w", export.Backend, err)
	}

	// Format validation
	if export.Format != string(trace.FormatParquet) && export.Format != string(trace.FormatAvro) {
		return fmt.Errorf("unsupported export format: %s", export.Format)
	}

	// Rotation validation
	if export.Rotation.Strategy != "any" && export.Rotation.Strategy != "all" {
		return fmt.Errorf("unsupported rotation strategy: %s", export.Rotation.Strategy)
	}

	return nil
}

func validateKafka(kafka *dto.KafkaConfig) error {
	if !kafka.Enabled() {
		return nil
	}
	if len(kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}

	switch kafka.SecurityProtocol {
	case "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL":
	default:
		return fmt.Errorf("unsupported kafka security protocol: %s", kafka.SecurityProtocol)
	}

	if kafka.Ingest.Enabled {
		if len(kafka.Ingest.Topics) == 0 {
			return errors.New("kafka.ingest.topics is required")
		}
		if kafka.Ingest.GroupID == "" {
			return errors.New("kafka.ingest.group_id is required")
		}
	}
	if kafka.Publish.Enabled && kafka.Publish.Topic == "" {
		return errors.New("kafka.publish.topic is required")
	}

	return nil
}
