package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/bustrace/internal/buffer"
	"github.com/jittakal/bustrace/internal/config"
	"github.com/jittakal/bustrace/internal/config/dto"
	"github.com/jittakal/bustrace/internal/exporter"
	"github.com/jittakal/bustrace/internal/kafka"
	"github.com/jittakal/bustrace/internal/observability"
	"github.com/jittakal/bustrace/internal/server"
	"github.com/jittakal/bustrace/internal/storage"
	"github.com/jittakal/bustrace/internal/validator"
	pkgstorage "github.com/jittakal/bustrace/pkg/storage"
	"github.com/jittakal/bustrace/pkg/trace"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:   cfg.Observability.Logging.Level,
		Format:  cfg.Observability.Logging.Format,
		Output:  cfg.Observability.Logging.Output,
		Service: cfg.Application.Name,
	})
	logger.Info("starting bus trace service",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Cleanup runs in reverse registration order
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				logger.Error("cleanup failed", "component", name, "error", err)
				return err
			}
			return nil
		})
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			_ = cleanupFuncs[i]()
		}
	}()

	// Initialize the trace ring
	ring, err := buffer.New(buffer.Config{
		Slots:            cfg.Buffer.SlotCount,
		MaxPayloadBytes:  cfg.Buffer.MaxPayloadBytes,
		MemoryLimitBytes: cfg.Buffer.MemoryLimitBytes,
	}, buffer.WithObserver(observability.Observers{
		observability.NewLogObserver(logger),
		observability.NewMetricsObserver(metrics),
	}))
	if err != nil {
		return fmt.Errorf("failed to create trace ring: %w", err)
	}
	addCleanup("trace-ring", func() error {
		ring.Close()
		return nil
	})
	registry.MustRegister(observability.NewRingCollector(ring))

	captureValidator := validator.NewCaptureValidator(cfg.Buffer.MaxPayloadBytes)
	security := kafka.SecurityConfig{
		Protocol:      cfg.Kafka.SecurityProtocol,
		SASLMechanism: cfg.Kafka.SASLMechanism,
		SASLUsername:  cfg.Kafka.SASLUsername,
		SASLPassword:  cfg.Kafka.SASLPassword,
		AWSRegion:     cfg.Kafka.AWSRegion,
	}

	// Initialize export sinks
	var sinks []exporter.Sink
	if cfg.Export.Enabled {
		writer, err := newWriter(cfg, logger, metrics)
		if err != nil {
			return err
		}
		addCleanup("storage-writer", writer.Close)

		router := storage.NewRouter(storageLocation(cfg))
		sinks = append(sinks, exporter.NewStorageSink(writer, router, trace.FileFormat(cfg.Export.Format)))
	}
	if cfg.Kafka.Publish.Enabled {
		publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			Security:         security,
			Topic:            cfg.Kafka.Publish.Topic,
			RequiredAcks:     cfg.Kafka.Publish.RequiredAcks,
			MaxRetries:       cfg.Kafka.Publish.MaxRetries,
		}, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create publisher: %w", err)
		}
		addCleanup("kafka-publisher", publisher.Close)
		sinks = append(sinks, exporter.NewPublisherSink(publisher))
	}

	// The exporter owns the consumer side of the ring when any sink is set
	var exp *exporter.Exporter
	if len(sinks) > 0 {
		policy := storage.NewPolicy(storage.PolicyConfig{
			MaxRecords:         cfg.Export.Rotation.MaxRecords,
			MaxSizeBytes:       cfg.Export.Rotation.MaxSizeBytes,
			MaxDurationSeconds: cfg.Export.Rotation.MaxDurationSeconds,
			Strategy:           cfg.Export.Rotation.Strategy,
		})
		exp, err = exporter.New(exporter.Config{
			Interval:  cfg.Drain.Interval(),
			ChunkSize: cfg.Drain.ChunkSizeBytes,
			Retry:     retryPolicy(cfg.Retry),
		}, ring, policy, sinks, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	// Initialize the capture consumer
	var consumer *kafka.CaptureConsumer
	if cfg.Kafka.Ingest.Enabled {
		consumer, err = kafka.NewCaptureConsumer(kafka.ConsumerConfig{
			BootstrapServers:    cfg.Kafka.BootstrapServers,
			GroupID:             cfg.Kafka.Ingest.GroupID,
			Security:            security,
			AutoOffsetReset:     cfg.Kafka.Ingest.AutoOffsetReset,
			MaxPollIntervalMS:   cfg.Kafka.Ingest.MaxPollIntervalMS,
			SessionTimeoutMS:    cfg.Kafka.Ingest.SessionTimeoutMS,
			HeartbeatIntervalMS: cfg.Kafka.Ingest.HeartbeatIntervalMS,
		}, ring, captureValidator, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		addCleanup("kafka-consumer", consumer.Close)

		if err := consumer.Subscribe(context.Background(), cfg.Kafka.Ingest.Topics); err != nil {
			return fmt.Errorf("failed to subscribe to topics: %w", err)
		}
	}

	// Start HTTP servers
	control := server.NewControlHandler(ring, captureValidator, server.ControlConfig{
		MaxRequestBytes:   int64(cfg.Server.MaxRequestBytes),
		DefaultDrainBytes: cfg.Drain.ChunkSizeBytes,
		MaxDrainBytes:     cfg.Server.MaxDrainBytes,
		DrainEnabled:      exp == nil,
	}, logger, metrics)

	var metricsRegistry *prometheus.Registry
	if cfg.Observability.Metrics.Enabled {
		metricsRegistry = registry
	}
	httpServer := server.NewServer(server.Config{
		ControlPort:   cfg.Server.Port,
		HealthPort:    cfg.Observability.Health.Port,
		MetricsPort:   cfg.Observability.Metrics.Port,
		LivenessPath:  cfg.Observability.Health.LivenessPath,
		ReadinessPath: cfg.Observability.Health.ReadinessPath,
		MetricsPath:   cfg.Observability.Metrics.Path,
		ReadTimeout:   time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:  time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}, control, server.NewRingHealth(ring), metricsRegistry, logger)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Ingest (Kafka and the HTTP control channel) stops before the exporter
	// so its final drain sees every accepted record.
	lc := &lifecycle{
		grace:  cfg.Shutdown.GracePeriod(),
		logger: logger,
	}
	lc.ingest = append(lc.ingest, stage{name: "http-server", stop: httpServer.Shutdown})
	if consumer != nil {
		lc.ingest = append(lc.ingest, stage{name: "kafka-consumer", run: consumer.Run})
	}
	if exp != nil {
		lc.export = append(lc.export, stage{name: "exporter", run: exp.Run})
	}

	// Run until a termination signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("application started successfully",
		"slots", cfg.Buffer.SlotCount,
		"sinks", len(sinks),
		"ingest", consumer != nil,
	)

	if err := lc.run(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		if errors.Is(err, errGraceExceeded) {
			// A stage may still be using the ring and sinks; leave them open.
			cleanupFuncs = nil
		}
		return err
	}

	logger.Info("application stopped successfully")
	return nil
}

func newWriter(cfg *dto.ApplicationConfig, logger *slog.Logger, metrics *observability.Metrics) (pkgstorage.Writer, error) {
	format := trace.FileFormat(cfg.Export.Format)
	compression := cfg.Export.Compression

	switch cfg.Export.Backend {
	case "file":
		writer, err := storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.Export.File.BasePath,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return writer, nil
	case "s3":
		writer, err := storage.NewS3Writer(storage.S3Config{
			Bucket:       cfg.Export.S3.Bucket,
			Region:       cfg.Export.S3.Region,
			Endpoint:     cfg.Export.S3.Endpoint,
			UsePathStyle: cfg.Export.S3.UsePathStyle,
			SSEEnabled:   cfg.Export.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Export.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return writer, nil
	case "azure":
		writer, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Export.Azure.AccountName,
			AccountKey:    cfg.Export.Azure.AccountKey,
			ContainerName: cfg.Export.Azure.Container,
			Endpoint:      cfg.Export.Azure.Endpoint,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return writer, nil
	case "gcs":
		writer, err := storage.NewGCSWriter(storage.GCSConfig{
			Bucket:               cfg.Export.GCS.Bucket,
			ProjectID:            cfg.Export.GCS.ProjectID,
			CredentialsFile:      cfg.Export.GCS.CredentialsFile,
			CredentialsJSON:      cfg.Export.GCS.CredentialsJSON,
			Endpoint:             cfg.Export.GCS.Endpoint,
			UseDefaultCredential: cfg.Export.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Export.Backend)
	}
}

// storageLocation returns the router protocol, bucket and base path for the
// configured backend. The file backend joins its base path itself.
func storageLocation(cfg *dto.ApplicationConfig) (protocol, bucket, basePath string) {
	switch cfg.Export.Backend {
	case "s3":
		return "s3", cfg.Export.S3.Bucket, cfg.Export.S3.BasePath
	case "azure":
		return "wasbs", cfg.Export.Azure.Container, cfg.Export.Azure.BasePath
	case "gcs":
		return "gs", cfg.Export.GCS.Bucket, cfg.Export.GCS.BasePath
	default:
		return "file", "", ""
	}
}

func retryPolicy(cfg dto.RetryConfig) exporter.RetryPolicy {
	return exporter.RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		BackoffMultiplier: cfg.BackoffMultiplier,
		EnableJitter:      cfg.EnableJitter,
	}
}
