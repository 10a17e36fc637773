package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
// Load fails fast on anything missing or invalid so the process never starts
// accepting requests with a broken configuration.
type Config struct {
	StorageBucket   string
	StorageRegion   string
	StorageEndpoint string // optional, path-style addressing for MinIO/localstack

	ChunkMaxBytes        int
	PartitionGranularity domain.Granularity
	AccumulatorMaxRows   int
	AccumulatorMaxBytes  int
	DriftThreshold       float64

	CompactionEnabled  bool
	CompactionFanout   int
	CompactionInterval time.Duration

	RetryMaxAttempts int
	RetryBackoffBase time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaGroupID     string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		StorageBucket:    os.Getenv("STORAGE_BUCKET"),
		StorageRegion:    envOrDefault("STORAGE_REGION", "us-east-1"),
		StorageEndpoint:  os.Getenv("STORAGE_ENDPOINT"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		KafkaBrokers:     parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "raw-observations"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "rainfall-ingest"),
	}

	var err error
	if cfg.ChunkMaxBytes, err = parseInt("CHUNK_MAX_BYTES", 1<<20); err != nil {
		return nil, err
	}
	if cfg.AccumulatorMaxRows, err = parseInt("ACCUMULATOR_MAX_ROWS", 50000); err != nil {
		return nil, err
	}
	if cfg.AccumulatorMaxBytes, err = parseInt("ACCUMULATOR_MAX_BYTES", 8<<20); err != nil {
		return nil, err
	}
	if cfg.CompactionFanout, err = parseInt("COMPACTION_FANOUT_THRESHOLD", 8); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = parseInt("RETRY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	if cfg.DriftThreshold, err = parseFraction("SCHEMA_DRIFT_REJECTION_THRESHOLD", 0.5); err != nil {
		return nil, err
	}

	if cfg.CompactionInterval, err = parseDuration("COMPACTION_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryBackoffBase, err = parseDuration("RETRY_BACKOFF_BASE", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.PartitionGranularity, err = domain.ParseGranularity(envOrDefault("PARTITION_GRANULARITY", "month")); err != nil {
		return nil, err
	}

	if cfg.CompactionEnabled, err = parseBool("COMPACTION_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.KafkaEnabled, err = parseBool("KAFKA_ENABLED", false); err != nil {
		return nil, err
	}

	if cfg.StorageBucket == "" {
		return nil, errors.New("STORAGE_BUCKET is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_SOURCE_TOPIC is empty")
	}
	if cfg.CompactionFanout < 2 {
		return nil, errors.New("COMPACTION_FANOUT_THRESHOLD must be at least 2")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseFraction(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f >= 1 {
		return 0, fmt.Errorf("invalid %s: %q (want a fraction in (0,1))", key, s)
	}
	return f, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return b, nil
}
