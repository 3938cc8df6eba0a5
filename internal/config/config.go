// Package config provides environment-driven configuration for the
// clustering core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	Port        string
	ListenHost  string
	MetricsPort string
	CORSOrigins []string
	LogLevel    string

	EmbeddingURL    string
	EmbeddingAPIKey Secret
	FormattingURL   string
	SummarizerURL   string

	// Clustering knobs (spec §6).
	MaturityThreshold     int
	NewSimilarity         float64
	MatureSimilarity      float64
	ReclusterSimilarity   float64
	MinGroupSize          int
	ChunkSizeSmall        int
	ChunkSizeLarge        int
	LockTTL               time.Duration
	DispatcherBatchSize   int
	EmbeddingConcurrency  int
	EmbeddingRatePerSec   int
	CleanupInterval       time.Duration
	MaxConcurrentBatches  int
	DequeuePollTimeout    time.Duration
	StaleProcessingWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     Secret(envOrDefault("DATABASE_URL", "")),
		Port:            envOrDefault("PORT", "8080"),
		ListenHost:      envOrDefault("LISTEN_HOST", "127.0.0.1"),
		MetricsPort:     envOrDefault("METRICS_PORT", "9090"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		EmbeddingURL:    envOrDefault("EMBEDDING_URL", "http://localhost:8081"),
		EmbeddingAPIKey: Secret(envOrDefault("EMBEDDING_API_KEY", "")),
		FormattingURL:   envOrDefault("FORMATTING_URL", "http://localhost:8082"),
		SummarizerURL:   envOrDefault("SUMMARIZER_URL", "http://localhost:8083"),
	}

	var err error
	if cfg.MaturityThreshold, err = envInt("MATURITY_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.NewSimilarity, err = envFloat("NEW_SIMILARITY_THRESHOLD", 0.70); err != nil {
		return nil, err
	}
	if cfg.MatureSimilarity, err = envFloat("MATURE_SIMILARITY_THRESHOLD", 0.60); err != nil {
		return nil, err
	}
	if cfg.ReclusterSimilarity, err = envFloat("RECLUSTER_SIMILARITY_THRESHOLD", 0.70); err != nil {
		return nil, err
	}
	if cfg.MinGroupSize, err = envInt("MIN_GROUP_SIZE", 2); err != nil {
		return nil, err
	}
	if cfg.ChunkSizeSmall, err = envInt("CHUNK_SIZE_SMALL", 2000); err != nil {
		return nil, err
	}
	if cfg.ChunkSizeLarge, err = envInt("CHUNK_SIZE_LARGE", 5000); err != nil {
		return nil, err
	}

	lockTTLSec, err := envInt("LOCK_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.LockTTL = time.Duration(lockTTLSec) * time.Second

	if cfg.DispatcherBatchSize, err = envInt("MEGA_BATCH_SIZE", 2000); err != nil {
		return nil, err
	}
	if cfg.EmbeddingConcurrency, err = envInt("EMBEDDING_CONCURRENCY", 50); err != nil {
		return nil, err
	}
	if cfg.EmbeddingRatePerSec, err = envInt("EMBEDDING_RATE_PER_SEC", 100); err != nil {
		return nil, err
	}

	cleanupSec, err := envInt("CLEANUP_INTERVAL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.CleanupInterval = time.Duration(cleanupSec) * time.Second

	if cfg.MaxConcurrentBatches, err = envInt("MAX_CONCURRENT_BATCHES", 20); err != nil {
		return nil, err
	}

	pollMS, err := envInt("DEQUEUE_POLL_TIMEOUT_MS", 100)
	if err != nil {
		return nil, err
	}
	cfg.DequeuePollTimeout = time.Duration(pollMS) * time.Millisecond

	staleMin, err := envInt("STALE_PROCESSING_WINDOW_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	cfg.StaleProcessingWindow = time.Duration(staleMin) * time.Minute

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3000")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the admin HTTP listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// MetricsAddr returns the metrics listen address in host:port format.
func (c *Config) MetricsAddr() string {
	return c.ListenHost + ":" + c.MetricsPort
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a float: %w", key, err)
	}
	return f, nil
}
