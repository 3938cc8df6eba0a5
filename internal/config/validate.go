package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateCORS(); err != nil {
		return err
	}

	if err := c.validateThresholds(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	metricsPort, err := strconv.Atoi(c.MetricsPort)
	if err != nil {
		return fmt.Errorf("METRICS_PORT must be a valid integer: %w", err)
	}

	if metricsPort < 1 || metricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535")
	}

	if metricsPort == port {
		return fmt.Errorf("METRICS_PORT must differ from PORT")
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

// validateThresholds enforces the invariants a misconfigured deployment
// would otherwise silently violate (spec §4.4/§4.5/§6).
func (c *Config) validateThresholds() error {
	if c.NewSimilarity <= 0 || c.NewSimilarity > 1 {
		return fmt.Errorf("NEW_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.MatureSimilarity <= 0 || c.MatureSimilarity > 1 {
		return fmt.Errorf("MATURE_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.MatureSimilarity > c.NewSimilarity {
		return fmt.Errorf("MATURE_SIMILARITY_THRESHOLD must not exceed NEW_SIMILARITY_THRESHOLD")
	}
	if c.MaturityThreshold < 1 {
		return fmt.Errorf("MATURITY_THRESHOLD must be >= 1")
	}
	if c.MinGroupSize < 2 {
		return fmt.Errorf("MIN_GROUP_SIZE must be >= 2")
	}
	if c.ChunkSizeLarge <= c.ChunkSizeSmall {
		return fmt.Errorf("CHUNK_SIZE_LARGE must exceed CHUNK_SIZE_SMALL")
	}
	if c.EmbeddingConcurrency < 1 {
		return fmt.Errorf("EMBEDDING_CONCURRENCY must be >= 1")
	}
	if c.EmbeddingRatePerSec < 1 {
		return fmt.Errorf("EMBEDDING_RATE_PER_SEC must be >= 1")
	}
	return nil
}
