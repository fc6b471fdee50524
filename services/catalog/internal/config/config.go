// Package config reads the catalog service's environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	APIHost string
	RPS     float64
	Timeout time.Duration
}

type BackfillConfig struct {
	Timeout    time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

type CatalogConfig struct {
	Upstream        UpstreamConfig
	Backfill        BackfillConfig
	DefaultRegion   string
	FreshnessWindow time.Duration

	DatabaseURL   string
	RedisURL      string
	NATSURL       string
	JWTSecret     string
	ProvidersFile string
	OTLPEndpoint  string
}

// Load reads CatalogConfig. Only the upstream API key is required; every
// backing service is optional and its absence disables the feature.
func Load() (CatalogConfig, error) {
	cfg := CatalogConfig{
		Upstream: UpstreamConfig{
			BaseURL: env("STREAMING_API_BASE_URL", "https://streaming-availability.p.rapidapi.com"),
			APIKey:  env("STREAMING_API_KEY", ""),
			APIHost: env("STREAMING_API_HOST", "streaming-availability.p.rapidapi.com"),
		},
		DefaultRegion: strings.ToLower(env("DEFAULT_REGION", "in")),
		DatabaseURL:   env("DATABASE_URL", ""),
		RedisURL:      env("REDIS_URL", ""),
		NATSURL:       env("NATS_URL", ""),
		JWTSecret:     env("JWT_SECRET", ""),
		ProvidersFile: env("PROVIDERS_FILE", ""),
		OTLPEndpoint:  env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if cfg.Upstream.APIKey == "" {
		return CatalogConfig{}, errors.New("STREAMING_API_KEY is required")
	}

	var err error
	if cfg.Upstream.RPS, err = envFloat("STREAMING_API_RPS", 5); err != nil {
		return CatalogConfig{}, err
	}
	if cfg.Upstream.Timeout, err = envDuration("STREAMING_API_TIMEOUT", 15*time.Second); err != nil {
		return CatalogConfig{}, err
	}
	if cfg.FreshnessWindow, err = envDuration("FRESHNESS_WINDOW", 24*time.Hour); err != nil {
		return CatalogConfig{}, err
	}
	if cfg.Backfill.Timeout, err = envDuration("BACKFILL_TIMEOUT", 2*time.Hour); err != nil {
		return CatalogConfig{}, err
	}
	if cfg.Backfill.BatchDelay, err = envDuration("BACKFILL_BATCH_DELAY", time.Second); err != nil {
		return CatalogConfig{}, err
	}
	if cfg.Backfill.BatchSize, err = envInt("BACKFILL_BATCH_SIZE", 20); err != nil {
		return CatalogConfig{}, err
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number, got %q", key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
