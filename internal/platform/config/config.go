// Package config holds settings every binary shares.
package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	LogFormat   string
	HTTP        HTTPConfig
}

// Load reads SERVICE_NAME, LOG_LEVEL, LOG_FORMAT, HTTP_ADDR and
// HTTP_SHUTDOWN_TIMEOUT.
// serviceName is used when SERVICE_NAME is unset.
func Load(serviceName string) (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LogFormat:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		HTTP: HTTPConfig{
			Addr:            strings.TrimSpace(os.Getenv("HTTP_ADDR")),
			ShutdownTimeout: 10 * time.Second,
		},
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = strings.TrimSpace(serviceName)
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "json"
	case "json", "console":
	default:
		return AppConfig{}, errors.New("LOG_FORMAT must be json or console")
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_SHUTDOWN_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return AppConfig{}, errors.New("HTTP_SHUTDOWN_TIMEOUT must be a positive duration")
		}
		cfg.HTTP.ShutdownTimeout = d
	}
	return cfg, nil
}
