package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := Load("catalog")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServiceName != "catalog" || cfg.HTTP.Addr != ":8080" || cfg.LogLevel != "info" || cfg.LogFormat != "json" || cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without any service name")
	}

	t.Setenv("SERVICE_NAME", "catalog-eu")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "3s")
	cfg, err = Load("catalog")
	if err != nil || cfg.ServiceName != "catalog-eu" || cfg.HTTP.ShutdownTimeout != 3*time.Second {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}

	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "soon")
	if _, err := Load("catalog"); err == nil {
		t.Fatalf("expected error for bad timeout")
	}

	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "")
	t.Setenv("LOG_FORMAT", "Console")
	if cfg, err := Load("catalog"); err != nil || cfg.LogFormat != "console" {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
	t.Setenv("LOG_FORMAT", "xml")
	if _, err := Load("catalog"); err == nil {
		t.Fatalf("expected error for bad log format")
	}
}
