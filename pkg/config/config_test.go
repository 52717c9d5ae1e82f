// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("COSMOSDB_URI", "https://account.documents.azure.com:443/")
	t.Setenv("COSMOSDB_PRIMARY_KEY", "c2VjcmV0LWtleQ==")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENDPOINT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if got := cfg.ListenAddr(); got != ":8080" {
		t.Fatalf("unexpected listen addr: %q", got)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected request timeout: %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.ServerIdleTimeout != 120*time.Second {
		t.Fatalf("unexpected idle timeout: %s", cfg.ServerIdleTimeout)
	}
	if cfg.GracefulShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.GracefulShutdownTimeout)
	}
	if cfg.OTelEndpoint != "" {
		t.Fatalf("expected tracing disabled, got %q", cfg.OTelEndpoint)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("COSMOSDB_REQUEST_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ListenAddr(); got != ":9090" {
		t.Fatalf("unexpected listen addr: %q", got)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level should be lower-cased, got %q", cfg.LogLevel)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected request timeout: %s", cfg.RequestTimeout)
	}
}

func TestLoadRequiresURI(t *testing.T) {
	setRequired(t)
	t.Setenv("COSMOSDB_URI", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "COSMOSDB_URI") {
		t.Fatalf("expected missing uri error, got %v", err)
	}
}

func TestLoadRejectsRelativeURI(t *testing.T) {
	setRequired(t)
	t.Setenv("COSMOSDB_URI", "account.documents.azure.com")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "absolute") {
		t.Fatalf("expected absolute uri error, got %v", err)
	}
}

func TestLoadRequiresKey(t *testing.T) {
	setRequired(t)
	t.Setenv("COSMOSDB_PRIMARY_KEY", "  ")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "COSMOSDB_PRIMARY_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}
