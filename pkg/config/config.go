// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DatabaseName is the logical Cosmos DB database holding proxied items.
	DatabaseName = "proxydb"
	// CollectionName is the container inside DatabaseName.
	CollectionName = "items"
)

// Config captures runtime settings for the proxy.
type Config struct {
	Port                    string        `env:"PORT" envDefault:"8080"`
	CosmosURI               string        `env:"COSMOSDB_URI"`
	CosmosKey               string        `env:"COSMOSDB_PRIMARY_KEY"`
	RequestTimeout          time.Duration `env:"COSMOSDB_REQUEST_TIMEOUT" envDefault:"15s"`
	InsecureSkipVerify      bool          `env:"COSMOSDB_INSECURE" envDefault:"false"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	ServerReadTimeout       time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout      time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ServerIdleTimeout       time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN" envDefault:"10s"`
	OTelEndpoint            string        `env:"OTEL_ENDPOINT"`
}

// ListenAddr returns the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort("", c.Port)
}

// Load reads configuration from environment variables and validates required values.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Port = strings.TrimSpace(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	uriRaw := strings.TrimSpace(cfg.CosmosURI)
	if uriRaw == "" {
		return Config{}, errors.New("COSMOSDB_URI is required")
	}

	endpoint, err := url.Parse(uriRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid COSMOSDB_URI: %w", err)
	}
	if !endpoint.IsAbs() || endpoint.Host == "" {
		return Config{}, errors.New("COSMOSDB_URI must be absolute (scheme://host)")
	}

	cfg.CosmosKey = strings.TrimSpace(cfg.CosmosKey)
	if cfg.CosmosKey == "" {
		return Config{}, errors.New("COSMOSDB_PRIMARY_KEY is required")
	}

	if cfg.RequestTimeout <= 0 {
		return Config{}, errors.New("COSMOSDB_REQUEST_TIMEOUT must be positive")
	}

	cfg.CosmosURI = endpoint.String()
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.OTelEndpoint = strings.TrimSpace(cfg.OTelEndpoint)

	return cfg, nil
}
