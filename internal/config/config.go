// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Tenant served by this process
	TenantID string

	// Indexed store backend ("memory", "bolt" or "postgres")
	IndexBackend string
	BoltPath     string
	DatabaseURL  string

	// Filesystem blob store
	FilesStorePath string

	// S3 blob store (optional — enabled when the bucket is set)
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// TLS (optional — if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret     string
	AdminUsername string
	AdminPassword string

	// Garbage sweeper (0 disables the loop)
	SweepInterval time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		TenantID:       envOr("TENANT_ID", "default"),
		IndexBackend:   envOr("INDEX_BACKEND", "bolt"),
		BoltPath:       envOr("BOLT_PATH", "/data/filedrift.db"),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		FilesStorePath: envOr("FILES_STORE_PATH", "/data/files"),
		S3Endpoint:     envOr("S3_ENDPOINT", ""),
		S3Bucket:       envOr("S3_BUCKET", ""),
		S3AccessKey:    envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:    envOr("S3_SECRET_KEY", ""),
		S3Region:       envOr("S3_REGION", "us-east-1"),
		TLSCertFile:    envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:     envOr("TLS_KEY_FILE", ""),
		JWTSecret:      envOr("JWT_SECRET", ""),
		AdminUsername:  envOr("ADMIN_USERNAME", "admin"),
		AdminPassword:  envOr("ADMIN_PASSWORD", ""),
		SweepInterval:  envDuration("SWEEP_INTERVAL", 10*time.Minute),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.IndexBackend {
	case "memory", "bolt", "postgres":
	default:
		return nil, fmt.Errorf("INDEX_BACKEND must be memory, bolt or postgres, got %q", cfg.IndexBackend)
	}
	if cfg.IndexBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required with INDEX_BACKEND=postgres")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
