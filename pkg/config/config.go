// Package config loads the client's ambient configuration: environment-
// variable-driven process settings via Load, and the committee manifest
// (authority endpoints and stake) via LoadCommittee. The getEnv* helper
// family and the Load/Validate split are kept verbatim from the
// teacher's pkg/config.Config, generalized from the Accumulate/Ethereum/
// CometBFT surface to the object-ledger client's surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven configuration for the ledger
// client process.
type Config struct {
	// Identity
	DataDir        string // base directory for the per-address store, default "./data"
	Ed25519KeyPath string // path to this client's ed25519 private key file

	// Broadcast/downloader/sync tuning
	RequestTimeout time.Duration // default 60s, per-authority call timeout
	MaxConcurrency int           // downloader bound on simultaneous fetches, default 32
	SyncRetries    int           // max distinct source authorities the syncer will try, default 3

	// Observability
	LogLevel    string
	MetricsAddr string // address the prometheus registry is served from, e.g. ":9090"

	// Committee manifest
	CommitteeFile string // path to the YAML committee manifest, default "./committee.yaml"
}

// Load reads configuration from environment variables, applying the
// same safe-default-for-non-secrets, no-default-for-secrets convention
// the original service used.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        getEnv("LEDGER_CLIENT_DATA_DIR", "./data"),
		Ed25519KeyPath: getEnv("LEDGER_CLIENT_KEY_PATH", ""),

		RequestTimeout: getEnvDuration("LEDGER_CLIENT_REQUEST_TIMEOUT", 60*time.Second),
		MaxConcurrency: getEnvInt("LEDGER_CLIENT_MAX_CONCURRENCY", 32),
		SyncRetries:    getEnvInt("LEDGER_CLIENT_SYNC_RETRIES", 3),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("LEDGER_CLIENT_METRICS_ADDR", ":9090"),

		CommitteeFile: getEnv("LEDGER_CLIENT_COMMITTEE_FILE", "./committee.yaml"),
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
// Ed25519KeyPath is intentionally not required here: an empty path is a
// valid configuration meaning "generate and persist a key under
// DataDir", handled by the entrypoint's loadOrGenerateKey.
func (c *Config) Validate() error {
	var errs []string

	if c.CommitteeFile == "" {
		errs = append(errs, "LEDGER_CLIENT_COMMITTEE_FILE is required but not set")
	}
	if c.SyncRetries <= 0 {
		errs = append(errs, "LEDGER_CLIENT_SYNC_RETRIES must be positive")
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, "LEDGER_CLIENT_MAX_CONCURRENCY must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
