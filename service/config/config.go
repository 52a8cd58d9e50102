package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/stellar/go/network"
)

// Default Horizon endpoints per network.
const (
	TestnetHorizonURL = "https://horizon-testnet.stellar.org"
	PublicHorizonURL  = "https://horizon.stellar.org"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Ledger configuration
	HorizonURL         string
	StellarNetwork     string
	NetworkPassphrase  string
	HTTPTimeout        time.Duration
	StreamReconnectMax time.Duration

	// Database configuration. Empty disables persistence.
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Redis configuration. Empty keeps source locks in-process and disables the dead-letter queue.
	RedisURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	ReconcileTimeout  time.Duration

	// Listener configuration
	WatchAddresses    []string
	EnrichConcurrency int
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Ledger configuration
	cfg.StellarNetwork = getEnvOrDefault("STELLAR_NETWORK", "testnet")
	passphrase, err := stellar.NetworkPassphrase(cfg.StellarNetwork)
	if err != nil {
		errs = append(errs, fmt.Errorf("STELLAR_NETWORK: %w", err))
	} else {
		cfg.NetworkPassphrase = passphrase
	}

	defaultHorizon := TestnetHorizonURL
	if cfg.NetworkPassphrase == network.PublicNetworkPassphrase {
		defaultHorizon = PublicHorizonURL
	}
	cfg.HorizonURL = strings.TrimRight(getEnvOrDefault("HORIZON_URL", defaultHorizon), "/")
	if u, err := url.Parse(cfg.HorizonURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("HORIZON_URL: invalid url %q", cfg.HorizonURL))
	}

	if cfg.HTTPTimeout, err = parseDuration("HTTP_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.StreamReconnectMax, err = parseDuration("STREAM_RECONNECT_MAX", "30s"); err != nil {
		errs = append(errs, err)
	}

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Redis configuration
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "stellarpay-reconcile")
	if cfg.ReconcileTimeout, err = parseDuration("RECONCILE_TIMEOUT", "5m"); err != nil {
		errs = append(errs, err)
	}

	// Listener configuration
	cfg.WatchAddresses = parseList(os.Getenv("WATCH_ADDRESSES"))
	for _, addr := range cfg.WatchAddresses {
		if !stellar.IsValidAddress(addr) {
			errs = append(errs, fmt.Errorf("WATCH_ADDRESSES: invalid address %q", addr))
		}
	}
	if cfg.EnrichConcurrency, err = parseInt("ENRICH_CONCURRENCY", 4); err != nil {
		errs = append(errs, err)
	}

	if err := cfg.Validate(); err != nil && len(errs) == 0 {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.HorizonURL == "" {
		errs = append(errs, fmt.Errorf("HorizonURL is required"))
	}

	if c.NetworkPassphrase == "" {
		errs = append(errs, fmt.Errorf("NetworkPassphrase is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTPTimeout must be positive"))
	}

	if c.StreamReconnectMax < time.Second {
		errs = append(errs, fmt.Errorf("StreamReconnectMax must be at least 1 second"))
	}

	if c.ReconcileTimeout < stellar.SubmissionTimeoutSeconds*time.Second {
		errs = append(errs, fmt.Errorf("ReconcileTimeout must be at least %ds", stellar.SubmissionTimeoutSeconds))
	}

	if c.EnrichConcurrency < 1 {
		errs = append(errs, fmt.Errorf("EnrichConcurrency must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated value, dropping blanks.
func parseList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
