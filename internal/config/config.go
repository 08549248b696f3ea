// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Audit ledger
	AuditSigningKey string // HMAC secret for signing audit entries. Required.

	// External collaborators
	ChainDataURL     string // etherscan-compatible chain data provider (optional)
	ChainDataAPIKey  string
	AnomalyScorerURL string        // trained classifier scoring service (optional)
	AnomalyTimeout   time.Duration // bound on the external scoring call

	// Detection tuning
	EthPriceUSD         float64 // reference price for the large-value rule
	CriticalThreshold   float64 // risk_score >= this → CRITICAL
	SuspiciousThreshold float64 // risk_score >= this → SUSPICIOUS

	// Alert streaming
	AlertMinScore float64 // minimum risk score broadcast on /ws/alerts

	// Chain of custody. Registered external actors as "id=0xaddress"
	// pairs; the engine's own analysis actor is always registered.
	CustodyActors map[string]string

	// Security
	RateLimitRPM int
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultEthPriceUSD         = 2000.0
	DefaultCriticalThreshold   = 0.8
	DefaultSuspiciousThreshold = 0.5
	DefaultAlertMinScore       = 0.5
	DefaultRateLimitRPM        = 100
	DefaultAnomalyTimeout      = 2 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),      // Optional, uses in-memory if not set
		AuditSigningKey:     os.Getenv("AUDIT_SIGNING_KEY"), // Required, no default
		ChainDataURL:        os.Getenv("CHAIN_DATA_URL"),
		ChainDataAPIKey:     os.Getenv("CHAIN_DATA_API_KEY"),
		AnomalyScorerURL:    os.Getenv("ANOMALY_SCORER_URL"),
		AnomalyTimeout:      getEnvDuration("ANOMALY_TIMEOUT", DefaultAnomalyTimeout),
		EthPriceUSD:         getEnvFloat("ETH_PRICE_USD", DefaultEthPriceUSD),
		CriticalThreshold:   getEnvFloat("CRITICAL_THRESHOLD", DefaultCriticalThreshold),
		SuspiciousThreshold: getEnvFloat("SUSPICIOUS_THRESHOLD", DefaultSuspiciousThreshold),
		AlertMinScore:       getEnvFloat("ALERT_MIN_SCORE", DefaultAlertMinScore),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CustodyActors:       parseActorPairs(os.Getenv("CUSTODY_ACTORS")),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
// A missing audit signing key is fatal: the ledger cannot produce
// verifiable entries without it, so the process must refuse to start.
func (c *Config) Validate() error {
	if c.AuditSigningKey == "" {
		return fmt.Errorf("AUDIT_SIGNING_KEY is required")
	}
	if len(c.AuditSigningKey) < 32 {
		return fmt.Errorf("AUDIT_SIGNING_KEY must be at least 32 characters")
	}

	if c.CriticalThreshold <= c.SuspiciousThreshold {
		return fmt.Errorf("CRITICAL_THRESHOLD (%v) must be greater than SUSPICIOUS_THRESHOLD (%v)",
			c.CriticalThreshold, c.SuspiciousThreshold)
	}
	if c.CriticalThreshold > 1 || c.SuspiciousThreshold < 0 {
		return fmt.Errorf("classification thresholds must lie in [0,1]")
	}

	if c.AnomalyTimeout <= 0 {
		return fmt.Errorf("ANOMALY_TIMEOUT must be positive")
	}

	if c.EthPriceUSD <= 0 {
		return fmt.Errorf("ETH_PRICE_USD must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// parseActorPairs parses "id=0xaddress,id2=0xaddress2" into a map.
// Malformed pairs are skipped.
func parseActorPairs(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	actors := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		id, addr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || id == "" || addr == "" {
			continue
		}
		actors[id] = strings.ToLower(addr)
	}
	return actors
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
