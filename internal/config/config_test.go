package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	return &Config{
		Port:                DefaultPort,
		Env:                 DefaultEnv,
		LogLevel:            DefaultLogLevel,
		AuditSigningKey:     testKey,
		AnomalyTimeout:      DefaultAnomalyTimeout,
		EthPriceUSD:         DefaultEthPriceUSD,
		CriticalThreshold:   DefaultCriticalThreshold,
		SuspiciousThreshold: DefaultSuspiciousThreshold,
	}
}

func TestValidateRequiresSigningKey(t *testing.T) {
	cfg := validConfig()
	cfg.AuditSigningKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIT_SIGNING_KEY")
}

func TestValidateRejectsShortSigningKey(t *testing.T) {
	cfg := validConfig()
	cfg.AuditSigningKey = "too-short"
	require.Error(t, cfg.Validate())
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.CriticalThreshold = 0.4
	cfg.SuspiciousThreshold = 0.5
	require.Error(t, cfg.Validate())
}

func TestValidateAnomalyTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.AnomalyTimeout = 0
	require.Error(t, cfg.Validate())

	cfg.AnomalyTimeout = time.Second
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUDIT_SIGNING_KEY", testKey)
	t.Setenv("PORT", "9999")
	t.Setenv("CRITICAL_THRESHOLD", "0.9")
	t.Setenv("ANOMALY_TIMEOUT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 0.9, cfg.CriticalThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.AnomalyTimeout)
	assert.Equal(t, DefaultSuspiciousThreshold, cfg.SuspiciousThreshold)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFailsWithoutSigningKey(t *testing.T) {
	t.Setenv("AUDIT_SIGNING_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestParseActorPairs(t *testing.T) {
	actors := parseActorPairs("lab=0xAbCd00000000000000000000000000000000AbCd, field-unit=0x1234567890abcdef1234567890abcdef12345678,malformed")
	require.Len(t, actors, 2)
	assert.Equal(t, "0xabcd00000000000000000000000000000000abcd", actors["lab"])
	assert.Equal(t, "0x1234567890abcdef1234567890abcdef12345678", actors["field-unit"])

	assert.Nil(t, parseActorPairs(""))
}
