package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	for _, key := range []string{"APP_NAME", "PORT", "DEFAULT_CURRENCY", "DEFAULT_MONTHLY_LIMIT", "DEFAULT_FEE_BPS", "TX_MAX_ATTEMPTS", "METRICS_QUEUE", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "AgentPay", cfg.AppName)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, "1000", cfg.DefaultMonthlyLimit.String())
	assert.Equal(t, 1500, cfg.DefaultFeeBPS)
	assert.Equal(t, 3, cfg.TxMaxAttempts)
	assert.Equal(t, QueueMemory, cfg.MetricsQueue)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", ":9090")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("DEFAULT_MONTHLY_LIMIT", "250.50")
	t.Setenv("DEFAULT_FEE_BPS", "250")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("IDEMPOTENCY_TTL", "5h")
	t.Setenv("RECONCILE_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "EUR", cfg.DefaultCurrency)
	assert.Equal(t, "250.5", cfg.DefaultMonthlyLimit.String())
	assert.Equal(t, 250, cfg.DefaultFeeBPS)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"fee out of range":   {"DEFAULT_FEE_BPS": "10001"},
		"bad limit":          {"DEFAULT_MONTHLY_LIMIT": "lots"},
		"negative limit":     {"DEFAULT_MONTHLY_LIMIT": "-1"},
		"bad duration":       {"LOCK_TIMEOUT": "soon"},
		"unknown queue":      {"METRICS_QUEUE": "kafka"},
		"redis queue no url": {"METRICS_QUEUE": "redis"},
		"production no db":   {"APP_ENV": "production", "REDIS_URL": "redis://localhost:6379"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("APP_ENV", "development")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadWithOverridesEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	_, err := Load()
	require.Error(t, err, "production without a database must fail")

	cfg, err := LoadWith(map[string]string{
		"DATABASE_URL": "postgres://localhost/agentpay",
		"PORT":         "7000",
		"LOG_LEVEL":    "",
	})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Address())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
}
