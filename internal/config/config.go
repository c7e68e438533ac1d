package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName        = "AgentPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultCurrency       = "USD"
	defaultMonthlyLimit   = "1000"
	defaultFeeBPS         = 1500
	defaultTxMaxAttempts  = 3
	defaultLockTimeout    = 5 * time.Second
	defaultMetricsQueue   = QueueMemory
	defaultMetricsWorkers = 2
	defaultReconcileEvery = 15 * time.Minute
	defaultProposalLimit  = 30
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

// Metrics queue backends.
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string
	RabbitMQURL string

	DefaultCurrency     string
	DefaultMonthlyLimit decimal.Decimal
	FeeSchedulePath     string
	DefaultFeeBPS       int

	TxMaxAttempts int
	LockTimeout   time.Duration

	MetricsQueue      string
	MetricsWorkers    int
	ReconcileInterval time.Duration

	APIKeyHash        string
	ProposalRateLimit int

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with overrides taking precedence over the environment.
// Empty override values are ignored, so unset CLI flags fall through.
func LoadWith(overrides map[string]string) (Config, error) {
	env := func(key string) string {
		if v := overrides[key]; v != "" {
			return v
		}
		return os.Getenv(key)
	}
	getEnv := func(key, fallback string) string {
		if value := env(key); value != "" {
			return value
		}
		return fallback
	}

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:     env("DATABASE_URL"),
		RedisURL:        env("REDIS_URL"),
		RabbitMQURL:     env("RABBITMQ_URL"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		FeeSchedulePath: env("FEE_SCHEDULE_PATH"),
		MetricsQueue:    strings.ToLower(getEnv("METRICS_QUEUE", defaultMetricsQueue)),
		APIKeyHash:      env("API_KEY_HASH"),
	}

	limit, err := decimal.NewFromString(getEnv("DEFAULT_MONTHLY_LIMIT", defaultMonthlyLimit))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_MONTHLY_LIMIT: %w", err)
	}
	if limit.IsNegative() {
		return Config{}, fmt.Errorf("DEFAULT_MONTHLY_LIMIT must not be negative")
	}
	cfg.DefaultMonthlyLimit = limit

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"DEFAULT_FEE_BPS", defaultFeeBPS, &cfg.DefaultFeeBPS},
		{"TX_MAX_ATTEMPTS", defaultTxMaxAttempts, &cfg.TxMaxAttempts},
		{"METRICS_WORKERS", defaultMetricsWorkers, &cfg.MetricsWorkers},
		{"PROPOSAL_RATE_LIMIT", defaultProposalLimit, &cfg.ProposalRateLimit},
	}
	for _, v := range ints {
		n, err := getInt(env, v.key, v.fallback)
		if err != nil {
			return Config{}, err
		}
		*v.dst = n
	}
	if cfg.DefaultFeeBPS < 0 || cfg.DefaultFeeBPS > 10000 {
		return Config{}, fmt.Errorf("DEFAULT_FEE_BPS must be within 0..10000, got %d", cfg.DefaultFeeBPS)
	}

	if cfg.LockTimeout, err = getDuration(env, "LOCK_TIMEOUT", "", defaultLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getDuration(env, "RECONCILE_INTERVAL", "", defaultReconcileEvery); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = getDuration(env, "SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration(env, "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.MetricsQueue {
	case QueueMemory:
	case QueueRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("METRICS_QUEUE=redis requires REDIS_URL")
		}
	case QueueRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("METRICS_QUEUE=rabbitmq requires RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("unknown METRICS_QUEUE %q", c.MetricsQueue)
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDevelopment reports whether missing Postgres and Redis may fall back to
// in-process backends.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getInt(env func(string) string, key string, fallback int) (int, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration reads a Go duration from durKey, or whole seconds from
// secondsKey when that is set. Seconds win when both are present.
func getDuration(env func(string) string, durKey, secondsKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := env(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := env(durKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
