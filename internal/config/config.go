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
	defaultAppName        = "AbacoPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultChargeTTL      = 24 * time.Hour
	defaultRateTimeout    = 5 * time.Second
	defaultSpread         = "0.07"
	defaultConvertPerMin  = 10
	defaultDBMaxConns     = 8
)

// Config captures application runtime configuration loaded from environment
// variables. It is passed explicitly at construction time; no component
// reads process-wide state on its own.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	DatabaseURL    string
	DBMaxConns     int32
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Ledger & reconciliation settings.
	WebhookSecret       string
	ChargeTTL           time.Duration
	ConversionSpread    decimal.Decimal
	RateAPIURL          string
	RateTimeout         time.Duration
	ConversionsPerMin   int
	ChargeSweepInterval time.Duration
}

// Load reads configuration values from the environment and populates a
// Config instance. Postgres and Redis URLs are required outside development;
// without them the service runs on in-memory backends.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		Env:                 strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBMaxConns:          defaultDBMaxConns,
		RedisURL:            os.Getenv("REDIS_URL"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RateAPIURL:          os.Getenv("RATE_API_URL"),
		ShutdownPeriod:      defaultShutdownDelay,
		IdempotencyTTL:      defaultIdempotencyTTL,
		ChargeTTL:           defaultChargeTTL,
		RateTimeout:         defaultRateTimeout,
		ConversionsPerMin:   defaultConvertPerMin,
		ChargeSweepInterval: time.Minute,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ChargeTTL, err = durationEnv("CHARGE_TTL", cfg.ChargeTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateTimeout, err = durationEnv("RATE_TIMEOUT", cfg.RateTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ChargeSweepInterval, err = durationEnv("CHARGE_SWEEP_INTERVAL", cfg.ChargeSweepInterval); err != nil {
		return Config{}, err
	}

	spread := getEnv("CONVERSION_SPREAD", defaultSpread)
	cfg.ConversionSpread, err = decimal.NewFromString(spread)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONVERSION_SPREAD: %w", err)
	}
	if cfg.ConversionSpread.IsNegative() || !cfg.ConversionSpread.LessThan(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("CONVERSION_SPREAD must be in [0, 1), got %s", spread)
	}

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNS %q", v)
		}
		cfg.DBMaxConns = int32(n)
	}

	if v := os.Getenv("CONVERSIONS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CONVERSIONS_PER_MINUTE: %w", err)
		}
		cfg.ConversionsPerMin = n
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.Env)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.Env)
		}
		if cfg.WebhookSecret == "" {
			return Config{}, fmt.Errorf("WEBHOOK_SECRET must be set when APP_ENV=%s", cfg.Env)
		}
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local":
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

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
