// Package config loads service settings from the environment (and an optional
// .env file) and builds the process logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/advance-engine/advance"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env         string
	HTTPPort    int
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	Location    *time.Location

	CommissionRate decimal.Decimal
	TaxRate        decimal.Decimal

	GatewayLatency time.Duration
	GatewayTimeout time.Duration
	GatewayPrefix  string

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load reads .env (when present) and then the process environment.
// A missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	var err error

	cfg.Env = getEnv("APP_ENV", "development")
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite))
	cfg.SQLitePath = getEnv("SQLITE_PATH", "advance.db")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.GatewayPrefix = getEnv("GATEWAY_PREFIX", "TRF")

	if cfg.HTTPPort, err = strconv.Atoi(getEnv("HTTP_PORT", "8080")); err != nil {
		return Config{}, fmt.Errorf("HTTP_PORT: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(getEnv("TIMEZONE", "UTC")); err != nil {
		return Config{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	if cfg.CommissionRate, err = decimal.NewFromString(getEnv("COMMISSION_RATE", "0.05")); err != nil {
		return Config{}, fmt.Errorf("COMMISSION_RATE: %w", err)
	}
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0.18")); err != nil {
		return Config{}, fmt.Errorf("TAX_RATE: %w", err)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"GATEWAY_LATENCY", "500ms", &cfg.GatewayLatency},
		{"GATEWAY_TIMEOUT", "5s", &cfg.GatewayTimeout},
		{"BREAKER_OPEN_TIMEOUT", "30s", &cfg.BreakerOpenTimeout},
		{"RECONCILE_INTERVAL", "1m", &cfg.ReconcileInterval},
		{"RECONCILE_GRACE", "1m", &cfg.ReconcileGrace},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.def)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst < 0 {
			return Config{}, fmt.Errorf("%s: must not be negative", d.key)
		}
	}

	failures, err := strconv.ParseUint(getEnv("BREAKER_MAX_FAILURES", "5"), 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("BREAKER_MAX_FAILURES: %w", err)
	}
	cfg.BreakerMaxFailures = uint32(failures)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT: out of range: %d", c.HTTPPort)
	}
	if c.BreakerMaxFailures == 0 {
		return fmt.Errorf("BREAKER_MAX_FAILURES: must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT: must be positive")
	}
	// The reconciler must never see a row whose request is still in flight.
	if limit := advance.MaxProcessingTime(c.GatewayTimeout); c.ReconcileGrace <= limit {
		return fmt.Errorf("RECONCILE_GRACE: must exceed %s (GATEWAY_TIMEOUT plus finalize budget), got %s", limit, c.ReconcileGrace)
	}
	return nil
}

// IsDevelopment reports whether APP_ENV names a local or development setup.
func (c Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "local"
}

// NewLogger builds a JSON zap logger; debug level in development, info otherwise.
func (c Config) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Encoding = "json"
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "advance-engine"), zap.String("env", c.Env)), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
